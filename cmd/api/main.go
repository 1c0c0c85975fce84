package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"resonate/api/internal/app"
	"resonate/api/internal/artwork"
	"resonate/api/internal/config"
	"resonate/api/internal/logging"
	"resonate/api/internal/resolver"
	"resonate/api/internal/search"
	"resonate/api/internal/store"
	"resonate/api/internal/users"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "resonate-api"})
	ctx := context.Background()

	db, err := users.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := users.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	roomStore, err := store.Open(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer roomStore.Close()

	userStore := users.NewStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	mirror, err := artwork.New(ctx, artwork.Config{
		Endpoint:  cfg.ArtworkEndpoint,
		AccessKey: cfg.ArtworkAccessKey,
		SecretKey: cfg.ArtworkSecretKey,
		Bucket:    cfg.ArtworkBucket,
		UseSSL:    cfg.ArtworkUseSSL,
	})
	if err != nil {
		log.Fatalf("artwork mirror setup failed: %v", err)
	}
	if mirror != nil {
		log.Printf("Mirroring artwork to %s/%s", cfg.ArtworkEndpoint, cfg.ArtworkBucket)
	}

	audio := resolver.New(cfg.ResolverTool, cfg.ResolverAttempts, cfg.ResolverBaseDelay, resolver.NewNegativeCache())

	service := app.New(cfg, roomStore, userStore, audio, searchService, mirror)

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go app.NewJanitor(roomStore, cfg).Run(janitorCtx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Resonate API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopJanitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
