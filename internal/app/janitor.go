package app

import (
	"context"
	"log"
	"time"

	"resonate/api/internal/config"
)

type janitorStore interface {
	SweepAllMessages(ctx context.Context, maxAge time.Duration) (int64, error)
	ReapPresence(ctx context.Context, window time.Duration) error
}

// Janitor owns the periodic cleanup work: expiring old chat messages and
// evicting members whose heartbeats stopped. Clients never delete anything
// themselves; the sweeps here are the only place retention is enforced.
type Janitor struct {
	store janitorStore
	cfg   config.Config
}

func NewJanitor(store janitorStore, cfg config.Config) *Janitor {
	return &Janitor{store: store, cfg: cfg}
}

// Run blocks until ctx is canceled, firing both sweeps on their intervals.
func (j *Janitor) Run(ctx context.Context) {
	chatTicker := time.NewTicker(j.cfg.ChatSweepEvery)
	presenceTicker := time.NewTicker(j.cfg.PresenceReapEvery)
	defer chatTicker.Stop()
	defer presenceTicker.Stop()

	log.Printf("janitor: chat sweep every %s (retention %s), presence reap every %s (window %s)",
		j.cfg.ChatSweepEvery, j.cfg.ChatRetention, j.cfg.PresenceReapEvery, j.cfg.LivenessWindow)

	for {
		select {
		case <-ctx.Done():
			log.Printf("janitor: stopping")
			return
		case <-chatTicker.C:
			j.sweepChat(ctx)
		case <-presenceTicker.C:
			j.reapPresence(ctx)
		}
	}
}

func (j *Janitor) sweepChat(ctx context.Context) {
	removed, err := j.store.SweepAllMessages(ctx, j.cfg.ChatRetention)
	if err != nil {
		log.Printf("janitor: chat sweep: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("janitor: swept %d expired chat messages", removed)
	}
}

func (j *Janitor) reapPresence(ctx context.Context) {
	if err := j.store.ReapPresence(ctx, j.cfg.LivenessWindow); err != nil {
		log.Printf("janitor: presence reap: %v", err)
	}
}
