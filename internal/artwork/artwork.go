// Package artwork mirrors track thumbnails into an S3-compatible bucket so
// rooms keep their artwork even after the upstream CDN expires the image.
package artwork

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	fetchTimeout = 10 * time.Second
	maxImageSize = 5 << 20 // 5 MiB
)

// Mirror copies remote thumbnails into object storage. A nil *Mirror is a
// valid no-op, used when no endpoint is configured.
type Mirror struct {
	client *minio.Client
	bucket string
	http   *http.Client
}

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New connects to the object store and ensures the bucket exists.
// Returns (nil, nil) when no endpoint is configured.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artwork: connect %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("artwork: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("artwork: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		http:   &http.Client{Timeout: fetchTimeout},
	}, nil
}

// objectKey derives a stable key from the thumbnail URL so repeated mirrors
// of the same image overwrite rather than accumulate.
func objectKey(thumbnailURL string) string {
	sum := sha256.Sum256([]byte(thumbnailURL))
	return "thumbnails/" + hex.EncodeToString(sum[:16])
}

// MirrorAsync fetches and stores a thumbnail in the background. Failures are
// logged and otherwise ignored; artwork is cosmetic.
func (m *Mirror) MirrorAsync(thumbnailURL string) {
	if m == nil || strings.TrimSpace(thumbnailURL) == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.mirror(ctx, thumbnailURL); err != nil {
			log.Printf("artwork: mirror %s: %v", thumbnailURL, err)
		}
	}()
}

func (m *Mirror) mirror(ctx context.Context, thumbnailURL string) error {
	u, err := url.Parse(thumbnailURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("bad thumbnail url")
	}

	key := objectKey(thumbnailURL)
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err == nil {
		return nil // already mirrored
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbnailURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch returned %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("not an image: %s", contentType)
	}

	body := io.LimitReader(resp.Body, maxImageSize)
	_, err = m.client.PutObject(ctx, m.bucket, key, body, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// PresignedURL returns a temporary link to a mirrored thumbnail, or "" when
// the mirror is disabled or the object is missing.
func (m *Mirror) PresignedURL(ctx context.Context, thumbnailURL string, expiry time.Duration) string {
	if m == nil || thumbnailURL == "" {
		return ""
	}
	key := objectKey(thumbnailURL)
	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		return ""
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		log.Printf("artwork: presign %s: %v", key, err)
		return ""
	}
	return u.String()
}
