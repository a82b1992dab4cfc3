package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/config"
)

// ErrNotFound is returned by Open when no backend holds the key.
var ErrNotFound = errors.New("storage: recording not found")

// AudioStore abstracts recording storage backends.
type AudioStore interface {
	// Save stores audio data under key ("<id>.wav").
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Location returns where key lives: a filesystem path for local
	// backends, an object URI for S3.
	Location(key string) string

	// Open returns a reader for the audio file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an audio file exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// New creates an AudioStore based on config. Returns the store and optional
// background services (the async uploader and its reconciler) that the caller must Start/Stop.
// Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (AudioStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		return NewLocalStore(audioDir), nil, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + async S3 backup
	uploader := NewAsyncUploader(s3store, cfg.UploadQueue, cfg.UploadWorkers, log)
	reconciler := NewUploadReconciler(audioDir, s3store, log)
	tiered := NewTieredStore(s3store, NewLocalStore(audioDir), uploader, log)
	return tiered, []BackgroundService{uploader, reconciler}, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
