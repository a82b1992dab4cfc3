package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// remoteTarget is the subset of S3Store the reconciler needs.
type remoteTarget interface {
	uploadTarget
	Exists(ctx context.Context, key string) bool
}

// UploadReconciler scans the local recording directory for files missing
// from S3 and re-uploads them. Handles dropped async uploads and crash
// recovery.
type UploadReconciler struct {
	dir      string
	s3       remoteTarget
	delay    time.Duration
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, s3 remoteTarget, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		delay:    2 * time.Minute,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }

func (r *UploadReconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *UploadReconciler) loop() {
	defer close(r.done)

	// Delay first run to let startup uploads settle
	select {
	case <-time.After(r.delay):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// reconcile uploads recordings modified within the window that S3 does not
// have. It returns the number uploaded and failed.
func (r *UploadReconciler) reconcile() (uploaded, failed int) {
	cutoff := time.Now().Add(-r.window)
	checked := 0

	files, _ := os.ReadDir(r.dir)
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".wav") {
			continue
		}
		if info, err := f.Info(); err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		checked++

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		exists := r.s3.Exists(ctx, name)
		cancel()
		if exists {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.s3.Save(ctx, name, data, wavContentType); err != nil {
			r.log.Warn().Err(err).Str("key", name).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		cancel()
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded, failed
}
