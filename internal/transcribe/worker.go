package transcribe

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/metrics"
	"github.com/snarg/memo-engine/internal/worker"
)

// Job is one captured speech window and the recording it labels.
type Job struct {
	ID      string
	Samples []float32
}

// QueueStats reports the current state of the transcription queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// EventPublishFunc is a callback for publishing SSE events.
type EventPublishFunc func(eventType string, payload map[string]any)

// Labeler stores a transcript as a recording's label, creating the
// recording if it does not exist yet.
type Labeler interface {
	SetLabel(id, label string) (catalog.Recording, error)
}

// WorkerOptions configures the transcription worker.
type WorkerOptions struct {
	Transcriber  Transcriber
	Labels       Labeler
	Prompt       string
	Timeout      time.Duration // per call; 0 means no deadline
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// Worker runs transcriptions one at a time on its own goroutine, so a slow
// backend never blocks the pipeline that enqueued the job.
type Worker struct {
	h    *worker.Handle[Job]
	opts WorkerOptions
	log  zerolog.Logger

	busy      atomic.Bool
	pending   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// NewWorker starts the transcription worker.
func NewWorker(opts WorkerOptions) *Worker {
	w := &Worker{
		opts: opts,
		log:  opts.Log,
	}
	w.h = worker.Setup(w, (*Worker).run)
	return w
}

// Enqueue queues a job without blocking. It fails with
// worker.ErrDisconnected once the worker has exited.
func (w *Worker) Enqueue(job Job) error {
	w.pending.Add(1)
	if err := w.h.Trigger(job); err != nil {
		w.pending.Add(-1)
		return err
	}
	return nil
}

// Busy reports whether a transcription call is in progress.
func (w *Worker) Busy() bool { return w.busy.Load() }

// Stats returns current queue statistics.
func (w *Worker) Stats() QueueStats {
	return QueueStats{
		Pending:   int(w.pending.Load()),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Skipped:   w.skipped.Load(),
	}
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.h.Done() }

// Err returns the panic that ended the worker, if any.
func (w *Worker) Err() error { return w.h.Err() }

// Close lets queued jobs finish, then stops the worker and waits for it.
func (w *Worker) Close() {
	w.h.Close()
	<-w.h.Done()
	w.log.Info().
		Int64("completed", w.completed.Load()).
		Int64("failed", w.failed.Load()).
		Msg("transcription worker stopped")
}

func (w *Worker) run(in *worker.Inbox[Job]) {
	for {
		job, err := in.Recv()
		if err != nil {
			return
		}
		w.pending.Add(-1)
		w.process(job)
	}
}

func (w *Worker) process(job Job) {
	if len(job.Samples) == 0 {
		w.skipped.Add(1)
		metrics.TranscriptionsTotal.WithLabelValues("skipped").Inc()
		w.log.Debug().Str("id", job.ID).Msg("empty buffer, skipping transcription")
		return
	}

	ctx := context.Background()
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := w.transcribe(ctx, job.Samples)
	elapsed := time.Since(start)
	metrics.TranscriptionDuration.Observe(elapsed.Seconds())

	if err != nil {
		w.fail(job, err, "transcription failed")
		return
	}

	text = strings.TrimSpace(text)
	rec, err := w.opts.Labels.SetLabel(job.ID, text)
	if err != nil {
		w.fail(job, err, "failed to store transcript")
		return
	}
	w.completed.Add(1)
	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()

	if w.opts.PublishEvent != nil {
		w.opts.PublishEvent("transcription", map[string]any{
			"id":          rec.ID,
			"label":       text,
			"samples":     len(job.Samples),
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	w.log.Debug().
		Str("id", job.ID).
		Int("samples", len(job.Samples)).
		Int("words", len(strings.Fields(text))).
		Dur("took", elapsed).
		Msg("transcription complete")
}

// transcribe holds the busy status for the duration of the backend call.
func (w *Worker) transcribe(ctx context.Context, samples []float32) (string, error) {
	w.busy.Store(true)
	defer w.busy.Store(false)
	return w.opts.Transcriber.Transcribe(ctx, samples, w.opts.Prompt)
}

func (w *Worker) fail(job Job, err error, msg string) {
	w.failed.Add(1)
	metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()
	w.log.Warn().Err(err).Str("id", job.ID).Int("samples", len(job.Samples)).Msg(msg)
}
