// Package recorder captures the default input device into a growable buffer
// and, on Pause, stores the capture and registers it in the catalog.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/audio"
	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/metrics"
	"github.com/snarg/memo-engine/internal/pipeline"
	"github.com/snarg/memo-engine/internal/worker"
)

// Writer stores encoded captures.
type Writer interface {
	Write(ctx context.Context, id string, samples []float32, spec audio.Spec) (string, error)
}

// Saver registers a stored capture.
type Saver interface {
	SaveRecording(id, location string) (catalog.Recording, error)
}

// Options configures a Recorder.
type Options struct {
	Host       audio.Host
	Catalog    Saver
	Recordings Writer

	// WriteTimeout bounds one storage write; 0 means no deadline.
	WriteTimeout time.Duration

	// OnError receives device start, storage and catalog failures. It runs on the
	// recorder goroutine.
	OnError func(id string, err error)

	Log zerolog.Logger
}

// Recorder is the handle to the capture pipeline.
type Recorder struct {
	h      *worker.Handle[pipeline.Command]
	stream audio.Stream
	log    zerolog.Logger
}

type state struct {
	opts   Options
	stream audio.Stream
	spec   audio.Spec
	buf    *pipeline.Buffer
	log    zerolog.Logger

	inFlight string
	active   bool
}

// New opens the default input device and starts the recorder goroutine.
// The stream starts paused.
func New(opts Options) (*Recorder, error) {
	cfg, err := opts.Host.DefaultInputConfig()
	if err != nil {
		return nil, fmt.Errorf("default input config: %w", err)
	}

	log := opts.Log
	buf := pipeline.NewBuffer(0)
	stream, err := opts.Host.BuildInputStream(cfg,
		func(samples []float32) { buf.Append(samples) },
		func(err error) { log.Error().Err(err).Msg("input stream error") },
	)
	if err != nil {
		return nil, fmt.Errorf("build input stream: %w", err)
	}

	st := &state{
		opts:   opts,
		stream: stream,
		spec:   cfg.Spec(),
		buf:    buf,
		log:    log,
	}
	log.Info().
		Int("channels", cfg.Channels).
		Int("sample_rate", cfg.SampleRate).
		Msg("recorder ready")

	return &Recorder{
		h:      worker.Setup(st, run),
		stream: stream,
		log:    log,
	}, nil
}

// Trigger queues a command for the recorder.
func (r *Recorder) Trigger(cmd pipeline.Command) error {
	return r.h.Trigger(cmd)
}

// Play starts capturing for id.
func (r *Recorder) Play(id string) error {
	return r.h.Trigger(pipeline.Play(id))
}

// Pause stops capturing and stores what was captured.
func (r *Recorder) Pause() error {
	return r.h.Trigger(pipeline.PauseAll())
}

// Done is closed when the recorder goroutine has exited.
func (r *Recorder) Done() <-chan struct{} { return r.h.Done() }

// Err returns the panic that ended the recorder, if any.
func (r *Recorder) Err() error { return r.h.Err() }

// Close serves queued commands, stops the goroutine and releases the device.
func (r *Recorder) Close() {
	r.h.Close()
	<-r.h.Done()
	if err := r.stream.Close(); err != nil {
		r.log.Warn().Err(err).Msg("failed to close input stream")
	}
}

func run(st *state, in *worker.Inbox[pipeline.Command]) {
	for {
		cmd, err := in.Recv()
		if err != nil {
			return
		}
		switch cmd.Kind {
		case pipeline.KindPlay:
			st.play(cmd.ID)
		case pipeline.KindPause:
			st.pause()
		}
	}
}

// play starts the stream for id. A session only begins once the device is
// running, so a failed start leaves nothing for Pause to store.
func (st *state) play(id string) {
	if err := st.stream.Play(); err != nil {
		st.log.Error().Err(err).Str("id", id).Msg("failed to start input stream")
		if st.opts.OnError != nil {
			st.opts.OnError(id, fmt.Errorf("start input stream: %w", err))
		}
		return
	}
	if st.active && st.inFlight != id {
		st.log.Warn().Str("id", id).Str("previous", st.inFlight).Msg("play while recording, continuing under new id")
	}
	st.inFlight = id
	st.active = true
	st.log.Debug().Str("id", id).Msg("recording")
}

func (st *state) pause() {
	if !st.active {
		return
	}
	if err := st.stream.Pause(); err != nil {
		st.log.Error().Err(err).Msg("failed to pause input stream")
	}

	id := st.inFlight
	samples := st.buf.Take()
	st.inFlight = ""
	st.active = false

	if err := st.flush(id, samples); err != nil {
		metrics.RecordingsSavedTotal.WithLabelValues("failed").Inc()
		st.log.Error().Err(err).Str("id", id).Int("samples", len(samples)).Msg("failed to save recording")
		if st.opts.OnError != nil {
			st.opts.OnError(id, err)
		}
		return
	}
	metrics.RecordingsSavedTotal.WithLabelValues("ok").Inc()
	metrics.RecordedSamplesTotal.Add(float64(len(samples)))
	st.log.Info().
		Str("id", id).
		Int("samples", len(samples)).
		Dur("length", (&audio.Track{Spec: st.spec, Samples: samples}).Duration()).
		Msg("recording saved")
}

func (st *state) flush(id string, samples []float32) error {
	ctx := context.Background()
	if st.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.opts.WriteTimeout)
		defer cancel()
	}

	location, err := st.opts.Recordings.Write(ctx, id, samples, st.spec)
	if err != nil {
		return err
	}
	if _, err := st.opts.Catalog.SaveRecording(id, location); err != nil {
		return fmt.Errorf("catalog %s: %w", id, err)
	}
	return nil
}
