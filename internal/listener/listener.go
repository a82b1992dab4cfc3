// Package listener captures a bounded speech window on a dedicated input
// stream and hands it to a transcription worker when the window fills or
// the caller pauses.
package listener

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/audio"
	"github.com/snarg/memo-engine/internal/metrics"
	"github.com/snarg/memo-engine/internal/pipeline"
	"github.com/snarg/memo-engine/internal/transcribe"
	"github.com/snarg/memo-engine/internal/worker"
)

const (
	DefaultSampleRate   = 16000
	DefaultMaxSeconds   = 5
	DefaultPollInterval = 10 * time.Millisecond
)

// Options configures a Listener.
type Options struct {
	Host audio.Host

	SampleRate   int           // capture rate required by the transcriber
	MaxSeconds   int           // capture window length
	PollInterval time.Duration // control loop poll period

	// Transcription configures the nested worker.
	Transcription transcribe.WorkerOptions

	// OnError receives hand-off failures, including the transcription
	// worker exiting. It runs on the listener goroutine.
	OnError func(id string, err error)

	Log zerolog.Logger
}

// Listener is the handle to the speech-to-text capture pipeline.
type Listener struct {
	h      *worker.Handle[pipeline.Command]
	child  *transcribe.Worker
	stream audio.Stream
	buf    *pipeline.Buffer
	log    zerolog.Logger

	capacity int

	mu       sync.Mutex
	childErr error
}

type phase int

const (
	idle phase = iota
	listening
	flushed // window handed off; waiting for Pause or the next Play
)

type state struct {
	l        *Listener
	opts     Options
	poll     time.Duration
	inFlight string
	phase    phase
	reported bool
}

// New opens the dedicated capture stream and starts the listener and its
// transcription worker.
func New(opts Options) (*Listener, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = DefaultMaxSeconds
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	log := opts.Log

	capacity := opts.SampleRate * opts.MaxSeconds
	buf := pipeline.NewBuffer(capacity)
	cfg := audio.StreamConfig{Channels: 1, SampleRate: opts.SampleRate}
	stream, err := opts.Host.BuildInputStream(cfg,
		func(samples []float32) {
			if dropped := buf.Append(samples); dropped > 0 {
				metrics.STTSamplesDroppedTotal.Add(float64(dropped))
			}
		},
		func(err error) { log.Error().Err(err).Msg("stt input stream error") },
	)
	if err != nil {
		return nil, fmt.Errorf("build stt input stream: %w", err)
	}

	l := &Listener{
		child:    transcribe.NewWorker(opts.Transcription),
		stream:   stream,
		buf:      buf,
		capacity: capacity,
		log:      log,
	}
	l.h = worker.Setup(&state{l: l, opts: opts, poll: opts.PollInterval}, run)

	log.Info().
		Int("sample_rate", opts.SampleRate).
		Int("capacity", capacity).
		Msg("stt listener ready")
	return l, nil
}

// Trigger queues a command for the listener.
func (l *Listener) Trigger(cmd pipeline.Command) error {
	return l.h.Trigger(cmd)
}

// Play starts a new capture window for id.
func (l *Listener) Play(id string) error {
	return l.h.Trigger(pipeline.Play(id))
}

// Pause ends the capture window and transcribes it.
func (l *Listener) Pause() error {
	return l.h.Trigger(pipeline.PauseAll())
}

// Busy reports whether a transcription call is in progress.
func (l *Listener) Busy() bool { return l.child.Busy() }

// Stats returns the transcription queue statistics.
func (l *Listener) Stats() transcribe.QueueStats { return l.child.Stats() }

// Capacity returns the capture window in samples.
func (l *Listener) Capacity() int { return l.capacity }

// Done is closed when the listener goroutine has exited.
func (l *Listener) Done() <-chan struct{} { return l.h.Done() }

// Err reports why the pipeline stopped working: a panic in the listener
// itself or the exit of its transcription worker.
func (l *Listener) Err() error {
	if err := l.h.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.childErr
}

// Close stops capture, lets queued transcriptions finish and releases the
// device.
func (l *Listener) Close() {
	l.h.Close()
	<-l.h.Done()
	l.child.Close()
	if err := l.stream.Close(); err != nil {
		l.log.Warn().Err(err).Msg("failed to close stt input stream")
	}
}

func run(st *state, in *worker.Inbox[pipeline.Command]) {
	for {
		cmd, err := in.TryRecv()
		switch {
		case err == nil:
			st.handle(cmd)
			continue // drain queued commands before sleeping
		case errors.Is(err, worker.ErrDisconnected):
			return
		}

		if st.phase == listening && st.l.buf.Full() {
			st.log().Debug().Str("id", st.inFlight).Msg("capture window full")
			st.flush()
		}
		st.supervise()
		time.Sleep(st.poll)
	}
}

func (st *state) log() *zerolog.Logger { return &st.l.log }

func (st *state) handle(cmd pipeline.Command) {
	switch cmd.Kind {
	case pipeline.KindPlay:
		st.inFlight = cmd.ID
		st.l.buf.Reset()
		st.phase = listening
		if err := st.l.stream.Play(); err != nil {
			st.log().Error().Err(err).Str("id", cmd.ID).Msg("failed to start stt input stream")
			return
		}
		st.log().Debug().Str("id", cmd.ID).Msg("listening")

	case pipeline.KindPause:
		switch st.phase {
		case idle:
			return
		case listening:
			st.flush()
		}
		st.phase = idle
		st.inFlight = ""
	}
}

// flush hands the window to the transcription worker. It runs at most once
// per Play.
func (st *state) flush() {
	st.phase = flushed
	if err := st.l.stream.Pause(); err != nil {
		st.log().Error().Err(err).Msg("failed to pause stt input stream")
	}
	samples := st.l.buf.Take()

	job := transcribe.Job{ID: st.inFlight, Samples: samples}
	if err := st.l.child.Enqueue(job); err != nil {
		st.log().Error().Err(err).Str("id", job.ID).Msg("transcription worker gone, dropping window")
		st.report(job.ID, err)
		return
	}
	st.log().Debug().Str("id", job.ID).Int("samples", len(samples)).Msg("window queued for transcription")
}

// supervise notices the transcription worker exiting, once.
func (st *state) supervise() {
	if st.reported {
		return
	}
	select {
	case <-st.l.child.Done():
	default:
		return
	}
	st.reported = true

	err := st.l.child.Err()
	if err == nil {
		err = worker.ErrDisconnected
	}
	err = fmt.Errorf("transcription worker exited: %w", err)
	st.l.mu.Lock()
	st.l.childErr = err
	st.l.mu.Unlock()

	st.log().Error().Err(err).Msg("stt pipeline lost its transcription worker")
	st.report(st.inFlight, err)
}

func (st *state) report(id string, err error) {
	if st.opts.OnError != nil {
		st.opts.OnError(id, err)
	}
}
