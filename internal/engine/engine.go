// Package engine wires the recorder, player and speech-to-text pipelines
// around a shared catalog and exposes the operations callers invoke.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/memo-engine/internal/audio"
	"github.com/snarg/memo-engine/internal/catalog"
	"github.com/snarg/memo-engine/internal/listener"
	"github.com/snarg/memo-engine/internal/player"
	"github.com/snarg/memo-engine/internal/recorder"
	"github.com/snarg/memo-engine/internal/storage"
	"github.com/snarg/memo-engine/internal/transcribe"
)

// ErrEmptyID is returned by player operations called without an id.
var ErrEmptyID = errors.New("recording id is required")

// Options configures an Engine. Host, Catalog, Recordings and Transcriber
// are required.
type Options struct {
	Host        audio.Host
	Catalog     *catalog.Catalog
	Recordings  *storage.Recordings
	Transcriber transcribe.Transcriber

	Prompt            string
	TranscribeTimeout time.Duration
	WriteTimeout      time.Duration

	STTSampleRate   int
	STTMaxSeconds   int
	STTPollInterval time.Duration

	// PublishEvent receives transcription events.
	PublishEvent transcribe.EventPublishFunc

	// OnError receives failures reported by any pipeline, tagged with the
	// pipeline name.
	OnError func(pipeline, id string, err error)

	// NewID generates session ids; defaults to random UUIDs.
	NewID func() string

	Log zerolog.Logger
}

// PollState is the snapshot returned to polling callers.
type PollState struct {
	IsTranscribing bool                `json:"is_transcribing"`
	AudioItems     []catalog.Recording `json:"audio_items"`
}

// Engine owns the three pipelines.
type Engine struct {
	cat      *catalog.Catalog
	recorder *recorder.Recorder
	player   *player.Player
	listener *listener.Listener
	newID    func() string
	log      zerolog.Logger
}

// New builds the pipelines in a fixed order: recorder capture stream,
// listener capture stream, player output stream. A device failure closes
// whatever was already built.
func New(opts Options) (*Engine, error) {
	if opts.Host == nil || opts.Catalog == nil || opts.Recordings == nil || opts.Transcriber == nil {
		return nil, errors.New("engine: host, catalog, recordings and transcriber are required")
	}
	log := opts.Log
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	hook := func(name string) func(id string, err error) {
		return func(id string, err error) {
			if opts.OnError != nil {
				opts.OnError(name, id, err)
			}
		}
	}

	rec, err := recorder.New(recorder.Options{
		Host:         opts.Host,
		Catalog:      opts.Catalog,
		Recordings:   opts.Recordings,
		WriteTimeout: opts.WriteTimeout,
		OnError:      hook("recorder"),
		Log:          log.With().Str("component", "recorder").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	lis, err := listener.New(listener.Options{
		Host:         opts.Host,
		SampleRate:   opts.STTSampleRate,
		MaxSeconds:   opts.STTMaxSeconds,
		PollInterval: opts.STTPollInterval,
		Transcription: transcribe.WorkerOptions{
			Transcriber:  opts.Transcriber,
			Labels:       opts.Catalog,
			Prompt:       opts.Prompt,
			Timeout:      opts.TranscribeTimeout,
			PublishEvent: opts.PublishEvent,
			Log:          log.With().Str("component", "transcribe").Logger(),
		},
		OnError: hook("listener"),
		Log:     log.With().Str("component", "listener").Logger(),
	})
	if err != nil {
		rec.Close()
		return nil, fmt.Errorf("listener: %w", err)
	}

	pl, err := player.New(player.Options{
		Host:       opts.Host,
		Catalog:    opts.Catalog,
		Recordings: opts.Recordings,
		OnError:    hook("player"),
		Log:        log.With().Str("component", "player").Logger(),
	})
	if err != nil {
		lis.Close()
		rec.Close()
		return nil, fmt.Errorf("player: %w", err)
	}

	return &Engine{
		cat:      opts.Catalog,
		recorder: rec,
		player:   pl,
		listener: lis,
		newID:    newID,
		log:      log,
	}, nil
}

// RecordStart starts a new capture session on the recorder and the
// listener and returns its id. If the listener cannot take the session the
// recorder is paused again, so its capture is stored under id but the call
// still fails.
func (e *Engine) RecordStart() (string, error) {
	id := e.newID()
	if err := e.recorder.Play(id); err != nil {
		return "", fmt.Errorf("recorder: %w", err)
	}
	if err := e.listener.Play(id); err != nil {
		if perr := e.recorder.Pause(); perr != nil {
			e.log.Error().Err(perr).Str("id", id).Msg("failed to pause recorder after listener failure")
		}
		return "", fmt.Errorf("listener: %w", err)
	}
	e.log.Info().Str("id", id).Msg("recording started")
	return id, nil
}

// RecordPause ends the current capture session.
func (e *Engine) RecordPause() error {
	if err := e.recorder.Pause(); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if err := e.listener.Pause(); err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	return nil
}

// PlayerStart plays or resumes id.
func (e *Engine) PlayerStart(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return e.player.Play(id)
}

// PlayerPause pauses playback and marks id as not playing.
func (e *Engine) PlayerPause(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return e.player.Pause(id)
}

// Poll returns the catalog contents and whether a transcription is running.
func (e *Engine) Poll() (PollState, error) {
	items, err := e.cat.Items()
	if err != nil {
		return PollState{}, err
	}
	if items == nil {
		items = []catalog.Recording{}
	}
	return PollState{
		IsTranscribing: e.listener.Busy(),
		AudioItems:     items,
	}, nil
}

// Health reports each pipeline's failure, nil for a healthy pipeline.
func (e *Engine) Health() map[string]error {
	return map[string]error{
		"recorder": e.recorder.Err(),
		"player":   e.player.Err(),
		"listener": e.listener.Err(),
	}
}

// Transcribing reports whether a transcription call is in progress.
func (e *Engine) Transcribing() bool { return e.listener.Busy() }

// TranscriptionsPending returns the number of queued transcription jobs.
func (e *Engine) TranscriptionsPending() int { return e.listener.Stats().Pending }

// CatalogSize returns the number of recordings, or 0 if the catalog is gone.
func (e *Engine) CatalogSize() int {
	n, err := e.cat.Len()
	if err != nil {
		return 0
	}
	return n
}

// Close stops all pipelines. Queued commands and transcriptions finish
// first.
func (e *Engine) Close() {
	e.recorder.Close()
	e.listener.Close()
	e.player.Close()
	e.log.Info().Msg("engine stopped")
}
