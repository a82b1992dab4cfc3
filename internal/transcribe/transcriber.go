// Package transcribe turns captured speech into catalog labels. Backends
// implement Transcriber; Worker serializes calls onto one goroutine.
package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/snarg/memo-engine/internal/audio"
)

// Transcriber converts mono samples to text. Calls block until the backend
// answers; at most one call runs at a time per Worker.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, prompt string) (string, error)
}

// BackendOptions selects and configures a Transcriber backend.
type BackendOptions struct {
	Provider   string // "whisper" or "elevenlabs"
	SampleRate int

	WhisperURL   string
	WhisperModel string
	Language     string

	ElevenLabsAPIKey   string
	ElevenLabsModel    string
	ElevenLabsKeyterms string

	Timeout time.Duration
}

// NewBackend returns the configured Transcriber.
func NewBackend(opts BackendOptions) (Transcriber, error) {
	spec := audio.Spec{Channels: 1, SampleRate: opts.SampleRate}
	switch opts.Provider {
	case "", "whisper":
		if opts.WhisperURL == "" {
			return nil, fmt.Errorf("whisper provider requires WHISPER_URL")
		}
		return NewWhisperClient(opts.WhisperURL, opts.WhisperModel, opts.Language, spec, opts.Timeout), nil
	case "elevenlabs":
		if opts.ElevenLabsAPIKey == "" {
			return nil, fmt.Errorf("elevenlabs provider requires ELEVENLABS_API_KEY")
		}
		return NewElevenLabsClient(opts.ElevenLabsAPIKey, opts.ElevenLabsModel, opts.ElevenLabsKeyterms, opts.Language, spec, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", opts.Provider)
	}
}

// Func adapts a plain function to Transcriber.
type Func func(ctx context.Context, samples []float32, prompt string) (string, error)

func (f Func) Transcribe(ctx context.Context, samples []float32, prompt string) (string, error) {
	return f(ctx, samples, prompt)
}
