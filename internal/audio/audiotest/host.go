// Package audiotest provides an in-memory audio host for pipeline tests.
// Captured samples are pushed with Feed and output is pulled with Pull, so
// tests drive the "device threads" explicitly.
package audiotest

import (
	"errors"
	"sync"

	"github.com/snarg/memo-engine/internal/audio"
)

// Host is a fake audio.Host. Input streams built from it are tracked in build
// order so tests can feed a specific pipeline's stream.
type Host struct {
	InputConfig  audio.StreamConfig
	OutputConfig audio.StreamConfig

	// FailInput / FailOutput make the corresponding Build call fail.
	FailInput  bool
	FailOutput bool

	mu      sync.Mutex
	inputs  []*Input
	outputs []*Output
}

// NewHost returns a host with 48 kHz stereo defaults.
func NewHost() *Host {
	return &Host{
		InputConfig:  audio.StreamConfig{Channels: 2, SampleRate: 48000},
		OutputConfig: audio.StreamConfig{Channels: 2, SampleRate: 48000},
	}
}

func (h *Host) DefaultInputConfig() (audio.StreamConfig, error) {
	return h.InputConfig, nil
}

func (h *Host) DefaultOutputConfig() (audio.StreamConfig, error) {
	return h.OutputConfig, nil
}

func (h *Host) BuildInputStream(cfg audio.StreamConfig, onData func([]float32), onErr func(error)) (audio.Stream, error) {
	if h.FailInput {
		return nil, errors.New("audiotest: input device unavailable")
	}
	in := &Input{Config: cfg, onData: onData, onErr: onErr}
	h.mu.Lock()
	h.inputs = append(h.inputs, in)
	h.mu.Unlock()
	return in, nil
}

func (h *Host) BuildOutputStream(cfg audio.StreamConfig, fill func([]float32), onErr func(error)) (audio.Stream, error) {
	if h.FailOutput {
		return nil, errors.New("audiotest: output device unavailable")
	}
	out := &Output{Config: cfg, fill: fill}
	h.mu.Lock()
	h.outputs = append(h.outputs, out)
	h.mu.Unlock()
	return out, nil
}

// Input returns the i-th input stream built, or nil.
func (h *Host) Input(i int) *Input {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.inputs) {
		return nil
	}
	return h.inputs[i]
}

// Output returns the i-th output stream built, or nil.
func (h *Host) Output(i int) *Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.outputs) {
		return nil
	}
	return h.outputs[i]
}

// state tracks play/pause/close on a fake stream.
type state struct {
	mu       sync.Mutex
	playing  bool
	closed   bool
	failPlay bool
	plays    int
	pauses   int
}

func (s *state) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audiotest: stream closed")
	}
	if s.failPlay {
		return errors.New("audiotest: device failed to start")
	}
	s.playing = true
	s.plays++
	return nil
}

func (s *state) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("audiotest: stream closed")
	}
	s.playing = false
	s.pauses++
	return nil
}

func (s *state) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.playing = false
	return nil
}

// SetFailPlay makes subsequent Play calls fail until cleared.
func (s *state) SetFailPlay(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPlay = fail
}

// Closed reports whether Close has been called.
func (s *state) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Playing reports whether the stream is running.
func (s *state) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Plays returns how many times Play was called.
func (s *state) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

// Pauses returns how many times Pause was called.
func (s *state) Pauses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses
}

// Input is a fake capture stream.
type Input struct {
	state
	Config audio.StreamConfig

	onData func([]float32)
	onErr  func(error)
}

// Feed delivers one captured batch if the stream is playing, like a device
// callback. It reports whether the batch was delivered.
func (in *Input) Feed(samples []float32) bool {
	if !in.Playing() {
		return false
	}
	batch := make([]float32, len(samples))
	copy(batch, samples)
	in.onData(batch)
	return true
}

// Fail reports a stream error through the error callback.
func (in *Input) Fail(err error) {
	if in.onErr != nil {
		in.onErr(err)
	}
}

// Output is a fake playback stream.
type Output struct {
	state
	Config audio.StreamConfig

	fill func([]float32)
}

// Pull asks the sink for n samples, like a device callback would.
func (o *Output) Pull(n int) []float32 {
	out := make([]float32, n)
	o.fill(out)
	return out
}
