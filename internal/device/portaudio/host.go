// Package portaudio implements audio.Host on top of PortAudio.
package portaudio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/snarg/memo-engine/internal/audio"
)

const maxChannels = 2

// Host owns the PortAudio library for its lifetime.
type Host struct{}

// Open initializes PortAudio. Close must be called once all streams are
// closed.
func Open() (*Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return &Host{}, nil
}

// Close terminates PortAudio.
func (h *Host) Close() error {
	return portaudio.Terminate()
}

func (h *Host) DefaultInputConfig() (audio.StreamConfig, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.MaxInputChannels == 0 {
		return audio.StreamConfig{}, audio.ErrNoDevice
	}
	return audio.StreamConfig{
		Channels:   min(dev.MaxInputChannels, maxChannels),
		SampleRate: int(dev.DefaultSampleRate),
	}, nil
}

func (h *Host) DefaultOutputConfig() (audio.StreamConfig, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil || dev == nil || dev.MaxOutputChannels == 0 {
		return audio.StreamConfig{}, audio.ErrNoDevice
	}
	return audio.StreamConfig{
		Channels:   min(dev.MaxOutputChannels, maxChannels),
		SampleRate: int(dev.DefaultSampleRate),
	}, nil
}

// BuildInputStream opens the default input device. onErr also receives
// Play and Pause failures.
func (h *Host) BuildInputStream(cfg audio.StreamConfig, onData func([]float32), onErr func(error)) (audio.Stream, error) {
	s, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer,
		func(in []float32) { onData(in) })
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	return &stream{s: s, onErr: onErr}, nil
}

func (h *Host) BuildOutputStream(cfg audio.StreamConfig, fill func([]float32), onErr func(error)) (audio.Stream, error) {
	s, err := portaudio.OpenDefaultStream(0, cfg.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer,
		func(out []float32) { fill(out) })
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	return &stream{s: s, onErr: onErr}, nil
}

// stream makes Start and Stop idempotent; PortAudio rejects starting a
// running stream.
type stream struct {
	s     *portaudio.Stream
	onErr func(error)

	mu      sync.Mutex
	running bool
	closed  bool
}

func (st *stream) Play() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running || st.closed {
		return nil
	}
	if err := st.s.Start(); err != nil {
		return st.report(fmt.Errorf("start stream: %w", err))
	}
	st.running = true
	return nil
}

func (st *stream) Pause() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.running {
		return nil
	}
	st.running = false
	if err := st.s.Stop(); err != nil {
		return st.report(fmt.Errorf("stop stream: %w", err))
	}
	return nil
}

func (st *stream) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	if st.running {
		st.running = false
		_ = st.s.Stop()
	}
	return st.s.Close()
}

func (st *stream) report(err error) error {
	if st.onErr != nil {
		st.onErr(err)
	}
	return err
}
