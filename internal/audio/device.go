package audio

import "errors"

// ErrNoDevice is returned when the host has no default device of the
// requested direction.
var ErrNoDevice = errors.New("audio: no default device available")

// StreamConfig describes a stream to open on a device.
type StreamConfig struct {
	Channels        int
	SampleRate      int
	FramesPerBuffer int // 0 lets the backend choose
}

// Spec returns the container spec matching samples captured with cfg.
func (c StreamConfig) Spec() Spec {
	return Spec{Channels: c.Channels, SampleRate: c.SampleRate}
}

// Stream is a running device stream. Streams are built paused.
type Stream interface {
	Play() error
	Pause() error
	Close() error
}

// Host is the audio subsystem. Capture and fill callbacks run on device
// threads: they must return quickly and must never block on I/O.
type Host interface {
	DefaultInputConfig() (StreamConfig, error)
	DefaultOutputConfig() (StreamConfig, error)

	// BuildInputStream opens the default input device. onData receives each
	// captured batch of interleaved samples; the slice is reused after return.
	BuildInputStream(cfg StreamConfig, onData func([]float32), onErr func(error)) (Stream, error)

	// BuildOutputStream opens the default output device. fill must write
	// len(out) interleaved samples.
	BuildOutputStream(cfg StreamConfig, fill func(out []float32), onErr func(error)) (Stream, error)
}
