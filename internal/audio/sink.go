package audio

import (
	"fmt"
	"sync"
)

// Sink is a software playback queue drained by an output stream. The device
// fill callback only copies queued samples under the lock.
type Sink struct {
	stream Stream
	spec   Spec

	mu     sync.Mutex
	queue  []float32
	pos    int // samples played since the last Stop
	paused bool
}

// NewSink opens the default output device and attaches a paused sink to it.
func NewSink(host Host, onErr func(error)) (*Sink, error) {
	cfg, err := host.DefaultOutputConfig()
	if err != nil {
		return nil, fmt.Errorf("default output config: %w", err)
	}
	s := &Sink{spec: cfg.Spec(), paused: true}
	stream, err := host.BuildOutputStream(cfg, s.fill, onErr)
	if err != nil {
		return nil, fmt.Errorf("build output stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *Sink) fill(out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	if !s.paused {
		n = copy(out, s.queue)
		s.queue = s.queue[n:]
		s.pos += n
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// Spec returns the output layout samples are converted to.
func (s *Sink) Spec() Spec { return s.spec }

// Append queues a track and returns the number of sink samples it occupies.
func (s *Sink) Append(t *Track) int {
	samples := convertChannels(t.Samples, t.Spec.Channels, s.spec.Channels)
	s.mu.Lock()
	s.queue = append(s.queue, samples...)
	s.mu.Unlock()
	return len(samples)
}

// Play resumes draining the queue.
func (s *Sink) Play() error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	return s.stream.Play()
}

// Pause halts playback, keeping the queue and position.
func (s *Sink) Pause() error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return s.stream.Pause()
}

// Stop drops everything queued and resets the position.
func (s *Sink) Stop() {
	s.mu.Lock()
	s.queue = nil
	s.pos = 0
	s.mu.Unlock()
}

// Position returns the number of samples played since the last Stop.
func (s *Sink) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Queued returns the number of samples waiting to be played.
func (s *Sink) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Paused reports whether the sink is paused.
func (s *Sink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Close releases the output stream.
func (s *Sink) Close() error {
	return s.stream.Close()
}

// convertChannels maps interleaved samples between channel counts by
// duplicating or averaging. No resampling is done.
func convertChannels(in []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	frames := len(in) / from
	out := make([]float32, frames*to)
	for f := 0; f < frames; f++ {
		frame := in[f*from : (f+1)*from]
		if to < from {
			var sum float32
			for _, v := range frame {
				sum += v
			}
			avg := sum / float32(from)
			for c := 0; c < to; c++ {
				out[f*to+c] = avg
			}
			continue
		}
		for c := 0; c < to; c++ {
			out[f*to+c] = frame[c%from]
		}
	}
	return out
}
