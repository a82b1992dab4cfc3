package pipeline

import "sync"

// Buffer accumulates captured samples. It is shared between a pipeline's
// control goroutine and the device capture callback, which only appends.
// A Buffer with Cap 0 grows without bound.
type Buffer struct {
	mu      sync.Mutex
	samples []float32
	cap     int
	dropped int64
}

// NewBuffer returns a buffer holding at most capacity samples (0 = unbounded).
func NewBuffer(capacity int) *Buffer {
	b := &Buffer{cap: capacity}
	if capacity > 0 {
		b.samples = make([]float32, 0, capacity)
	}
	return b
}

// Append adds samples, truncating the batch to the remaining room. It
// returns the number of samples dropped.
func (b *Buffer) Append(batch []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(batch)
	if b.cap > 0 {
		if room := b.cap - len(b.samples); n > room {
			n = room
		}
	}
	b.samples = append(b.samples, batch[:n]...)
	dropped := len(batch) - n
	b.dropped += int64(dropped)
	return dropped
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Full reports whether a bounded buffer has reached capacity.
func (b *Buffer) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap > 0 && len(b.samples) >= b.cap
}

// Take returns the buffered samples and leaves the buffer empty.
func (b *Buffer) Take() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	if b.cap > 0 {
		b.samples = make([]float32, 0, b.cap)
	} else {
		b.samples = nil
	}
	return out
}

// Reset discards the buffered samples.
func (b *Buffer) Reset() {
	b.Take()
}

// Dropped returns the total number of samples dropped since creation.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
