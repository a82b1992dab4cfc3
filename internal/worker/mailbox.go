package worker

import (
	"errors"
	"sync"
)

var (
	// ErrDisconnected is returned when the other side of a mailbox is gone:
	// the worker exited (for senders) or the handle was closed (for receivers).
	ErrDisconnected = errors.New("worker: mailbox disconnected")

	// ErrEmpty is returned by a non-blocking receive when nothing is queued.
	ErrEmpty = errors.New("worker: mailbox empty")

	// ErrNoResponse is returned by TryResponse when the worker has not answered yet.
	ErrNoResponse = errors.New("worker: no response yet")
)

// mailbox is an unbounded FIFO queue. Sends never block, so a fire-and-forget
// trigger from an audio or HTTP goroutine cannot stall behind a busy worker.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{notify: make(chan struct{}, 1)}
}

func (m *mailbox[T]) send(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDisconnected
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// close disconnects the mailbox. Items already queued can still be received.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) tryRecv() (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.items) == 0 {
		if m.closed {
			return zero, ErrDisconnected
		}
		return zero, ErrEmpty
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	return v, nil
}

func (m *mailbox[T]) recv() (T, error) {
	for {
		v, err := m.tryRecv()
		if err != ErrEmpty {
			if err == nil && m.pending() > 0 {
				// Keep the wakeup alive for the next receive.
				select {
				case m.notify <- struct{}{}:
				default:
				}
			}
			return v, err
		}
		<-m.notify
	}
}

func (m *mailbox[T]) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Inbox is the receiving end of a worker's mailbox, handed to the work function.
type Inbox[C any] struct {
	mb *mailbox[C]
}

// Recv blocks until a command arrives. It returns ErrDisconnected once the
// handle is closed and every queued command has been received.
func (in *Inbox[C]) Recv() (C, error) { return in.mb.recv() }

// TryRecv returns the next command without blocking. It returns ErrEmpty when
// nothing is queued and ErrDisconnected when the handle is closed and drained.
func (in *Inbox[C]) TryRecv() (C, error) { return in.mb.tryRecv() }

// Len reports the number of queued commands.
func (in *Inbox[C]) Len() int { return in.mb.pending() }

// Outbox is the sending end of a responder worker's return channel.
type Outbox[R any] struct {
	mb *mailbox[R]
}

// Send queues a response for the handle owner.
func (out *Outbox[R]) Send(r R) error { return out.mb.send(r) }
