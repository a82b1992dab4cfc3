// Package worker provides the background-actor primitive used by every
// pipeline: one goroutine owns a piece of private state and processes the
// commands sent to its mailbox one at a time, in send order.
package worker

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError records a panic raised by a work function.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker panicked: %v", e.Value)
}

// WorkFunc owns state for the lifetime of the worker and drains inbox.
// Returning ends the worker and disconnects its mailbox.
type WorkFunc[S, C any] func(state S, inbox *Inbox[C])

// ResponderWorkFunc is a WorkFunc that can also send responses back to the
// handle owner.
type ResponderWorkFunc[S, C, R any] func(state S, inbox *Inbox[C], out *Outbox[R])

// Handle is the fire-and-forget side of a worker.
type Handle[C any] struct {
	inbox *mailbox[C]
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// Setup spawns a goroutine that runs work with state and a fresh inbox.
func Setup[S, C any](state S, work WorkFunc[S, C]) *Handle[C] {
	h := &Handle[C]{
		inbox: newMailbox[C](),
		done:  make(chan struct{}),
	}
	go h.run(func(in *Inbox[C]) { work(state, in) })
	return h
}

func (h *Handle[C]) run(body func(*Inbox[C])) {
	defer close(h.done)
	defer h.inbox.close()
	defer func() {
		if rv := recover(); rv != nil {
			h.mu.Lock()
			h.err = &PanicError{Value: rv, Stack: debug.Stack()}
			h.mu.Unlock()
		}
	}()
	body(&Inbox[C]{mb: h.inbox})
}

// Trigger queues cmd without blocking. It returns ErrDisconnected once the
// worker has exited; callers should treat that as fatal for the pipeline.
func (h *Handle[C]) Trigger(cmd C) error {
	return h.inbox.send(cmd)
}

// Close disconnects the mailbox. The worker still receives the commands that
// were queued before Close, then sees ErrDisconnected.
func (h *Handle[C]) Close() {
	h.inbox.close()
}

// Done is closed when the work function has returned or panicked.
func (h *Handle[C]) Done() <-chan struct{} {
	return h.done
}

// Err returns the panic that ended the worker, if any.
func (h *Handle[C]) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Alive reports whether the worker goroutine is still running.
func (h *Handle[C]) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ResponderHandle is a Handle with a return channel for request/response use.
type ResponderHandle[C, R any] struct {
	*Handle[C]
	responses *mailbox[R]
}

// SetupResponder spawns a worker that can answer through an Outbox.
func SetupResponder[S, C, R any](state S, work ResponderWorkFunc[S, C, R]) *ResponderHandle[C, R] {
	h := &ResponderHandle[C, R]{
		Handle: &Handle[C]{
			inbox: newMailbox[C](),
			done:  make(chan struct{}),
		},
		responses: newMailbox[R](),
	}
	out := &Outbox[R]{mb: h.responses}
	go h.run(func(in *Inbox[C]) {
		defer h.responses.close()
		work(state, in, out)
	})
	return h
}

// WaitForResponse blocks until the worker sends a response. It returns
// ErrDisconnected when the worker has exited and no responses remain.
func (h *ResponderHandle[C, R]) WaitForResponse() (R, error) {
	return h.responses.recv()
}

// TryResponse returns a pending response without blocking. It returns
// ErrNoResponse when nothing has been sent yet and ErrDisconnected when the
// worker has exited and no responses remain.
func (h *ResponderHandle[C, R]) TryResponse() (R, error) {
	r, err := h.responses.tryRecv()
	if err == ErrEmpty {
		return r, ErrNoResponse
	}
	return r, err
}
