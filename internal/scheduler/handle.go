package scheduler

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled is the completion error of a work item withdrawn before it
// started, or canceled while running.
var ErrCanceled = errors.New("work item canceled")

// Handle lets the submitter observe and cancel one queued work item.
// Completion is signaled exactly once; after Done is closed, Result never
// changes.
type Handle struct {
	done chan struct{}

	mu       sync.Mutex
	value    any
	err      error
	finished bool
	canceled bool

	// cancelRun interrupts the in-flight execution context, if any.
	// Set by the worker just before execution starts.
	cancelRun context.CancelFunc
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done returns a channel closed when the item reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until completion and returns the execution value or error.
// The ctx lets the caller bound the wait without affecting the item itself.
func (h *Handle) Result(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

// Cancel withdraws the item. A queued item completes immediately with
// ErrCanceled; an in-flight item has its context canceled and is expected
// to observe it at its checkpoints. Returns true if the item had not
// finished yet.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return false
	}
	h.canceled = true
	cancelRun := h.cancelRun
	h.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	} else {
		// Not started yet: settle immediately rather than waiting for a
		// worker to pop and discard the item.
		h.complete(nil, ErrCanceled)
	}
	return true
}

// Canceled reports whether Cancel was called.
func (h *Handle) Canceled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// complete records the result and closes done. Safe to call once; extra
// calls are ignored so a racing cancel and a finishing worker cannot both
// signal.
func (h *Handle) complete(value any, err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.value = value
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// beginRun attaches the in-flight cancel function, refusing if the handle
// was already canceled while queued.
func (h *Handle) beginRun(cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled || h.finished {
		return false
	}
	h.cancelRun = cancel
	return true
}
