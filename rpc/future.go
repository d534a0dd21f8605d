package rpc

import (
	"context"
	"sync"
)

// Future is the caller's handle on one in-flight call. It settles exactly
// once: with the remote value, the remote error, or ErrStopped.
type Future struct {
	id        string
	procedure string
	done      chan struct{}
	once      sync.Once
	value     any
	err       error
}

func newFuture(id, procedure string) *Future {
	return &Future{id: id, procedure: procedure, done: make(chan struct{})}
}

// ID returns the correlation id of the call.
func (f *Future) ID() string { return f.id }

// Procedure returns the name that was called.
func (f *Future) Procedure() string { return f.procedure }

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx ends. Giving up on ctx does not
// cancel the call: a later response still settles the future.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether the future has an outcome.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() (any, error) {
	if !f.Settled() {
		return nil, ErrPending
	}
	return f.value, f.err
}

// settle records the outcome; only the first call has an effect.
func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		settled = true
	})
	return settled
}
