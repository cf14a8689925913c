package pubsub

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Status is the lifecycle of an ObservablePromise.
type Status int32

const (
	StatusPending Status = iota
	StatusFulfilled
	StatusRejected
)

// ObservablePromise lets callers poll an in-flight operation's status
// synchronously instead of only being able to block on it, which a plain
// singleflight.Group.Do call would force. The query engine uses this to
// answer "is key currently loading" without joining the call.
type ObservablePromise[T any] struct {
	status atomic.Int32
	result T
	err    error
	done   chan struct{}
}

// Status returns the promise's current lifecycle state.
func (p *ObservablePromise[T]) Status() Status {
	return Status(p.status.Load())
}

// Done returns a channel closed when the promise settles, for callers
// selecting over several promises at once.
func (p *ObservablePromise[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the promise settles or ctx is done, whichever comes
// first.
func (p *ObservablePromise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Coalescer runs fn for a given key at most once at a time: concurrent
// calls sharing a key all observe the same ObservablePromise instead of
// triggering redundant work, the in-flight request coalescing every query
// fetch relies on. Mutation executions do not go through it.
//
// It is built on x/sync/singleflight.Group.DoChan rather than the blocking
// Do: DoChan hands back a channel immediately, which is what lets Status()
// above be polled synchronously by a caller that doesn't want to wait.
type Coalescer[T any] struct {
	group singleflight.Group
}

// NewCoalescer builds an empty Coalescer.
func NewCoalescer[T any]() *Coalescer[T] {
	return &Coalescer[T]{}
}

// Do starts fn for key if nothing is already in flight for it, or attaches
// to the existing call otherwise. The returned promise settles exactly
// once, regardless of how many callers share it.
func (c *Coalescer[T]) Do(key string, fn func() (T, error)) *ObservablePromise[T] {
	p := &ObservablePromise[T]{done: make(chan struct{})}

	resCh := c.group.DoChan(key, func() (any, error) {
		return fn()
	})

	go func() {
		res := <-resCh
		if res.Err != nil {
			p.err = res.Err
			p.status.Store(int32(StatusRejected))
		} else {
			p.result, _ = res.Val.(T)
			p.status.Store(int32(StatusFulfilled))
		}
		close(p.done)
	}()

	return p
}

// Forget removes key from the in-flight set, so the next call starts a
// fresh execution instead of joining a call that may be stuck.
func (c *Coalescer[T]) Forget(key string) {
	c.group.Forget(key)
}
