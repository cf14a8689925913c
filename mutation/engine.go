package mutation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caio-oliv/restatement/cachemanager"
	"github.com/caio-oliv/restatement/pkg/pubsub"
	"github.com/caio-oliv/restatement/retry"
	"github.com/caio-oliv/restatement/telemetry"
)

// Fn performs a mutation given its input.
type Fn[I, T any] func(ctx context.Context, input I) (T, error)

// SideEffect runs after a mutation settles, letting a caller invalidate or
// seed related query keys on the shared manager without the Engine
// needing to know anything about the query side of the system.
type SideEffect[I, T any] func(manager *cachemanager.Manager, input I, data T, err error)

// OnStateFn observes every state the mutation moves through. The manager
// is passed alongside so the handler can invalidate or seed related query
// keys directly; those calls publish back through the bus and may cause
// subscribed queries to refetch.
type OnStateFn[I, T any] func(state State[I, T], manager *cachemanager.Manager)

// OnDataFn observes every successful result.
type OnDataFn[T any] func(data T, manager *cachemanager.Manager)

// OnErrorFn observes every failed result.
type OnErrorFn func(err error, manager *cachemanager.Manager)

// FilterFn vetoes a state transition before it is applied. Returning false
// drops the transition entirely: the Engine's state is untouched and no
// handler runs for it.
type FilterFn[I, T any] func(current, next State[I, T]) bool

// Options configures an Engine.
type Options[I, T any] struct {
	// Placeholder is the Data carried by the idle state, before the first
	// Execute and after a Reset.
	Placeholder T
	// Retry governs retries of a failed mutation. Defaults to retry.None
	// because mutations are frequently non-idempotent; callers that know
	// theirs is safe to retry should opt in explicitly.
	Retry retry.Policy
	// OnRetry runs after each backoff delay, immediately before the next
	// attempt. Nil means no hook.
	OnRetry retry.OnRetry
	// AfterSettle runs once the mutation succeeds or fails for good.
	AfterSettle SideEffect[I, T]
	// OnState, OnData and OnError observe transitions after they apply,
	// each receiving the shared manager for cache side effects. A panic
	// inside any of them is recovered and logged, never propagated.
	OnState OnStateFn[I, T]
	OnData  OnDataFn[T]
	OnError OnErrorFn
	// Filter vetoes transitions before they apply. Nil accepts all.
	Filter FilterFn[I, T]
	// Logger receives a Warn when Fn or a handler panics instead of
	// returning an error. Nil means telemetry.Noop.
	Logger telemetry.Logger
}

func (o Options[I, T]) withDefaults() Options[I, T] {
	if o.Retry == nil {
		o.Retry = retry.None{}
	}
	if o.Logger == nil {
		o.Logger = telemetry.Noop
	}
	return o
}

// Engine runs one kind of mutation (one Fn), tracking a single shared
// state across calls and publishing every transition on its own topic.
type Engine[I, T any] struct {
	manager *cachemanager.Manager
	fn      Fn[I, T]
	opts    Options[I, T]
	topic   string

	runs      atomic.Int64
	errCounts atomic.Int64

	mu    sync.Mutex
	state State[I, T]
}

// NewEngine builds an Engine identified by name; its pub/sub topic is
// "mutation:" followed by name — mutations are few and named by the caller
// (e.g. "createUser"), unlike queries, which are addressed by a data key and
// so need pkg/hash to turn that key into a topic.
func NewEngine[I, T any](manager *cachemanager.Manager, name string, fn Fn[I, T], opts Options[I, T]) *Engine[I, T] {
	opts = opts.withDefaults()
	e := &Engine[I, T]{
		manager: manager,
		fn:      fn,
		opts:    opts,
		topic:   "mutation:" + name,
	}
	e.state = e.idleState()
	return e
}

// idleState is the state the Engine starts in and returns to on Reset.
func (e *Engine[I, T]) idleState() State[I, T] {
	return State[I, T]{Status: StatusIdle, Data: e.opts.Placeholder}
}

// Execute runs the mutation against input, retrying per policy, and
// returns its final state.
func (e *Engine[I, T]) Execute(ctx context.Context, input I) (State[I, T], error) {
	e.runs.Add(1)
	e.setState(State[I, T]{Status: StatusLoading, Input: input, UpdatedAt: time.Now()})

	data, err := retry.Do(ctx, func(ctx context.Context) (T, error) {
		return e.callFn(ctx, input)
	}, e.opts.Retry, e.opts.OnRetry)

	now := time.Now()
	var state State[I, T]
	if err != nil {
		e.errCounts.Add(1)
		state = State[I, T]{Status: StatusError, Input: input, Err: err, UpdatedAt: now}
	} else {
		state = State[I, T]{Status: StatusSuccess, Input: input, Data: data, UpdatedAt: now}
	}

	e.setState(state)

	if e.opts.AfterSettle != nil {
		e.callAfterSettle(input, data, err)
	}

	return state, err
}

// callFn invokes Fn, recovering a panic into a plain error instead of
// letting it cross Execute's boundary.
func (e *Engine[I, T]) callFn(ctx context.Context, input I) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Warn("mutation: handler panic recovered", "topic", e.topic, "panic", r)
			var zero T
			data = zero
			err = fmt.Errorf("mutation: handler panicked: %v", r)
		}
	}()
	return e.fn(ctx, input)
}

// callAfterSettle runs AfterSettle with the same panic-recovery guarantee
// as callFn: a side effect that panics must not take Execute down with it.
func (e *Engine[I, T]) callAfterSettle(input I, data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Warn("mutation: AfterSettle panic recovered", "topic", e.topic, "panic", r)
		}
	}()
	e.opts.AfterSettle(e.manager, input, data, err)
}

// callHandler runs a state observer with the same panic-recovery guarantee
// as callFn.
func (e *Engine[I, T]) callHandler(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Warn("mutation: "+name+" panic recovered", "topic", e.topic, "panic", r)
		}
	}()
	fn()
}

// setState installs state as the Engine's current state, unless Filter
// vetoes it, then runs the configured observers and publishes the
// transition on the Engine's topic.
func (e *Engine[I, T]) setState(state State[I, T]) {
	e.mu.Lock()
	prev := e.state
	if e.opts.Filter != nil && !e.opts.Filter(prev, state) {
		e.mu.Unlock()
		return
	}
	e.state = state
	e.mu.Unlock()

	e.notify(state)

	e.manager.Bus().Publish(e.topic, pubsub.Event{
		Kind:    pubsub.KindMutation,
		Payload: pubsub.MutationPayload{Input: state.Input, Data: state.Data, Err: state.Err},
	})
}

// notify runs the observers for an applied state, in data, error, state
// order, each isolated from the others' panics.
func (e *Engine[I, T]) notify(state State[I, T]) {
	if e.opts.OnData != nil && state.Status == StatusSuccess {
		e.callHandler("OnData", func() { e.opts.OnData(state.Data, e.manager) })
	}
	if e.opts.OnError != nil && state.Err != nil {
		e.callHandler("OnError", func() { e.opts.OnError(state.Err, e.manager) })
	}
	if e.opts.OnState != nil {
		e.callHandler("OnState", func() { e.opts.OnState(state, e.manager) })
	}
}

// Stats returns a snapshot of this Engine's run/error counters.
func (e *Engine[I, T]) Stats() Stats {
	return Stats{Runs: e.runs.Load(), Errors: e.errCounts.Load()}
}

// State returns the mutation's last known state.
func (e *Engine[I, T]) State() State[I, T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Reset returns the mutation to its idle state without running anything,
// publishing nothing and invoking no observer.
func (e *Engine[I, T]) Reset() {
	e.ResetWith(TargetContext)
}

// ResetWith is Reset with control over whether the OnState observer is
// told about the reset: TargetHandler invokes it exactly once with the
// idle state, still without publishing on the bus.
func (e *Engine[I, T]) ResetWith(target Target) {
	idle := e.idleState()
	e.mu.Lock()
	e.state = idle
	e.mu.Unlock()

	if target == TargetHandler && e.opts.OnState != nil {
		e.callHandler("OnState", func() { e.opts.OnState(idle, e.manager) })
	}
}

// Use subscribes to every state transition this mutation publishes.
func (e *Engine[I, T]) Use() *pubsub.SubscriberHandle {
	return e.manager.Bus().Subscribe(e.topic, 16)
}
