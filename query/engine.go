package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caio-oliv/restatement/backoff"
	"github.com/caio-oliv/restatement/cachemanager"
	"github.com/caio-oliv/restatement/pkg/hash"
	"github.com/caio-oliv/restatement/pkg/pubsub"
	"github.com/caio-oliv/restatement/retry"
	"github.com/caio-oliv/restatement/telemetry"
)

// Fn fetches the data behind a query key.
type Fn[T any] func(ctx context.Context, key hash.Key) (T, error)

// KeepCacheOnErrorFn decides, given a query's error, whether the
// previously cached value should survive the failed attempt instead of
// being evicted.
type KeepCacheOnErrorFn func(err error) bool

// ExtractTTLFn derives a TTL from freshly fetched data, falling back to
// fallback when the data carries no TTL hint of its own (e.g. an HTTP
// response with no Cache-Control header).
type ExtractTTLFn[T any] func(data T, fallback time.Duration) time.Duration

// OnStateFn observes every state the query moves through.
type OnStateFn[T any] func(state State[T])

// OnDataFn observes every state carrying data (success and stale).
type OnDataFn[T any] func(data T)

// OnErrorFn observes every state carrying an error.
type OnErrorFn func(err error)

// FilterFn vetoes a state transition before it is applied. Returning false
// drops the transition entirely: the context's state is untouched and no
// handler runs for it.
type FilterFn[T any] func(current, next State[T]) bool

// Options configures an Engine.
type Options[T any] struct {
	// Placeholder is the Data carried by the idle state, before the first
	// fetch and after a Reset.
	Placeholder T
	// TTL is how long a successful result stays in the cache.
	TTL time.Duration
	// Fresh is how long a result is served without triggering a
	// background revalidation.
	Fresh time.Duration
	// Retry governs retries of a failed fetch.
	Retry retry.Policy
	// OnRetry runs after each backoff delay, immediately before the next
	// attempt. Nil means no hook.
	OnRetry retry.OnRetry
	// KeepCacheOnError decides whether to retain stale data after a
	// failed fetch instead of evicting it. Nil means always evict.
	KeepCacheOnError KeepCacheOnErrorFn
	// ExtractTTL overrides TTL per result. Nil means always use TTL.
	ExtractTTL ExtractTTLFn[T]
	// OnState, OnData and OnError observe transitions after they apply.
	// A panic inside any of them is recovered and logged, never
	// propagated.
	OnState OnStateFn[T]
	OnData  OnDataFn[T]
	OnError OnErrorFn
	// Filter vetoes transitions before they apply. Nil accepts all.
	Filter FilterFn[T]
	// Limiter throttles background revalidations. Nil means unthrottled.
	Limiter *BackgroundLimiter
	// Pool runs background revalidations on a bounded worker set. A
	// revalidation the pool refuses because its queue is full runs on its
	// own goroutine instead. Nil means each background revalidation
	// gets its own goroutine.
	Pool *BackgroundPool
	// Logger receives a Warn when Fn or a handler panics instead of
	// returning an error. Nil means telemetry.Noop.
	Logger telemetry.Logger
}

// DefaultOptions returns the library defaults: a 180s TTL, a 30s fresh
// window and a 3-attempt jittered-exponential retry policy.
func DefaultOptions[T any]() Options[T] {
	return Options[T]{
		TTL:   180 * time.Second,
		Fresh: 30 * time.Second,
		Retry: retry.NewBasic(3, backoff.NewJitterExponential(time.Second, 30*time.Second)),
	}
}

func (o Options[T]) withDefaults() Options[T] {
	if o.TTL <= 0 {
		o.TTL = 180 * time.Second
	}
	if o.Fresh <= 0 {
		o.Fresh = 30 * time.Second
	}
	if o.Retry == nil {
		o.Retry = retry.NewBasic(3, backoff.NewJitterExponential(time.Second, 30*time.Second))
	}
	if o.Logger == nil {
		o.Logger = telemetry.Noop
	}
	return o
}

// queryCtx holds the mutable state for a single query key, plus the
// subscription that lets this context react to invalidations published by
// the cachemanager.Manager while no caller is actively executing it.
type queryCtx[T any] struct {
	mu    sync.Mutex
	state State[T]
	key   hash.Key
	sub   *pubsub.SubscriberHandle
}

// Engine runs one kind of query (one Fn) across many keys, each tracked by
// its own state machine, deduplicated through a shared Coalescer and
// backed by a cachemanager.Manager for storage and pub/sub notification.
type Engine[T any] struct {
	manager *cachemanager.Manager
	fn      Fn[T]
	opts    Options[T]

	hits           atomic.Int64
	misses         atomic.Int64
	backgroundRuns atomic.Int64
	errors         atomic.Int64

	mu       sync.Mutex
	contexts map[string]*queryCtx[T]
	pending  map[string]*pubsub.ObservablePromise[any]
}

// NewEngine builds an Engine running fn against manager's shared cache.
// In-flight deduplication is keyed by the manager, not the Engine: two
// engines sharing a manager that fetch the same key concurrently join the
// same underlying call.
func NewEngine[T any](manager *cachemanager.Manager, fn Fn[T], opts Options[T]) *Engine[T] {
	opts = opts.withDefaults()
	return &Engine[T]{
		manager:  manager,
		fn:       fn,
		opts:     opts,
		contexts: make(map[string]*queryCtx[T]),
		pending:  make(map[string]*pubsub.ObservablePromise[any]),
	}
}

// idleState is the state a context starts in and returns to on Reset.
func (e *Engine[T]) idleState() State[T] {
	return State[T]{Status: StatusIdle, Data: e.opts.Placeholder}
}

// callFn invokes Fn, recovering a panic into a plain error instead of
// letting it cross Execute/runBackgroundQuery's boundary. A recovered
// panic is logged at Warn and treated the same as any other fetch error:
// no cache write, no state kept unless KeepCacheOnError says otherwise.
func (e *Engine[T]) callFn(ctx context.Context, key hash.Key) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Warn("query: handler panic recovered", "key", key, "panic", r)
			var zero T
			data = zero
			err = fmt.Errorf("query: handler panicked: %v", r)
		}
	}()
	return e.fn(ctx, key)
}

// callHandler runs a state observer with the same panic-recovery guarantee
// as callFn: a misbehaving handler must not block further transitions.
func (e *Engine[T]) callHandler(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.opts.Logger.Warn("query: "+name+" panic recovered", "panic", r)
		}
	}()
	fn()
}

// ctxFor returns the queryCtx tracking key, creating it (and subscribing it
// to key's topic for invalidation notices) on first use.
func (e *Engine[T]) ctxFor(key hash.Key, ks string) *queryCtx[T] {
	e.mu.Lock()
	defer e.mu.Unlock()
	qc, ok := e.contexts[ks]
	if !ok {
		qc = &queryCtx[T]{key: key, state: e.idleState()}
		e.contexts[ks] = qc
		e.subscribeInvalidation(qc, key, ks)
	}
	return qc
}

// subscribeInvalidation starts a background listener that turns every
// KindInvalidation event on key's topic into exactly one background
// revalidation, so a CacheManager.Invalidate call refetches every query
// context currently bound to the invalidated key without the caller having
// to do anything.
func (e *Engine[T]) subscribeInvalidation(qc *queryCtx[T], key hash.Key, ks string) {
	topic, err := e.manager.Topic(key)
	if err != nil {
		return
	}
	sub := e.manager.Bus().Subscribe(topic, 8)

	qc.mu.Lock()
	qc.sub = sub
	qc.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			if ev.Kind == pubsub.KindInvalidation {
				e.runBackgroundQuery(key, ks, 0)
			}
		}
	}()
}

// Execute returns the current state for key under the default stale
// directive: cached data is served immediately, fetched first if missing,
// or revalidated in the background if older than Fresh but within TTL.
func (e *Engine[T]) Execute(ctx context.Context, key hash.Key) (State[T], error) {
	return e.ExecuteWith(ctx, key, ExecuteOpts{})
}

// ExecuteWith is Execute with per-call control over the cache directive
// and the TTL applied to a value fetched by this call.
func (e *Engine[T]) ExecuteWith(ctx context.Context, key hash.Key, opts ExecuteOpts) (State[T], error) {
	ks, err := cachemanager.KeyString(key)
	if err != nil {
		return State[T]{}, err
	}
	qc := e.ctxFor(key, ks)

	if opts.Directive != DirectiveNoCache {
		if entry, ok, _ := e.manager.GetEntry(key); ok {
			if data, valid := entry.Value.(T); valid {
				now := time.Now()
				state := State[T]{Status: StatusSuccess, Data: data, FetchedAt: entry.CachedAt, UpdatedAt: now}

				if state.IsFresh(now, e.opts.Fresh) {
					e.hits.Add(1)
					e.setState(key, qc, state)
					return state, nil
				}

				if opts.Directive == DirectiveStale {
					state.Status = StatusStale
					e.hits.Add(1)
					e.setState(key, qc, state)
					e.runBackgroundQuery(key, ks, opts.TTL)
					return state, nil
				}
				// DirectiveFresh with an entry past the fresh window:
				// fall through to a foreground fetch.
			}
		}
	}

	e.misses.Add(1)
	return e.runActiveQuery(ctx, key, ks, qc, opts.TTL)
}

// runActiveQuery performs a foreground fetch: the caller blocks until it
// settles, joining an in-flight fetch for the same key if one exists.
func (e *Engine[T]) runActiveQuery(ctx context.Context, key hash.Key, ks string, qc *queryCtx[T], ttl time.Duration) (State[T], error) {
	qc.mu.Lock()
	loading := State[T]{Status: StatusLoading, Data: qc.state.Data, FetchedAt: qc.state.FetchedAt}
	qc.mu.Unlock()
	e.setState(key, qc, loading)

	promise := e.startFetch(ctx, key, ks, ttl)
	result, err := promise.Wait(ctx)
	data, _ := result.(T)
	state, _ := e.settle(key, qc, data, err)
	return state, err
}

// runBackgroundQuery revalidates key without blocking the caller that
// triggered it. It is subject to Limiter and runs on Pool when configured.
// ttl <= 0 means the Engine's configured TTL.
func (e *Engine[T]) runBackgroundQuery(key hash.Key, ks string, ttl time.Duration) {
	task := func() {
		if e.opts.Limiter != nil && !e.opts.Limiter.Allow() {
			return
		}
		e.backgroundRuns.Add(1)

		qc := e.ctxFor(key, ks)
		ctx := context.Background()

		promise := e.startFetch(ctx, key, ks, ttl)
		result, err := promise.Wait(ctx)
		data, _ := result.(T)
		e.settle(key, qc, data, err)
	}

	if e.opts.Pool != nil && e.opts.Pool.Submit(task) {
		return
	}
	go task()
}

// startFetch runs the retry loop for key through the Coalescer, so
// concurrent fetches of the same key share one underlying Fn call, and
// registers the resulting promise as in flight until it settles. The cache
// write (or error eviction) happens inside the coalesced operation, so a
// settled promise always means the store already reflects the outcome —
// WaitSettled and DetachedClient.Commit rely on that ordering. ttl <= 0
// means the Engine's configured TTL.
func (e *Engine[T]) startFetch(ctx context.Context, key hash.Key, ks string, ttl time.Duration) *pubsub.ObservablePromise[any] {
	promise := e.manager.Flight().Do(ks, func() (any, error) {
		data, err := retry.Do(ctx, func(ctx context.Context) (T, error) {
			return e.callFn(ctx, key)
		}, e.opts.Retry, e.opts.OnRetry)

		if err != nil {
			if e.opts.KeepCacheOnError == nil || !e.opts.KeepCacheOnError(err) {
				_, _ = e.manager.Delete(key)
			}
			return data, err
		}

		resolved := ttl
		if resolved <= 0 {
			resolved = e.opts.TTL
		}
		if e.opts.ExtractTTL != nil {
			resolved = e.opts.ExtractTTL(data, resolved)
		}
		_ = e.manager.Set(key, data, resolved)
		return data, nil
	})

	e.mu.Lock()
	e.pending[ks] = promise
	e.mu.Unlock()

	go func() {
		<-promise.Done()
		e.mu.Lock()
		if e.pending[ks] == promise {
			delete(e.pending, ks)
		}
		e.mu.Unlock()
	}()

	return promise
}

// settle records the outcome of a fetch (success or error) as the query's
// new state and notifies subscribers. The cache itself was already written
// or evicted inside the coalesced fetch — settle only moves this context's
// state machine.
func (e *Engine[T]) settle(key hash.Key, qc *queryCtx[T], data T, err error) (State[T], error) {
	now := time.Now()

	if err != nil {
		e.errors.Add(1)

		qc.mu.Lock()
		prev := qc.state
		qc.mu.Unlock()

		state := State[T]{Status: StatusError, Err: err, UpdatedAt: now}
		// The loading transition already carried the last-known data
		// forward, so the keep decision only needs the predicate itself;
		// the cache-level keep-or-evict ran inside the coalesced fetch.
		if e.opts.KeepCacheOnError != nil && e.opts.KeepCacheOnError(err) {
			state.Data = prev.Data
			state.FetchedAt = prev.FetchedAt
		}

		e.setState(key, qc, state)
		return state, err
	}

	state := State[T]{Status: StatusSuccess, Data: data, FetchedAt: now, UpdatedAt: now}
	e.setState(key, qc, state)
	return state, nil
}

// setState installs state as qc's current state, unless Filter vetoes it,
// then runs the configured observers and publishes the transition on key's
// topic so anything subscribed via Use observes it.
func (e *Engine[T]) setState(key hash.Key, qc *queryCtx[T], state State[T]) {
	qc.mu.Lock()
	prev := qc.state
	if e.opts.Filter != nil && !e.opts.Filter(prev, state) {
		qc.mu.Unlock()
		return
	}
	qc.state = state
	qc.mu.Unlock()

	e.notify(state)

	topic, err := e.manager.Topic(key)
	if err != nil {
		return
	}
	e.manager.Bus().Publish(topic, pubsub.Event{
		Kind:    pubsub.KindTransition,
		Payload: pubsub.TransitionPayload{From: prev, To: state},
	})
}

// notify runs the observers for an applied state, in data, error, state
// order, each isolated from the others' panics.
func (e *Engine[T]) notify(state State[T]) {
	if e.opts.OnData != nil && (state.Status == StatusSuccess || state.Status == StatusStale) {
		e.callHandler("OnData", func() { e.opts.OnData(state.Data) })
	}
	if e.opts.OnError != nil && state.Err != nil {
		e.callHandler("OnError", func() { e.opts.OnError(state.Err) })
	}
	if e.opts.OnState != nil {
		e.callHandler("OnState", func() { e.opts.OnState(state) })
	}
}

// State returns the last known state for key without triggering a fetch,
// and whether key has been observed by this Engine at all.
func (e *Engine[T]) State(key hash.Key) (State[T], bool) {
	ks, err := cachemanager.KeyString(key)
	if err != nil {
		return State[T]{}, false
	}

	e.mu.Lock()
	qc, ok := e.contexts[ks]
	e.mu.Unlock()
	if !ok {
		return State[T]{}, false
	}

	qc.mu.Lock()
	defer qc.mu.Unlock()
	return qc.state, true
}

// Stats returns a snapshot of this Engine's hit/miss/background/error
// counters.
func (e *Engine[T]) Stats() Stats {
	return Stats{
		Hits:           e.hits.Load(),
		Misses:         e.misses.Load(),
		BackgroundRuns: e.backgroundRuns.Load(),
		Errors:         e.errors.Load(),
	}
}

// ActiveKeys returns every key this Engine currently tracks, paired with
// its pub/sub topic.
func (e *Engine[T]) ActiveKeys() []ActiveKey {
	e.mu.Lock()
	ctxs := make([]*queryCtx[T], 0, len(e.contexts))
	for _, qc := range e.contexts {
		ctxs = append(ctxs, qc)
	}
	e.mu.Unlock()

	keys := make([]ActiveKey, 0, len(ctxs))
	for _, qc := range ctxs {
		topic, err := e.manager.Topic(qc.key)
		if err != nil {
			continue
		}
		keys = append(keys, ActiveKey{Key: qc.key, Topic: topic})
	}
	return keys
}

// Loading reports how many fetches are currently in flight on this Engine.
func (e *Engine[T]) Loading() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, p := range e.pending {
		if p.Status() == pubsub.StatusPending {
			count++
		}
	}
	return count
}

// WaitSettled blocks until every fetch in flight when it was called has
// settled, or ctx is done. It returns how many it waited on.
func (e *Engine[T]) WaitSettled(ctx context.Context) (int, error) {
	e.mu.Lock()
	promises := make([]*pubsub.ObservablePromise[any], 0, len(e.pending))
	for _, p := range e.pending {
		promises = append(promises, p)
	}
	e.mu.Unlock()

	for _, p := range promises {
		if _, err := p.Wait(ctx); err != nil && ctx.Err() != nil {
			return len(promises), ctx.Err()
		}
	}
	return len(promises), nil
}

// Use subscribes to every transition and invalidation published for key.
func (e *Engine[T]) Use(key hash.Key) (*pubsub.SubscriberHandle, error) {
	topic, err := e.manager.Topic(key)
	if err != nil {
		return nil, err
	}
	return e.manager.Bus().Subscribe(topic, 16), nil
}

// Reset clears key's cached value and state, as if it had never been
// fetched. No transition is published and no observer runs.
func (e *Engine[T]) Reset(key hash.Key) error {
	return e.ResetWith(key, TargetContext)
}

// ResetWith is Reset with control over whether the OnState observer is
// told about the reset: TargetHandler invokes it exactly once with the
// idle state, still without publishing a transition on the bus.
func (e *Engine[T]) ResetWith(key hash.Key, target Target) error {
	ks, err := cachemanager.KeyString(key)
	if err != nil {
		return err
	}

	qc := e.ctxFor(key, ks)
	idle := e.idleState()
	qc.mu.Lock()
	qc.state = idle
	qc.mu.Unlock()

	if target == TargetHandler && e.opts.OnState != nil {
		e.callHandler("OnState", func() { e.opts.OnState(idle) })
	}

	_, err = e.manager.Delete(key)
	return err
}

// Dispose drops all in-memory bookkeeping for key: its state context and
// any in-flight coalesced call. The cached value itself is left alone;
// callers wanting the data gone too should call Reset first.
func (e *Engine[T]) Dispose(key hash.Key) error {
	ks, err := cachemanager.KeyString(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	qc, ok := e.contexts[ks]
	delete(e.contexts, ks)
	delete(e.pending, ks)
	e.mu.Unlock()

	if ok {
		qc.mu.Lock()
		sub := qc.sub
		qc.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
	}

	e.manager.Flight().Forget(ks)
	return nil
}
