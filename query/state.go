// Package query implements the query state machine: idle, loading,
// success, stale and error, backed by a shared cachemanager.Manager for
// storage and notification and a pubsub.Coalescer for in-flight request
// deduplication.
package query

import (
	"time"

	"github.com/caio-oliv/restatement/pkg/hash"
)

// Status is a query's position in its state machine.
type Status int32

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusStale
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusStale:
		return "stale"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Directive controls how Execute consults the cache before invoking Fn.
type Directive int

const (
	// DirectiveStale serves a cached value even past the fresh window,
	// kicking off a background revalidation for it. This is the default.
	DirectiveStale Directive = iota
	// DirectiveFresh serves a cached value only while it is within the
	// fresh window; anything older is refetched in the foreground.
	DirectiveFresh
	// DirectiveNoCache skips the cache lookup and always fetches.
	DirectiveNoCache
)

func (d Directive) String() string {
	switch d {
	case DirectiveStale:
		return "stale"
	case DirectiveFresh:
		return "fresh"
	case DirectiveNoCache:
		return "no-cache"
	default:
		return "unknown"
	}
}

// ExecuteOpts are the per-call knobs on Engine.ExecuteWith. The zero value
// means the stale directive with the Engine's configured TTL.
type ExecuteOpts struct {
	Directive Directive
	// TTL overrides the Engine's TTL for a value fetched by this call.
	// Zero or negative falls back to the Engine's option.
	TTL time.Duration
}

// Target selects how much a Reset notifies: just the context's own state,
// or the state handler as well.
type Target int

const (
	// TargetContext resets silently.
	TargetContext Target = iota
	// TargetHandler additionally invokes OnState once with the reset
	// idle state, so an observer bound to the handler sees the reset.
	TargetHandler
)

// ActiveKey pairs a key this Engine has observed with the pub/sub topic
// its events are published on.
type ActiveKey struct {
	Key   hash.Key
	Topic string
}

// Stats is a snapshot of an Engine's counters since construction.
type Stats struct {
	// Hits counts Execute calls answered from the cache, fresh or stale.
	Hits int64
	// Misses counts Execute calls that had to fetch in the foreground.
	Misses int64
	// BackgroundRuns counts revalidations spawned by stale reads or
	// invalidation events.
	BackgroundRuns int64
	// Errors counts fetches that settled in the error state after retries.
	Errors int64
}

// State is the externally visible snapshot of a query at a point in time.
type State[T any] struct {
	Status    Status
	Data      T
	Err       error
	FetchedAt time.Time
	UpdatedAt time.Time
}

// IsFresh reports whether a State fetched at FetchedAt is still within the
// fresh window as of now — fresh data is returned without triggering a
// background revalidation, the behavior that lets repeated navigations to
// the same query skip a refetch entirely.
func (s State[T]) IsFresh(now time.Time, fresh time.Duration) bool {
	if s.Status != StatusSuccess && s.Status != StatusStale {
		return false
	}
	return now.Sub(s.FetchedAt) < fresh
}
