// Package mutation implements the mutation state machine: idle, loading,
// success and error. Unlike query.Engine, a mutation has no cached value
// of its own and no staleness window — every Execute call is a fresh
// attempt, retried per policy, that the caller explicitly triggers.
package mutation

import "time"

// Status is a mutation's position in its state machine.
type Status int32

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
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
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of an Engine's counters since construction.
type Stats struct {
	// Runs counts Execute calls, regardless of outcome.
	Runs int64
	// Errors counts Execute calls that settled in the error state after
	// retries.
	Errors int64
}

// Target selects how much a Reset notifies: just the Engine's own state,
// or the state handler as well.
type Target int

const (
	// TargetContext resets silently.
	TargetContext Target = iota
	// TargetHandler additionally invokes OnState once with the reset
	// idle state, so an observer bound to the handler sees the reset.
	TargetHandler
)

// State is the externally visible snapshot of a mutation at a point in
// time.
type State[I, T any] struct {
	Status    Status
	Input     I
	Data      T
	Err       error
	UpdatedAt time.Time
}
