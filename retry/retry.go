// Package retry implements RetryPolicy and the execAsyncOperation algorithm
// every query and mutation execution runs through.
package retry

import (
	"context"
	"time"

	"github.com/caio-oliv/restatement/backoff"
	"github.com/caio-oliv/restatement/clock"
)

// Result is the outcome reported to Policy.Notify.
type Result int

const (
	ResultSuccess Result = iota
	ResultFail
)

// Policy decides whether an operation should be retried, how long to wait
// before the next attempt, and observes the outcome of every attempt.
//
// Notify is part of the contract but unused by the two bundled policies
// below; it exists so an adaptive policy (one that opens a circuit after
// repeated failures, for instance) can be dropped in without changing the
// Policy interface or Do's call sites.
type Policy interface {
	// Limit is the maximum number of retries (not counting the initial try).
	Limit() uint32
	// ShouldRetry reports whether attempt (1-based) should be attempted
	// given the error from the previous try.
	ShouldRetry(attempt uint32, err error) bool
	// Delay returns the milliseconds to wait before attempt. A negative
	// value means "do not retry" and overrides ShouldRetry.
	Delay(attempt uint32, err error) int64
	// Notify reports the result of each attempt Do makes: ResultFail after
	// every failed attempt, ResultSuccess once an attempt succeeds.
	Notify(result Result)
}

// None never retries.
type None struct{}

func (None) Limit() uint32 { return 0 }
func (None) ShouldRetry(uint32, error) bool { return false }
func (None) Delay(uint32, error) int64 { return -1 }
func (None) Notify(Result) {}

// Basic retries up to limit times, delaying each attempt per timer.
type Basic struct {
	limit uint32
	timer backoff.Timer
}

// NewBasic builds a Basic retry policy.
func NewBasic(limit uint32, timer backoff.Timer) Basic {
	return Basic{limit: limit, timer: timer}
}

func (b Basic) Limit() uint32 { return b.limit }

func (b Basic) ShouldRetry(attempt uint32, _ error) bool {
	return attempt <= b.limit
}

func (b Basic) Delay(attempt uint32, err error) int64 {
	if !b.ShouldRetry(attempt, err) {
		return -1
	}
	return int64(b.timer.Delay(attempt) / time.Millisecond)
}

func (Basic) Notify(Result) {}

// OnRetry is invoked after the backoff delay has elapsed, immediately before
// the next attempt starts.
type OnRetry func(attempt uint32, err error)

// Do runs op, retrying per policy on failure. It returns once op succeeds,
// the policy declines to retry further, or ctx is done during the sleep
// between attempts (then with the last attempt's error); ctx does not
// cancel op itself (op must observe ctx on its own).
func Do[T any](ctx context.Context, op func(context.Context) (T, error), policy Policy, onRetry OnRetry) (T, error) {
	var attempt uint32
	for {
		value, err := op(ctx)
		if err == nil {
			policy.Notify(ResultSuccess)
			return value, nil
		}

		policy.Notify(ResultFail)
		attempt++
		delayMs := policy.Delay(attempt, err)
		if delayMs < 0 {
			return value, err
		}

		if waitErr := clock.Delay(ctx, time.Duration(delayMs)*time.Millisecond); waitErr != nil {
			return value, err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
}
