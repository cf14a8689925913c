package query

import (
	"context"

	"golang.org/x/time/rate"
)

// BackgroundLimiter throttles background revalidation: a token-bucket
// limiter guards against a burst of stale reads all triggering their own
// background refetch of the same kind of data at once.
type BackgroundLimiter struct {
	limiter *rate.Limiter
}

// NewBackgroundLimiter builds a limiter allowing rps background
// revalidations per second, with burst as the initial allowance.
func NewBackgroundLimiter(rps float64, burst int) *BackgroundLimiter {
	return &BackgroundLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a background revalidation may start right now
// without blocking. A denied revalidation is simply skipped; the stale
// data already returned to the caller is still valid to show.
func (l *BackgroundLimiter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *BackgroundLimiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
