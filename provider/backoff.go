package provider

import (
	"context"
	"math/rand"
	"time"
)

// BackoffDelay computes the delay before retry attempt n (1-based) using
// exponential growth with up to 25% random jitter. When the failed call
// carried a Retry-After hint, the hint wins if it is longer.
func BackoffDelay(base time.Duration, attempt int, err error) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))

	if pe, ok := AsError(err); ok && pe.RetryAfter > delay {
		delay = pe.RetryAfter
	}
	return delay
}

// SleepBackoff waits for the computed backoff delay, returning early if ctx
// is cancelled.
func SleepBackoff(ctx context.Context, base time.Duration, attempt int, err error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(BackoffDelay(base, attempt, err)):
		return nil
	}
}
