package provider

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter combines proactive throttling (token bucket) with reactive
// state learned from provider responses (429 Retry-After). It is advisory:
// it reduces wasted calls but callers never depend on it for correctness.
type RateLimiter struct {
	mu        sync.Mutex
	bucket    *rate.Limiter
	blockedTo time.Time
}

// NewRateLimiter creates a limiter allowing callsPerSecond sustained calls
// with a burst of burst.
func NewRateLimiter(callsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(callsPerSecond), burst),
	}
}

// Wait blocks until a call may be attempted or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	blockedTo := r.blockedTo
	r.mu.Unlock()

	if until := time.Until(blockedTo); until > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}
	return nil
}

// ObserveRateLimit records a rate-limit failure so subsequent calls hold off
// until the provider's hinted reset time.
func (r *RateLimiter) ObserveRateLimit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(retryAfter); until.After(r.blockedTo) {
		r.blockedTo = until
	}
}

// Blocked reports whether the limiter is currently holding calls back
// because of a previously observed rate limit.
func (r *RateLimiter) Blocked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.blockedTo)
}

// RetryAfterFromResponse parses the Retry-After header of a 429 response.
// Returns zero when the header is absent or unparseable.
func RetryAfterFromResponse(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
