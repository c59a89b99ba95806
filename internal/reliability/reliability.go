// Package reliability holds small retry helpers shared by the outbound
// clients and the scheduler.
package reliability

import (
	"context"
	"errors"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry runs fn up to attempts times, backing off between failures. It
// returns nil on the first success, otherwise the last error. An error
// that reports Retryable() false ends the loop at once, and a context
// cancellation during backoff wins over further attempts.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(ExponentialBackoff(attempt-1, base, cap)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		var r interface{ Retryable() bool }
		if errors.As(lastErr, &r) && !r.Retryable() {
			return lastErr
		}
	}
	return lastErr
}
