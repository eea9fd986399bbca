package client

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryPolicy retries failed requests a fixed number of times. A 404 and a
// 401 are terminal, as is a cancelled or expired context.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration // delay before the first retry, doubled after each
}

// DefaultRetryPolicy is what reads through the cache use.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, Backoff: 200 * time.Millisecond}

// ShouldRetry reports whether a failure on the given attempt (0-based) may
// be retried.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrReauthenticate) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return false
	}
	return true
}

// Retry runs fn until it succeeds or the policy gives up, returning the last
// error.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	delay := p.Backoff
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if !p.ShouldRetry(attempt, err) {
			return v, err
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return v, err
			case <-t.C:
			}
			delay *= 2
		}
	}
}
