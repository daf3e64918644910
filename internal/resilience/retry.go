package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryOption configures [Retry].
type RetryOption func(*retryConfig)

type retryConfig struct {
	backoff time.Duration
	onError func(attempt int, err error)
}

// WithBackoff waits d between attempts. Without it attempts follow each other
// immediately.
func WithBackoff(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.backoff = d }
}

// OnRetryError is called after every failed attempt (1-based).
func OnRetryError(fn func(attempt int, err error)) RetryOption {
	return func(c *retryConfig) { c.onError = fn }
}

// Retry calls fn up to attempts times and returns the first success. The last
// error is returned wrapped with the attempt count once every attempt failed.
// Cancelling ctx stops retrying.
func Retry[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	var cfg retryConfig
	for _, o := range opts {
		o(&cfg)
	}
	attempts = max(attempts, 1)

	var (
		zero T
		err  error
	)
	for i := 1; i <= attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
		if cfg.onError != nil {
			cfg.onError(i, err)
		}
		if i < attempts && cfg.backoff > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(cfg.backoff):
			}
		}
	}
	return zero, fmt.Errorf("resilience: %d attempts failed: %w", attempts, err)
}
