// Package util provides shared utility functions for texlazy.
package util

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// DatabaseRetryOptions returns retry options optimized for database operations.
// Makes 3 attempts with doubling backoff (100ms, then 200ms, capped at 300ms),
// retrying only "database is locked" errors.
func DatabaseRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(300 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsDatabaseLocked),
		retry.Context(ctx),
	}
}

// DefaultRetryOptions returns sensible defaults for retry operations.
func DefaultRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(1 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = DefaultRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// RetryWithResult executes fn with retry logic and returns the result.
func RetryWithResult[T any](ctx context.Context, fn func() (T, error), opts ...retry.Option) (T, error) {
	if len(opts) == 0 {
		opts = DefaultRetryOptions(ctx)
	}
	return retry.DoWithData(fn, opts...)
}

// NetworkRetryOptions returns retry options for outbound fetches against the
// registry base URL or the package proxy. Only transient transport failures
// are retried; a genuine 404 must fail fast into the negative-cache path
// instead of burning retry budget (§7 propagation policy).
func NetworkRetryOptions(ctx context.Context, attempts uint) []retry.Option {
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(150 * time.Millisecond),
		retry.MaxDelay(2 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransientNetworkError),
		retry.Context(ctx),
	}
}

// Common retry predicates

// IsDatabaseLocked returns true if the error indicates a database lock.
func IsDatabaseLocked(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsTransientNetworkError returns true for connection-level failures
// (timeouts, connection refused, DNS, reset) that are worth retrying. It
// deliberately does not match on HTTP status codes - those are decided by
// the caller after a successful round trip, not here.
func IsTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, substr := range []string{"connection refused", "connection reset", "EOF", "no such host", "broken pipe"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

