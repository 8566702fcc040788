package syncer

import (
	"context"
	"errors"
	"time"

	"shopsavr-agent/internal/backend"
)

// retryable reports whether another attempt in the same pass can help.
// Client errors and refused credentials will fail the same way again.
func retryable(err error) bool {
	if errors.Is(err, backend.ErrUnauthorized) {
		return false
	}
	var ne *backend.NetworkError
	if errors.As(err, &ne) {
		return ne.StatusCode == 0 || ne.StatusCode >= 500 || ne.StatusCode == 429
	}
	return false
}

// withRetry runs fn up to attempts times, doubling the wait after each
// retryable failure starting at base.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := base * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(ctx); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
