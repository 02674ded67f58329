package httpclient

import (
	"context"
	"time"
)

// RetryPolicy controls Retry. MaxAttempts counts retries after the first
// try, so an operation runs at most MaxAttempts+1 times.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// ShouldRetry overrides IsRetryable when set.
	ShouldRetry func(err error) bool
	// OnRetry is called before each wait with the upcoming attempt number,
	// the delay about to be slept, and the error that triggered the retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns 3 retries on a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Backoff returns the delay before attempt n (n >= 2): base * 2^(n-2).
// There is no jitter so delays are reproducible.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	return base << (attempt - 2)
}

// Retry runs op until it succeeds, returns a non-retryable error, or all
// attempts are exhausted. The last observed error is returned unchanged.
// Context cancellation ends the wait and returns the last error.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}

	total := max(p.MaxAttempts, 0) + 1

	var zero T
	var lastErr error

	for attempt := 1; attempt <= total; attempt++ {
		if attempt > 1 {
			delay := Backoff(p.BaseDelay, attempt)

			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}

			if err := sleep(ctx, delay); err != nil {
				return zero, lastErr
			}
		}

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
