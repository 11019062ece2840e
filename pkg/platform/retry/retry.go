// Package retry models bounded retry as an explicit policy instead of ad hoc
// sleep loops, so initialization stays responsive to cancellation.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry schedule. Backoff maps a 1-based attempt
// number to the delay inserted after that attempt fails.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// Linear returns a policy whose delay grows as baseDelay * attempt
// (2s, 4s, 6s, ... for a 2s base).
func Linear(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int) time.Duration {
			return baseDelay * time.Duration(attempt)
		},
	}
}

// Do runs fn up to p.MaxAttempts times, waiting p.Backoff(attempt) between
// failures. Waits are timer-based and abort promptly when ctx is cancelled.
// Returns nil on the first success, otherwise the last error seen.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
