package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Backoff bounds a retry loop. Attempt n (from 0) waits BaseDelay*2^n,
// capped at MaxDelay, scaled by a random factor in [0.5, 1.5).
type Backoff struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultBackoff retries three times starting at 100ms
var DefaultBackoff = Backoff{
	MaxRetries: 3,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   5 * time.Second,
}

// Delay returns the wait before retry number attempt
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.BaseDelay
	for i := 0; i < attempt && delay < b.MaxDelay; i++ {
		delay *= 2
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return time.Duration(float64(delay) * (0.5 + rand.Float64()))
}

// RetryAfter is implemented by errors that carry a server-requested wait
type RetryAfter interface {
	RetryAfter() time.Duration
}

// Retry calls fn until it succeeds, retryable reports false, or MaxRetries
// retries have failed. A RetryAfter hint longer than the computed delay wins,
// up to MaxDelay.
func (b Backoff) Retry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= b.MaxRetries {
			return fmt.Errorf("giving up after %d retries: %w", b.MaxRetries, err)
		}

		delay := b.Delay(attempt)
		var hint RetryAfter
		if errors.As(err, &hint) && hint.RetryAfter() > delay {
			delay = hint.RetryAfter()
			if delay > b.MaxDelay {
				delay = b.MaxDelay
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		}
	}
}
