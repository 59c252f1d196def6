// Package retry runs an operation a bounded number of times with exponential
// backoff between attempts.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Retryer retries fn while it asks to, at most maxRetries extra times.
type Retryer struct {
	maxRetries uint
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetryer(maxRetries uint, baseDelay, maxDelay time.Duration) *Retryer {
	return &Retryer{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		sleep:      sleepCtx,
	}
}

// MaxRetries returns the number of retries after the first attempt.
func (r *Retryer) MaxRetries() uint { return r.maxRetries }

// Do calls fn until it reports shouldRetry=false or retries run out, and
// returns the last error. attempt starts at 0.
func (r *Retryer) Do(ctx context.Context, fn func(attempt uint) (shouldRetry bool, err error)) error {
	var lastErr error
	b := &backoff.Backoff{Min: r.baseDelay, Max: r.maxDelay, Factor: 2}

	for attempt := uint(0); attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		shouldRetry, err := fn(attempt)
		if !shouldRetry {
			return err
		}
		lastErr = err

		if attempt < r.maxRetries {
			if err := r.sleep(ctx, b.ForAttempt(float64(attempt))); err != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
