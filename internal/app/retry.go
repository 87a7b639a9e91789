package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes how many times an operation runs and how long to wait between runs.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay before the given attempt (attempt >= 2).
	Backoff func(attempt int) time.Duration
	// Retryable reports whether err may succeed on another attempt. Nil retries everything
	// except context errors.
	Retryable func(err error) bool
}

// DefaultRetryPolicy is 3 attempts with delays of 1s then 2s, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     CappedExponential(time.Second, 5*time.Second),
	}
}

// CappedExponential returns min(base * 2^(attempt-2), max) for attempt >= 2 and 0 before that.
func CappedExponential(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 2 {
			return 0
		}
		shift := attempt - 2
		if shift > 30 {
			return max
		}
		d := base << shift
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// WithRetry runs op until it succeeds, returns a non-retryable error, or the policy is exhausted.
// The last error is returned on exhaustion.
func WithRetry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = isTransient
	}
	return backoff.Retry(func() error {
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(&policyBackOff{policy: policy}, ctx))
}

func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// policyBackOff adapts a RetryPolicy to backoff.BackOff.
type policyBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (b *policyBackOff) Reset() { b.attempt = 1 }

func (b *policyBackOff) NextBackOff() time.Duration {
	max := b.policy.MaxAttempts
	if max < 1 {
		max = 1
	}
	if b.attempt >= max {
		return backoff.Stop
	}
	b.attempt++
	if b.policy.Backoff == nil {
		return 0
	}
	return b.policy.Backoff(b.attempt)
}
