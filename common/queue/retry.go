package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy wraps an operation with bounded exponential backoff.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Retryable decides whether a failed attempt is worth repeating. A nil
	// Retryable retries every error.
	Retryable func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a non-retryable error or the attempt
// budget is spent. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
	return attempt, err
}

// Budget is the longest Do can run when every attempt is bounded by
// attemptTimeout, counting the backoff waits at their randomized maximum.
func (p RetryPolicy) Budget(attemptTimeout time.Duration) time.Duration {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	maxWait := p.MaxInterval
	if maxWait <= 0 {
		maxWait = backoff.DefaultMaxInterval
	}
	// ExponentialBackOff randomizes each interval by up to 50%.
	maxWait += maxWait / 2
	return time.Duration(attempts)*attemptTimeout + time.Duration(attempts-1)*maxWait
}
