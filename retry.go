package escrow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how transient failures are retried
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; values below 1 mean a single attempt
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable reports whether an error may be retried. Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient failures three times in total
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Retryable:       IsRetryable,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	// attempts bound the schedule, not wall time
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// RetryNotify is called with the failure and the delay before the next attempt
type RetryNotify func(err error, attempt int, delay time.Duration)

// Retry runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx is done. fn receives the 1-based attempt number; the
// number of attempts made is returned alongside the result.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(attempt int) (T, error), notify RetryNotify) (T, int, error) {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		result, err := fn(attempt)
		// once ctx is done the attempt's own error is the final answer
		if err != nil && (!retryable(err) || ctx.Err() != nil) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, delay time.Duration) {
			notify(err, attempt, delay)
		}
	}

	result, err := backoff.RetryNotifyWithData(op, policy.backOff(ctx), onRetry)
	return result, attempt, err
}
