package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	var notified []int
	result, attempts, err := Retry(context.Background(), fastPolicy(5), func(attempt int) (string, error) {
		if attempt < 3 {
			return "", NewTransientError("node unavailable", errors.New("connection refused"))
		}
		return "ok", nil
	}, func(err error, attempt int, delay time.Duration) {
		notified = append(notified, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetry_PermanentFailsFast(t *testing.T) {
	calls := 0
	_, attempts, err := Retry(context.Background(), fastPolicy(5), func(int) (int, error) {
		calls++
		return 0, ErrUnauthorized
	}, nil)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, attempts, err := Retry(context.Background(), fastPolicy(3), func(int) (int, error) {
		calls++
		return 0, ErrExecutionFailed
	}, nil)

	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
}

func TestRetry_SingleAttempt(t *testing.T) {
	calls := 0
	_, _, err := Retry(context.Background(), RetryPolicy{}, func(int) (int, error) {
		calls++
		return 0, ErrExecutionFailed
	}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_CustomPredicate(t *testing.T) {
	flaky := errors.New("flaky")
	policy := fastPolicy(4)
	policy.Retryable = func(err error) bool { return errors.Is(err, flaky) }

	calls := 0
	_, _, err := Retry(context.Background(), policy, func(int) (int, error) {
		calls++
		return 0, flaky
	}, nil)

	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 4, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy(10)
	policy.InitialInterval = time.Hour
	policy.MaxInterval = time.Hour

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, attempts, err := Retry(ctx, policy, func(int) (int, error) {
		return 0, ErrExecutionFailed
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextDoneDuringAttempt(t *testing.T) {
	// an attempt that fails because ctx ran out reports its own error
	ctx, cancel := context.WithCancel(context.Background())
	_, attempts, err := Retry(ctx, fastPolicy(5), func(int) (int, error) {
		cancel()
		return 0, WaitAbortedError("0xabc", ctx.Err())
	}, nil)

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, ErrWaitAborted)
	assert.ErrorIs(t, err, context.Canceled)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "0xabc", e.Details["transaction"])
}
