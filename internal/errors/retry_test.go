package errors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// TS02: Retry succeeds on transient error
func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return NetworkError("transient", nil)
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetryConfig(3), fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	cause := NetworkError("down", nil)
	fn := func() error {
		attempts++
		return cause
	}

	// When: retrying with two retries
	err := Retry(context.Background(), fastRetryConfig(2), fn)

	// Then: the last error is wrapped and still matchable
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeNetworkTimeout, GetCode(err))
	assert.Equal(t, 3, attempts)
}

func TestRetry_ZeroRetriesReturnsErrorUnwrapped(t *testing.T) {
	// Given: no retries configured
	cause := errors.New("boom")

	// When: the single attempt fails
	err := Retry(context.Background(), fastRetryConfig(0), func() error { return cause })

	// Then: the error is returned as is
	assert.Equal(t, cause, err)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a predicate that only retries retryable codes
	cfg := fastRetryConfig(5)
	cfg.ShouldRetry = IsRetryable
	attempts := 0
	fn := func() error {
		attempts++
		return New(ErrCodeFetchStatus, "404", nil)
	}

	// When: retrying
	err := Retry(context.Background(), cfg, fn)

	// Then: one attempt only
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeFetchStatus, GetCode(err))
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: a long backoff and a context cancelled shortly after start
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	cfg := fastRetryConfig(3)
	cfg.InitialDelay = time.Second

	// When: retrying
	start := time.Now()
	err := Retry(ctx, cfg, func() error { return errors.New("error") })

	// Then: returns the context error quickly
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	// Given: a function that succeeds on its second call
	var calls atomic.Int32
	fn := func() (string, error) {
		if calls.Add(1) < 2 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	}

	// When: retrying
	got, err := RetryWithResult(context.Background(), fastRetryConfig(2), fn)

	// Then: the value is returned
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetryWithResult_ReturnsZeroOnFailure(t *testing.T) {
	// Given: a function that returns a partial value with an error
	fn := func() (int, error) { return 42, errors.New("fail") }

	// When: retries are exhausted
	got, err := RetryWithResult(context.Background(), fastRetryConfig(1), fn)

	// Then: the zero value is returned
	assert.Error(t, err)
	assert.Equal(t, 0, got)
}

func TestDefaultRetryConfig_HasSensibleDefaults(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Greater(t, cfg.MaxDelay, cfg.InitialDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	require.NotNil(t, cfg.ShouldRetry)
	assert.True(t, cfg.ShouldRetry(NetworkError("x", nil)))
	assert.False(t, cfg.ShouldRetry(ValidationError("x", nil)))
}
