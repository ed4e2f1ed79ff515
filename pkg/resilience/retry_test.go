package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleeps replaces the real wait and records each requested delay
func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	var delays []time.Duration
	config := DefaultRetryConfig()
	config.Sleep = recordSleeps(&delays)
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
}

func TestRetrier_SuccessAfterRetries(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialDelay = time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return appErrors.NewUpstreamError("helpdesk", 503, "unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_ExhaustedReturnsLastError(t *testing.T) {
	var delays []time.Duration
	config := DefaultRetryConfig()
	config.Sleep = recordSleeps(&delays)
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return appErrors.NewUpstreamError("helpdesk", 503, "unavailable")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeExternal))
	assert.Contains(t, err.Error(), "operation failed after 3 attempts")
}

func TestRetrier_NonRetryableError(t *testing.T) {
	var delays []time.Duration
	config := DefaultRetryConfig()
	config.Sleep = recordSleeps(&delays)
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return appErrors.NewValidationError("validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, delays)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestRetrier_UpstreamBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	config := UpstreamBackoffConfig(func(error) bool { return true })
	config.Sleep = recordSleeps(&delays)
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("throttled")
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, delays)
}

func TestRetrier_ContextCancelledDuringWait(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 5
	config.InitialDelay = time.Second
	config.Jitter = false
	retrier := NewRetrier(config)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("retryable")
	})

	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	var delays []time.Duration
	config := DefaultRetryConfig()
	config.Jitter = false
	config.Sleep = recordSleeps(&delays)

	var retryAttempts []int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		retryAttempts = append(retryAttempts, attempt)
	}

	retrier := NewRetrier(config)
	_ = retrier.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("retryable")
	})

	assert.Equal(t, []int{1, 2}, retryAttempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestRetrier_DelayCappedAtMax(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:       10,
		InitialDelay:      time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, time.Second, retrier.Delay(1))
	assert.Equal(t, 2*time.Second, retrier.Delay(2))
	assert.Equal(t, 3*time.Second, retrier.Delay(3))
	assert.Equal(t, 3*time.Second, retrier.Delay(8))
}

func TestExecuteWithResult(t *testing.T) {
	config := DefaultRetryConfig()
	config.Sleep = func(context.Context, time.Duration) error { return nil }
	retrier := NewRetrier(config)

	calls := 0
	got, err := ExecuteWithResult(context.Background(), retrier, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first call fails")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}
