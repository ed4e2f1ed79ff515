package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter adds up to 10% randomness to each delay
	Jitter bool
	// RetryableErrors decides whether an error is worth another attempt
	RetryableErrors func(error) bool
	// OnRetry is called before each retry delay
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits for d or until ctx is done. Defaults to a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// UpstreamBackoffConfig is the schedule used against the helpdesk and its
// accounts service: one attempt plus three retries, waiting 5s, 10s and 20s.
func UpstreamBackoffConfig(retryable func(error) bool) RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialDelay:      5 * time.Second,
		MaxDelay:          20 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableErrors:   retryable,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}

	if errors.IsType(err, errors.ErrorTypeExternal) {
		return true
	}

	if errors.IsType(err, errors.ErrorTypeValidation) ||
		errors.IsType(err, errors.ErrorTypeAuthentication) ||
		errors.IsType(err, errors.ErrorTypeNotFound) {
		return false
	}

	return true
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs operation until it succeeds, returns a non-retryable error,
// or runs out of attempts. Exhaustion yields an *ExhaustedError.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return nil
		}

		lastErr = err

		if !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.Delay(attempt)

		r.logger.Warn("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay.String(),
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.config.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)

	return &ExhaustedError{Attempts: r.config.MaxAttempts, Last: lastErr}
}

// Delay returns the wait before the retry that follows the given 1-based
// attempt: InitialDelay * BackoffMultiplier^(attempt-1), capped at MaxDelay.
func (r *Retrier) Delay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}

	return time.Duration(delay)
}

// ExecuteWithResult runs operation through r and returns its value
func ExecuteWithResult[T any](ctx context.Context, r *Retrier, operation func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operation)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
