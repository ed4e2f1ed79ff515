// Package resilience provides bounded retry with exponential backoff for
// calls to the helpdesk and its accounts service.
//
// Retries are a loop, never recursion, so the ceiling is a plain
// configuration value:
//
//	retrier := resilience.NewRetrier(resilience.UpstreamBackoffConfig(isRateLimited))
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return refresh(ctx)
//	})
//
// Waiting between attempts selects on the context and a timer, so the
// calling goroutine yields and a cancelled context ends the wait. Tests can
// replace the wait with RetryConfig.Sleep to observe the exact schedule.
//
// When every attempt fails with a retryable error, Execute returns an
// *ExhaustedError wrapping the last failure, letting callers map exhaustion
// to their own error (for example RateLimitExceeded).
package resilience
