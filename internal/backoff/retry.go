package backoff

import (
	"context"

	"github.com/aria-ai/aria/internal/errdefs"
)

// Retry executes fn with exponential backoff up to maxAttempts times.
//
// Retries stop early when the error's kind is not retryable (Validation,
// Protected, Configuration, IncompatibleModel, ...): the propagation policy
// says those are surfaced immediately. Context cancellation is checked
// between attempts.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errdefs.Wrap(errdefs.KindCancelled, err, "retry aborted")
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !errdefs.Retryable(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := Sleep(ctx, policy, attempt); err != nil {
				return zero, errdefs.Wrap(errdefs.KindCancelled, lastErr, "retry aborted")
			}
		}
	}
	return zero, lastErr
}
