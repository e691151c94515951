// Package retry implements the fixed-schedule retry-with-backoff primitive
// used by the client's two-phase broker (spec.md §4.5).
package retry

import (
	"context"
	"time"

	"github.com/100monkeys-ai/monkey-troop/internal/logging"
	"github.com/100monkeys-ai/monkey-troop/internal/shared"
)

// WithBackoff runs op up to shared.MaxRetries times, sleeping
// shared.RetryDelays[i] between attempt i and i+1. It returns the first
// non-error result immediately; if every attempt fails it returns the last
// error. name identifies the operation in log messages; log may be nil.
// A non-retriable error (spec.md §7: anything other than a transient
// network/timeout/worker-unavailable/circuit-breaker-open failure, e.g. a
// malformed response body or ErrNoNodesAvailable) is returned immediately
// without consuming further attempts.
func WithBackoff[T any](ctx context.Context, log *logging.Logger, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < shared.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 0 && log != nil {
				log.WithFields(map[string]interface{}{
					"operation": name,
					"attempt":   attempt + 1,
				}).Info("succeeded on retry")
			}
			return result, nil
		}
		lastErr = err

		if !shared.KindOf(err).Retriable() {
			if log != nil {
				log.WithFields(map[string]interface{}{
					"operation": name,
					"attempt":   attempt + 1,
				}).WithError(err).Warn("operation failed with non-retriable error")
			}
			return zero, err
		}

		if attempt < shared.MaxRetries-1 {
			delay := shared.RetryDelays[attempt]
			if log != nil {
				log.WithFields(map[string]interface{}{
					"operation": name,
					"attempt":   attempt + 1,
					"delay":     delay.String(),
				}).WithError(err).Warn("operation failed, retrying")
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
