package transformers

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// withRetry executes fn with linear backoff, up to maxAttempts tries. Used
// only on the primary (streaming) client path; the raw HTTP fallback makes
// exactly one attempt.
func withRetry[T any](ctx context.Context, maxAttempts int, logPrefix string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		log.Warnf("%s attempt %d failed: %v", logPrefix, attempt+1, err)
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", logPrefix, maxAttempts, lastErr)
}
