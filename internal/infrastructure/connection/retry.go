package connection

import (
	"context"
	"time"
)

// RetryPolicy retries an operation a fixed number of times with a constant
// wait between attempts.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Do runs op until it succeeds or the attempts are exhausted. It returns the
// last error, or the context error if ctx ends while waiting.
func (rp RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := rp.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := op(attempt); err != nil {
			lastErr = err
			if attempt == attempts {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rp.Backoff):
			}
			continue
		}
		return nil
	}
	return lastErr
}
