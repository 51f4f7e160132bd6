// Package retry executes fallible operations with exponential backoff.
package retry

import (
	"context"
	"log"
	"time"
)

type Operation func() error

// Policy retries an operation up to MaxAttempts times, doubling the wait
// between attempts within [MinWait, MaxWait]. Retryable decides whether an
// error is worth another attempt; a nil Retryable retries everything. The
// last error is always returned unchanged so callers can inspect its kind.
type Policy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Retryable   func(error) bool
}

// Presets mirroring the operations they are tuned for.
var (
	Light = Policy{MaxAttempts: 3, MinWait: 2 * time.Second, MaxWait: 10 * time.Second}
	API   = Policy{MaxAttempts: 3, MinWait: 5 * time.Second, MaxWait: 30 * time.Second}
	DB    = Policy{MaxAttempts: 3, MinWait: 2 * time.Second, MaxWait: 20 * time.Second}
)

// Do runs op until it succeeds, a non-retryable error occurs, attempts are
// exhausted or ctx is cancelled. The backoff sleep aborts early on
// cancellation so shutdown is never stuck mid-wait.
func (p Policy) Do(ctx context.Context, op Operation) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		wait := p.backoff(attempt)
		log.Printf("Attempt %d/%d failed: %v, retrying in %s", attempt, attempts, lastErr, wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

func (p Policy) backoff(attempt int) time.Duration {
	wait := p.MinWait
	if wait <= 0 {
		wait = time.Second
	}

	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.MaxWait > 0 && wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	if p.MaxWait > 0 && wait > p.MaxWait {
		wait = p.MaxWait
	}

	return wait
}
