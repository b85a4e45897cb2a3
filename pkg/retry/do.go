// Package retry reruns a fallible step with configurable backoff —
// ringnet's binaries use it to absorb transient bind failures when a
// driver restarts faster than the OS releases its old port pair.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Func is one attempt of the operation under retry. It must respect ctx.
type Func func(ctx context.Context) error

// Backoff maps a zero-based attempt number to the pause taken before the
// next attempt.
type Backoff func(attempt int) time.Duration

// Fixed pauses the same interval between every attempt.
func Fixed(interval time.Duration) Backoff {
	return func(int) time.Duration { return interval }
}

// Linear grows the pause by base per attempt, optionally capped at max.
func Linear(base time.Duration, max ...time.Duration) Backoff {
	return capped(func(attempt int) time.Duration {
		return base * time.Duration(attempt+1)
	}, max)
}

// Exponential doubles the pause every attempt, optionally capped at max.
func Exponential(base time.Duration, max ...time.Duration) Backoff {
	return capped(func(attempt int) time.Duration {
		return base * time.Duration(1<<attempt)
	}, max)
}

func capped(b Backoff, max []time.Duration) Backoff {
	if len(max) == 0 || max[0] <= 0 {
		return b
	}
	limit := max[0]
	return func(attempt int) time.Duration {
		if d := b(attempt); d < limit {
			return d
		}
		return limit
	}
}

type config struct {
	maxAttempts int
	backoff     Backoff
	jitter      bool
}

// Option adjusts Do's behavior.
type Option func(*config)

// WithMaxAttempts bounds the total number of attempts, first included.
// The default is 3; values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff replaces the default fixed one-second pause.
func WithBackoff(b Backoff) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithJitter randomizes each pause to a uniform value in (0, pause],
// spreading simultaneously restarted drivers apart.
func WithJitter() Option {
	return func(c *config) { c.jitter = true }
}

// Do runs fn until it returns nil, the attempt budget is spent, or ctx is
// done. Context cancellation is never retried; once the budget runs out
// the last attempt's error is returned.
func Do(ctx context.Context, fn Func, opts ...Option) error {
	cfg := config{maxAttempts: 3, backoff: Fixed(time.Second)}
	for _, opt := range opts {
		opt(&cfg)
	}

	var lastErr error
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == cfg.maxAttempts-1 {
			break
		}
		wait := cfg.backoff(attempt)
		if cfg.jitter && wait > 0 {
			wait = time.Duration(rand.Int63n(int64(wait))) + 1
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}
