// Package retry implements the reconnect policy the terminal applies
// around client connects.  Transports never retry on their own; a failed
// connect is reported once and the caller decides what to do.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
)

// PermanentError marks an error that retrying will not fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	InitialDelay time.Duration // default 500ms
	MaxDelay     time.Duration // default 10s
	Multiplier   float64       // default 2
	// MaxAttempts counts the first try.  Zero retries until ctx is done.
	MaxAttempts int
	// Jitter spreads each delay by ±25%.
	Jitter bool

	// Retryable, when set, decides whether an error is worth another
	// attempt.  Errors it rejects are returned at once.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Clock drives the waits; nil means wall time.
	Clock clock.Clock
}

// DefaultBackoff returns the policy used for --retries.
func DefaultBackoff(attempts int) *Backoff {
	return &Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		MaxAttempts:  attempts,
		Jitter:       true,
	}
}

// Do calls fn until it returns nil, a permanent or non-retryable error,
// the attempt budget runs out, or ctx is done.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	clk := b.Clock
	if clk == nil {
		clk = clock.New()
	}
	delay := orDuration(b.InitialDelay, 500*time.Millisecond)
	maxDelay := orDuration(b.MaxDelay, 10*time.Second)
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = jitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		timer := clk.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		if delay = time.Duration(float64(delay) * mult); delay > maxDelay {
			delay = maxDelay
		}
	}
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	quarter := float64(d) / 4
	out := time.Duration(float64(d) + rand.Float64()*2*quarter - quarter) //nolint:gosec
	if out < time.Millisecond {
		return time.Millisecond
	}
	return out
}
