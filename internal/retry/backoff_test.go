package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) *Backoff {
	return &Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   1.5,
		MaxAttempts:  attempts,
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	calls := 0
	err := fast(10).Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_ImmediateSuccess(t *testing.T) {
	calls := 0
	require.NoError(t, DefaultBackoff(3).Do(context.Background(), func(int) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestBackoff_PermanentError(t *testing.T) {
	calls := 0
	err := DefaultBackoff(5).Do(context.Background(), func(int) error {
		calls++
		return Permanent(errors.New("fatal"))
	})
	assert.EqualError(t, err, "fatal")
	assert.Equal(t, 1, calls)
}

func TestBackoff_NonRetryable(t *testing.T) {
	b := fast(5)
	b.Retryable = func(err error) bool { return err.Error() != "bad address" }

	calls := 0
	err := b.Do(context.Background(), func(int) error {
		calls++
		return errors.New("bad address")
	})
	assert.EqualError(t, err, "bad address")
	assert.Equal(t, 1, calls)
}

func TestBackoff_MaxAttempts(t *testing.T) {
	var retried []int
	b := fast(3)
	b.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	calls := 0
	err := b.Do(context.Background(), func(int) error {
		calls++
		return errors.New("refused")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Backoff{InitialDelay: time.Hour, MaxAttempts: 0}
	b.OnRetry = func(int, error, time.Duration) { cancel() }

	err := b.Do(ctx, func(int) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_DelaysGrowAndCap(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	b := &Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  5,
		Clock:        mock,
		OnRetry: func(_ int, _ error, wait time.Duration) {
			waits = append(waits, wait)
			// Keep advancing until the timer Do is about to arm has fired.
			go func() {
				for i := 0; i < 50; i++ {
					mock.Add(wait)
					time.Sleep(time.Millisecond)
				}
			}()
		},
	}

	err := b.Do(context.Background(), func(int) error { return errors.New("x") })
	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, waits)
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
	assert.Equal(t, time.Millisecond, jitter(0))
}
