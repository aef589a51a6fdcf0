package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RateMeter derives a bytes-per-second rate from a Counter by sampling
// it periodically and differencing consecutive samples.
type RateMeter struct {
	src   *Counter
	clock clock.Clock

	mu   sync.Mutex
	prev uint64
	last time.Time
	rate Counter
}

// NewRateMeter samples src using clk.  A nil clock means wall time.
func NewRateMeter(src *Counter, clk clock.Clock) *RateMeter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateMeter{src: src, clock: clk, last: clk.Now()}
}

// Sample reads the source, stores it as the new previous snapshot and
// returns the rate over the time since the last sample.  A source that
// was reset below the snapshot counts from zero.
func (m *RateMeter) Sample() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	raw := m.src.Raw()

	delta := raw
	if raw >= m.prev {
		delta = raw - m.prev
	}
	m.prev = raw

	elapsed := now.Sub(m.last)
	m.last = now

	perSec := delta
	if elapsed > 0 {
		perSec = uint64(float64(delta) * float64(time.Second) / float64(elapsed))
	}
	m.rate.Set(perSec)
	return perSec
}

// Rate returns the most recently sampled rate in bytes per second.
func (m *RateMeter) Rate() uint64 { return m.rate.Raw() }

// Prev returns the previous snapshot of the source.
func (m *RateMeter) Prev() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prev
}

// ResetSnapshot forgets the previous snapshot and the current rate.
func (m *RateMeter) ResetSnapshot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev = 0
	m.last = m.clock.Now()
	m.rate.Reset()
}

// FormatRate renders the rate as "1.50 KB/s".
func (m *RateMeter) FormatRate() string { return m.rate.Format() + "/s" }

// Run samples every interval until ctx is done, passing each rate to fn
// when fn is non-nil.  It always returns ctx.Err().
func (m *RateMeter) Run(ctx context.Context, interval time.Duration, fn func(rate uint64)) error {
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r := m.Sample()
			if fn != nil {
				fn(r)
			}
		}
	}
}
