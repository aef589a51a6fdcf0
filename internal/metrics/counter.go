// Package metrics provides the byte counters, rate meter and Prometheus
// collector behind falcon's throughput accounting.
//
// All methods are safe for concurrent use.  A nil *Collector is a valid
// no-op receiver, so callers never need to nil-check.
package metrics

import (
	"fmt"
	"sync/atomic"
)

// Unit is a display unit for byte quantities.  Steps are 1024-based.
type Unit int

const (
	B Unit = iota
	KB
	MB
	GB
)

var unitNames = [...]string{"B", "KB", "MB", "GB"} //nolint:gochecknoglobals

func (u Unit) String() string {
	if u < B || u > GB {
		return "?"
	}
	return unitNames[u]
}

// Size returns the number of bytes in one u.
func (u Unit) Size() uint64 { return 1 << (10 * uint(u)) }

// Counter is a monotonic byte accumulator.  The zero value is ready to use.
type Counter struct {
	v atomic.Uint64
}

// Add accumulates n bytes and returns the new total.
func (c *Counter) Add(n uint64) uint64 { return c.v.Add(n) }

// Raw returns the total in bytes.
func (c *Counter) Raw() uint64 { return c.v.Load() }

// Set overwrites the total.
func (c *Counter) Set(n uint64) { c.v.Store(n) }

// Reset sets the total back to zero.
func (c *Counter) Reset() { c.v.Store(0) }

// RecommendedUnit returns the largest unit in which the total is at
// least one whole unit.
func (c *Counter) RecommendedUnit() Unit { return unitFor(c.Raw()) }

// Scaled returns the total expressed in u.
func (c *Counter) Scaled(u Unit) float64 { return float64(c.Raw()) / float64(u.Size()) }

// Format renders the total in its recommended unit: "512 B", "1.50 KB".
func (c *Counter) Format() string { return formatBytes(c.Raw()) }

func unitFor(v uint64) Unit {
	u := B
	for u < GB && v >= (u+1).Size() {
		u++
	}
	return u
}

func formatBytes(v uint64) string {
	u := unitFor(v)
	if u == B {
		return fmt.Sprintf("%d B", v)
	}
	return fmt.Sprintf("%.2f %s", float64(v)/float64(u.Size()), u)
}
