package registry

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically non-decreasing statistic. Updates are lock-free:
// the value lives in a single atomic word, so producers never contend with
// each other beyond the CAS retry.
type Counter struct {
	bits atomic.Uint64
}

// Add increments the counter by delta. A negative or NaN delta fails with
// ErrNegativeDelta and leaves the value unchanged.
func (c *Counter) Add(delta float64) error {
	if delta < 0 || math.IsNaN(delta) {
		return fmt.Errorf("%w: %v", ErrNegativeDelta, delta)
	}
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if c.bits.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	_ = c.Add(1)
}

// Value returns the current counter value.
func (c *Counter) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Gauge is a point-in-time numeric statistic with arbitrary direction of
// change. Same single-word atomic representation as Counter.
type Gauge struct {
	bits atomic.Uint64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Add adds delta to the gauge (delta may be negative).
func (g *Gauge) Add(delta float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Sub subtracts delta from the gauge.
func (g *Gauge) Sub(delta float64) { g.Add(-delta) }

// Inc adds one to the gauge.
func (g *Gauge) Inc() { g.Add(1) }

// Dec subtracts one from the gauge.
func (g *Gauge) Dec() { g.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Histogram is a cumulative-bucketed distribution statistic. Bucket counts,
// sum and total count are updated and read under one mutex so a reader never
// observes a torn instance.
type Histogram struct {
	bounds []float64 // immutable after creation, shared with the family

	mu     sync.Mutex
	counts []uint64 // cumulative: counts[i] includes all buckets below bounds[i]
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	return &Histogram{
		bounds: bounds,
		counts: make([]uint64, len(bounds)),
	}
}

// Observe records a value: every bucket whose upper bound is >= v is
// incremented, the total count grows by one and the sum by v. Values above
// the highest bound are reflected only in sum and count.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	for i := len(h.bounds) - 1; i >= 0; i-- {
		if v > h.bounds[i] {
			break
		}
		h.counts[i]++
	}
	h.count++
	h.sum += v
	h.mu.Unlock()
}

// Buckets returns the bucket upper bounds.
func (h *Histogram) Buckets() []float64 {
	return h.bounds
}

// read returns a consistent copy of the histogram state.
func (h *Histogram) read() (counts []uint64, sum float64, count uint64) {
	h.mu.Lock()
	counts = make([]uint64, len(h.counts))
	copy(counts, h.counts)
	sum = h.sum
	count = h.count
	h.mu.Unlock()
	return counts, sum, count
}
