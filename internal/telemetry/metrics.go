// Package telemetry instruments the two phases this library has:
// configuration (cells, gates, lookup arguments) and witness assignment
// (event rows, table rows, whole circuits). The instrumentation set is
// closed -- every metric is a typed field of BuildStats in stats.go
// rather than a name-keyed lookup, because a constraint builder knows at
// compile time exactly what it measures.
package telemetry

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing event count.
type Counter struct {
	n atomic.Uint64
}

// Inc adds one.
func (c *Counter) Inc() { c.n.Add(1) }

// Add adds n occurrences.
func (c *Counter) Add(n uint64) { c.n.Add(n) }

// Value returns the current count.
func (c *Counter) Value() uint64 { return c.n.Load() }

// HighWater tracks the maximum value ever recorded. The cell allocator
// uses one per typed column to expose how deep each column family filled,
// which is the observable form of the free-cell profiler.
type HighWater struct {
	v atomic.Int64
}

// Record raises the mark to v if v exceeds it.
func (h *HighWater) Record(v int64) {
	for {
		cur := h.v.Load()
		if v <= cur || h.v.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Value returns the highest recorded value, or 0 if none was recorded.
func (h *HighWater) Value() int64 { return h.v.Load() }

// latencyBuckets is the number of power-of-two microsecond buckets a
// LatencyHistogram keeps: bucket i counts observations in
// [2^i, 2^(i+1)) microseconds, with the last bucket open-ended. 20
// buckets reach ~1s, far beyond any single row assignment.
const latencyBuckets = 20

// LatencyHistogram records duration observations into fixed power-of-two
// microsecond buckets. It keeps enough to answer "how slow is a row
// assignment, and how uneven" without quantile machinery.
type LatencyHistogram struct {
	mu      sync.Mutex
	count   uint64
	sum     time.Duration
	buckets [latencyBuckets]uint64
}

// Observe records one duration.
func (h *LatencyHistogram) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	us := uint64(d.Microseconds())
	idx := bits.Len64(us)
	if idx >= latencyBuckets {
		idx = latencyBuckets - 1
	}
	h.mu.Lock()
	h.count++
	h.sum += d
	h.buckets[idx]++
	h.mu.Unlock()
}

// Start begins timing an operation; the returned stop function records
// the elapsed time into the histogram.
func (h *LatencyHistogram) Start() func() {
	begin := time.Now()
	return func() { h.Observe(time.Since(begin)) }
}

// Count returns the number of observations.
func (h *LatencyHistogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the average observed duration, or 0 with no observations.
func (h *LatencyHistogram) Mean() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / time.Duration(h.count)
}

// Buckets returns a copy of the power-of-two microsecond bucket counts.
func (h *LatencyHistogram) Buckets() [latencyBuckets]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buckets
}
