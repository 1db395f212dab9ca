// Package metrics holds the latency recorder fed by the poller and its
// Prometheus export.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter names
const (
	CounterReceived       = "messages.received"
	CounterPublished      = "messages.published"
	CounterErrors         = "errors"
	CounterClockAnomalies = "clock.anomalies"
	CounterBackpressure   = "backpressure.retries"
	CounterFeedReceived   = "feed.messages.received"
)

// DefaultWindow is the number of most recent samples percentiles are
// computed over.
const DefaultWindow = 65536

// Snapshot is a point-in-time view of the recorded latencies.
type Snapshot struct {
	Count  uint64        `json:"count"`
	Window int           `json:"window"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Sum    time.Duration `json:"sum"`
	Mean   time.Duration `json:"mean"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
}

// Recorder accumulates latency samples from a single writer and serves
// snapshots to any number of readers without blocking the writer.
//
// Samples land in a ring of atomics; a snapshot copies the ring and sorts
// the copy. Percentiles use the nearest-rank method over the window, so
// they are exact for up to DefaultWindow samples and deterministic for a
// fixed input sequence.
type Recorder struct {
	window  []atomic.Int64
	written atomic.Uint64
	sum     atomic.Int64
	min     atomic.Int64
	max     atomic.Int64

	mu       sync.RWMutex
	counters map[string]*atomic.Int64
}

// NewRecorder creates a recorder keeping the last windowSize samples.
func NewRecorder(windowSize int) *Recorder {
	if windowSize < 1 {
		windowSize = DefaultWindow
	}

	r := &Recorder{
		window:   make([]atomic.Int64, windowSize),
		counters: make(map[string]*atomic.Int64),
	}
	r.min.Store(math.MaxInt64)

	for _, name := range []string{
		CounterReceived,
		CounterPublished,
		CounterErrors,
		CounterClockAnomalies,
		CounterBackpressure,
		CounterFeedReceived,
	} {
		r.counters[name] = new(atomic.Int64)
	}
	return r
}

// Record appends one latency sample. Only one goroutine may call it.
func (r *Recorder) Record(d time.Duration) {
	v := int64(d)
	n := r.written.Load()

	r.window[n%uint64(len(r.window))].Store(v)
	r.sum.Add(v)
	if v < r.min.Load() {
		r.min.Store(v)
	}
	if v > r.max.Load() {
		r.max.Store(v)
	}
	r.written.Store(n + 1)
}

// Snapshot returns count and percentiles of the recorded samples.
func (r *Recorder) Snapshot() Snapshot {
	n := r.written.Load()
	if n == 0 {
		return Snapshot{}
	}

	size := len(r.window)
	if n < uint64(size) {
		size = int(n)
	}

	sum := r.sum.Load()
	samples := make([]int64, size)
	for i := range samples {
		samples[i] = r.window[i].Load()
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return Snapshot{
		Count:  n,
		Window: size,
		Min:    time.Duration(r.min.Load()),
		Max:    time.Duration(r.max.Load()),
		Sum:    time.Duration(sum),
		Mean:   time.Duration(sum / int64(n)),
		P50:    time.Duration(percentile(samples, 50)),
		P95:    time.Duration(percentile(samples, 95)),
		P99:    time.Duration(percentile(samples, 99)),
	}
}

// percentile returns the nearest-rank percentile of sorted samples.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Inc adds one to the named counter, creating it on first use.
func (r *Recorder) Inc(name string) {
	r.Add(name, 1)
}

// Add adds delta to the named counter, creating it on first use.
func (r *Recorder) Add(name string, delta int64) {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if c, ok = r.counters[name]; !ok {
			c = new(atomic.Int64)
			r.counters[name] = c
		}
		r.mu.Unlock()
	}
	c.Add(delta)
}

// Counter returns the value of the named counter, zero if unknown.
func (r *Recorder) Counter(name string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// Counters returns a copy of every counter.
func (r *Recorder) Counters() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	return out
}
