// Package metrics provides latency tracking with percentile calculations.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Stage names recorded by the classifier.
const (
	StageEmbed    = "embed"
	StageSearch   = "search"
	StageClassify = "classify"
	StageExplain  = "explain"
	StageBatch    = "classify_batch"
)

// =============================================================================
// Latency Tracker (ring buffer, P50/P95/P99)
// =============================================================================

// LatencyTracker keeps the most recent window of samples in a ring.
type LatencyTracker struct {
	mu      sync.Mutex
	ring    []time.Duration
	next    int
	full    bool
	total   int64
	scratch []time.Duration
}

// NewLatencyTracker creates a tracker holding windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{ring: make([]time.Duration, windowSize)}
}

// Record stores one latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.ring[lt.next] = d
	lt.next++
	if lt.next == len(lt.ring) {
		lt.next = 0
		lt.full = true
	}
	lt.total++
	lt.mu.Unlock()
}

// Stats returns statistics over the current window.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := lt.next
	if lt.full {
		n = len(lt.ring)
	}
	if n == 0 {
		return LatencyStats{}
	}

	lt.scratch = append(lt.scratch[:0], lt.ring[:n]...)
	sort.Slice(lt.scratch, func(i, j int) bool { return lt.scratch[i] < lt.scratch[j] })

	var sum time.Duration
	for _, v := range lt.scratch {
		sum += v
	}
	return LatencyStats{
		Count:   lt.total,
		Min:     lt.scratch[0],
		Max:     lt.scratch[n-1],
		Avg:     sum / time.Duration(n),
		P50:     percentile(lt.scratch, 0.50),
		P90:     percentile(lt.scratch, 0.90),
		P95:     percentile(lt.scratch, 0.95),
		P99:     percentile(lt.scratch, 0.99),
		Samples: n,
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	P50     time.Duration
	P90     time.Duration
	P95     time.Duration
	P99     time.Duration
	Samples int
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// ToMap converts stats to a JSON-friendly map in milliseconds.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":       s.Count,
		"min_ms":      ms(s.Min),
		"max_ms":      ms(s.Max),
		"avg_ms":      ms(s.Avg),
		"p50_ms":      ms(s.P50),
		"p90_ms":      ms(s.P90),
		"p95_ms":      ms(s.P95),
		"p99_ms":      ms(s.P99),
		"sample_size": s.Samples,
	}
}

// =============================================================================
// Registry
// =============================================================================

// LatencyRegistry holds one tracker per stage name.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates a new latency registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

func (r *LatencyRegistry) tracker(name string) *LatencyTracker {
	r.mu.RLock()
	t, ok := r.trackers[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.trackers[name]; !ok {
		t = NewLatencyTracker(r.window)
		r.trackers[name] = t
	}
	return t
}

// Record records a latency for the given stage. A nil registry is a no-op.
func (r *LatencyRegistry) Record(name string, d time.Duration) {
	if r == nil {
		return
	}
	r.tracker(name).Record(d)
}

// Observe starts a timer; call the returned func to record it.
//
//	defer reg.Observe(metrics.StageEmbed)()
func (r *LatencyRegistry) Observe(name string) func() {
	start := time.Now()
	return func() { r.Record(name, time.Since(start)) }
}

// Stats returns statistics for one stage.
func (r *LatencyRegistry) Stats(name string) LatencyStats {
	if r == nil {
		return LatencyStats{}
	}
	r.mu.RLock()
	t, ok := r.trackers[name]
	r.mu.RUnlock()
	if !ok {
		return LatencyStats{}
	}
	return t.Stats()
}

// Snapshot returns every stage's stats as maps, ready for JSON.
func (r *LatencyRegistry) Snapshot() map[string]map[string]any {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make(map[string]map[string]any, len(names))
	for _, name := range names {
		out[name] = r.Stats(name).ToMap()
	}
	return out
}
