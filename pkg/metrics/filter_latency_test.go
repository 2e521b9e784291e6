package metrics

import (
	"testing"
	"time"
)

func TestLatencyTracker_Window(t *testing.T) {
	lt := NewLatencyTracker(4)
	for i := 1; i <= 6; i++ {
		lt.Record(time.Duration(i) * time.Millisecond)
	}

	s := lt.Stats()
	if s.Count != 6 {
		t.Errorf("Count = %d, want 6", s.Count)
	}
	if s.Samples != 4 {
		t.Errorf("Samples = %d, want 4", s.Samples)
	}
	if s.Min != 3*time.Millisecond {
		t.Errorf("Min = %v, want 3ms", s.Min)
	}
	if s.Max != 6*time.Millisecond {
		t.Errorf("Max = %v, want 6ms", s.Max)
	}
}

func TestLatencyTracker_Empty(t *testing.T) {
	if s := NewLatencyTracker(10).Stats(); s.Samples != 0 || s.Count != 0 {
		t.Errorf("empty tracker stats = %+v", s)
	}
}

func TestLatencyRegistry_NilSafe(t *testing.T) {
	var r *LatencyRegistry
	r.Record(StageEmbed, time.Millisecond)
	r.Observe(StageSearch)()
	if r.Snapshot() != nil {
		t.Error("nil registry snapshot should be nil")
	}
}

func TestLatencyRegistry_Snapshot(t *testing.T) {
	r := NewLatencyRegistry(10)
	r.Record(StageEmbed, 2*time.Millisecond)
	r.Record(StageClassify, 5*time.Millisecond)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d stages, want 2", len(snap))
	}
	if got := snap[StageEmbed]["p50_ms"].(float64); got != 2 {
		t.Errorf("embed p50 = %v, want 2", got)
	}
}
