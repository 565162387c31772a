package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for _, ms := range []int{50, 10, 40, 20, 30} {
		tracker.Observe(time.Duration(ms) * time.Millisecond)
	}

	if tracker.Count() != 5 {
		t.Fatalf("expected count 5, got %d", tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 != 40*time.Millisecond {
		t.Fatalf("expected p95 40ms, got %v", p95)
	}
	if min := tracker.Percentile(0); min != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", min)
	}
}

func TestLatencyTrackerWindowDropsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 || tracker.Total() != 10 {
		t.Fatalf("expected window of 3 out of 10, got %d/%d", tracker.Count(), tracker.Total())
	}

	summary := tracker.Summary()
	if summary.P50 != 9*time.Millisecond || summary.Max != 10*time.Millisecond {
		t.Fatalf("expected only the last three samples, got %+v", summary)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(0)
	if tracker.Percentile(95) != 0 || tracker.Summary().Count != 0 {
		t.Fatal("expected zero values without samples")
	}
}
