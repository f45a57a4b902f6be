package timeutil

import (
	"testing"
	"time"
)

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	manual := NewManual(start)
	mono := NewMonotonic(manual)

	first := mono.Now()
	manual.Set(start.Add(-time.Hour))
	second := mono.Now()
	if second.Before(first) {
		t.Fatalf("monotonic clock went backwards: %v < %v", second, first)
	}

	manual.Set(start.Add(time.Minute))
	if got := mono.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("monotonic clock did not advance: got %v", got)
	}
}

func TestMillisRoundTrip(t *testing.T) {
	ts := time.Date(2023, 6, 1, 12, 30, 0, 0, time.UTC)
	ms := Millis(ts)
	if back := FromMillis(ms); !back.Equal(ts) {
		t.Fatalf("round trip mismatch: %v vs %v", back, ts)
	}
	if Millis(time.Unix(-10, 0)) != 0 {
		t.Fatalf("pre-epoch times should clamp to zero")
	}
}

func TestSetDefault(t *testing.T) {
	fixed := NewManual(time.UnixMilli(42))
	restore := SetDefault(fixed)
	defer restore()
	if NowMillis() != 42 {
		t.Fatalf("expected default clock override, got %d", NowMillis())
	}
}
