package clockskew

import (
	"testing"
	"time"
)

func TestObserveTracksPositiveSkew(t *testing.T) {
	e := New()
	exchange := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recv := exchange.Add(250 * time.Millisecond)

	for i := 0; i < 5; i++ {
		e.Observe(recv, exchange)
	}

	skew := e.Skew()
	if skew <= 0 {
		t.Fatalf("expected positive skew, got %v", skew)
	}
	if e.Samples() != 5 {
		t.Fatalf("expected 5 samples, got %d", e.Samples())
	}
}

func TestSkewIsZeroWithNoSamples(t *testing.T) {
	e := New()
	if e.Skew() != 0 {
		t.Fatalf("expected zero skew with no samples, got %v", e.Skew())
	}
}

func TestRegistryTracksPerProvider(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r.Observe("alpaca", base.Add(100*time.Millisecond), base)
	r.Observe("polygon", base.Add(500*time.Millisecond), base)

	if r.Skew("alpaca") >= r.Skew("polygon") {
		t.Fatalf("expected alpaca skew (%v) < polygon skew (%v)", r.Skew("alpaca"), r.Skew("polygon"))
	}
	if r.Skew("unknown") != 0 {
		t.Fatalf("expected zero skew for an unobserved provider, got %v", r.Skew("unknown"))
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 providers in snapshot, got %d", len(snap))
	}
}
