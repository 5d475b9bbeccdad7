package metrics

import "testing"

func TestCountersReconcileBalanced(t *testing.T) {
	c := NewCounters()

	c.RecordReceived("AAPL", "trade")
	c.RecordReceived("AAPL", "trade")
	c.RecordReceived("AAPL", "trade")
	c.RecordDuplicate("AAPL")
	c.RecordValidated()
	c.RecordValidated()
	c.RecordPublished(1)
	c.RecordDropped(1)

	ok, unaccounted := c.Reconcile()
	if !ok {
		t.Fatalf("expected balanced reconciliation, got unaccounted=%d", unaccounted)
	}
}

func TestCountersReconcileDetectsGap(t *testing.T) {
	c := NewCounters()

	c.RecordReceived("AAPL", "trade")
	c.RecordReceived("AAPL", "trade")
	c.RecordValidated()
	// one received event never reached validated, duplicate, or rejected,
	// and the validated event was never accepted onto the pipeline or
	// dropped: two gaps, one event each

	ok, unaccounted := c.Reconcile()
	if ok {
		t.Fatal("expected reconciliation to detect the gap")
	}
	if unaccounted != 2 {
		t.Fatalf("expected unaccounted=2, got %d", unaccounted)
	}
}

func TestCountersPeakDepthTracksHighWaterMark(t *testing.T) {
	c := NewCounters()

	c.RecordPublished(2)
	c.RecordPublished(5)
	c.RecordDropped(3)

	snap := c.PipelineSnapshot()
	if snap.PeakDepth != 5 {
		t.Fatalf("expected peak depth 5, got %d", snap.PeakDepth)
	}
	if snap.CurrentDepth != 3 {
		t.Fatalf("expected current depth 3, got %d", snap.CurrentDepth)
	}
	if snap.Published != 2 {
		t.Fatalf("expected published=2, got %d", snap.Published)
	}
	if snap.Dropped != 1 {
		t.Fatalf("expected dropped=1, got %d", snap.Dropped)
	}
}

func TestCountersPublishedPerSecondIsNonNegative(t *testing.T) {
	c := NewCounters()

	for i := 0; i < 10; i++ {
		c.RecordPublished(i)
	}

	snap := c.PipelineSnapshot()
	if snap.PublishedPerSec < 0 {
		t.Fatalf("expected non-negative publish rate, got %f", snap.PublishedPerSec)
	}
}
