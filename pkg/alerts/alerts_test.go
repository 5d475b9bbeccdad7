package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// spec.md §8 scenario, §198: within dedupCooldown, at most one batch
// for a given fingerprint leaves the aggregator.
func TestSubmitDedupsWithinCooldown(t *testing.T) {
	a := New(WithDedupCooldown(time.Hour), WithWindow(10*time.Millisecond))
	a.Start()
	defer a.Stop()

	sub := a.Subscribe()
	defer a.Unsubscribe(sub)

	ok := a.Submit("connectivity", types.SeverityWarning, "provider disconnected", "ibkr down", "ibkr", "")
	require.True(t, ok)
	ok = a.Submit("connectivity", types.SeverityWarning, "provider disconnected", "ibkr down again", "ibkr", "")
	require.False(t, ok, "second submit with the same derived fingerprint must be suppressed")

	select {
	case batch := <-sub:
		require.Equal(t, 1, batch.Count)
	case <-time.After(time.Second):
		t.Fatal("expected exactly one alert in the flushed batch")
	}
}

func TestSubmitAllowsRepeatAfterCooldownExpires(t *testing.T) {
	a := New(WithDedupCooldown(10*time.Millisecond), WithWindow(5*time.Millisecond))
	a.Start()
	defer a.Stop()

	require.True(t, a.Submit("risk", types.SeverityError, "tick violation", "m1", "AAPL", "fp-1"))
	time.Sleep(20 * time.Millisecond)
	require.True(t, a.Submit("risk", types.SeverityError, "tick violation", "m2", "AAPL", "fp-1"))
}

func TestBatchFlushesOnWindowTick(t *testing.T) {
	a := New(WithWindow(10 * time.Millisecond))
	a.Start()
	defer a.Stop()

	sub := a.Subscribe()
	defer a.Unsubscribe(sub)

	a.Submit("pipeline", types.SeverityInfo, "backlog growing", "depth 900", "nyse-feed", "")

	select {
	case batch := <-sub:
		require.Equal(t, "pipeline", batch.Category)
		require.Equal(t, types.SeverityInfo, batch.Severity)
		require.Equal(t, 1, batch.BySource["nyse-feed"])
	case <-time.After(time.Second):
		t.Fatal("expected a batch to flush on the window tick")
	}
}

func TestBatchFlushesImmediatelyOnOverflow(t *testing.T) {
	a := New(WithWindow(time.Hour), WithMaxBatchSize(3))
	a.Start()
	defer a.Stop()

	sub := a.Subscribe()
	defer a.Unsubscribe(sub)

	for i := 0; i < 3; i++ {
		a.Submit("risk", types.SeverityCritical, "tick violation", "m", "AAPL",
			"fp-overflow-"+string(rune('a'+i)))
	}

	select {
	case batch := <-sub:
		require.Equal(t, 3, batch.Count)
	case <-time.After(time.Second):
		t.Fatal("expected overflow to flush immediately without waiting for the window")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	a := New(WithWindow(5 * time.Millisecond))
	a.Start()
	defer a.Stop()

	sub := a.Subscribe()
	a.Unsubscribe(sub)
	require.Equal(t, 0, a.SubscriberCount())

	a.Submit("risk", types.SeverityWarning, "x", "y", "z", "fp-2")
	time.Sleep(20 * time.Millisecond)

	_, open := <-sub
	require.False(t, open, "unsubscribed channel should be closed, not receive")
}
