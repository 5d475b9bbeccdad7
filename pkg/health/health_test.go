package health

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRecordActivityClearsMissedHeartbeats(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil)
	m.Register("conn-1", "alpaca", nil)

	conn, ok := m.Snapshot("conn-1")
	if !ok || !conn.Connected {
		t.Fatalf("expected newly registered connection to be connected, got %+v ok=%v", conn, ok)
	}

	m.checkOne(time.Now().Add(2*time.Minute), mustTracked(t, m, "conn-1"), discardLogger())
	conn, _ = m.Snapshot("conn-1")
	if conn.MissedHeartbeats == 0 {
		t.Fatal("expected missed heartbeats to have incremented after a stale check")
	}

	m.RecordActivity("conn-1", time.Now())
	conn, _ = m.Snapshot("conn-1")
	if conn.MissedHeartbeats != 0 {
		t.Fatalf("expected RecordActivity to reset missed heartbeats, got %d", conn.MissedHeartbeats)
	}
}

func TestMaxMissedHeartbeatsMarksDisconnected(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	cfg := Config{HeartbeatInterval: time.Second, HeartbeatTimeout: time.Millisecond, MaxMissedHeartbeats: 3}
	m := NewMonitor(cfg, func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	m.Register("conn-1", "alpaca", nil)

	future := time.Now().Add(time.Hour)
	for i := 0; i < 3; i++ {
		m.checkOne(future, mustTracked(t, m, "conn-1"), discardLogger())
	}

	conn, _ := m.Snapshot("conn-1")
	if conn.Connected {
		t.Fatal("expected connection to be marked disconnected after MaxMissedHeartbeats")
	}

	mu.Lock()
	defer mu.Unlock()
	var sawDisconnect bool
	for _, e := range events {
		if e.Kind == EventDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Fatal("expected a disconnected event to have been raised")
	}
}

func TestObserveLatencyTracksMinMaxAndEWMA(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil)
	m.Register("conn-1", "alpaca", nil)

	m.ObserveLatency("conn-1", 100*time.Millisecond)
	m.ObserveLatency("conn-1", 50*time.Millisecond)
	m.ObserveLatency("conn-1", 200*time.Millisecond)

	conn, _ := m.Snapshot("conn-1")
	if conn.Latency.Min != 50*time.Millisecond {
		t.Errorf("expected min=50ms, got %v", conn.Latency.Min)
	}
	if conn.Latency.Max != 200*time.Millisecond {
		t.Errorf("expected max=200ms, got %v", conn.Latency.Max)
	}
	if conn.Latency.Count() != 3 {
		t.Errorf("expected count=3, got %d", conn.Latency.Count())
	}
	// first sample seeds EWMA directly
	if conn.Latency.EWMA == 0 {
		t.Error("expected EWMA to be non-zero after observations")
	}
}

func TestReconnectIncrementsCounter(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil)
	m.Register("conn-1", "alpaca", nil)

	m.RecordReconnect("conn-1")
	m.RecordReconnect("conn-1")

	conn, _ := m.Snapshot("conn-1")
	if conn.ReconnectCount != 2 {
		t.Fatalf("expected reconnectCount=2, got %d", conn.ReconnectCount)
	}
}

func mustTracked(t *testing.T, m *Monitor, id string) *tracked {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.conns[id]
	if !ok {
		t.Fatalf("connection %q not registered", id)
	}
	return tr
}

func discardLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
