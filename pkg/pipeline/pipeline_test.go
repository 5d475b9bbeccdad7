package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

type slowSink struct {
	delay time.Duration
	mu    sync.Mutex
	seen  []*types.MarketEvent
}

func (s *slowSink) Consume(e *types.MarketEvent) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.seen = append(s.seen, e)
	s.mu.Unlock()
	return nil
}

func (s *slowSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

type failingSink struct{}

func (failingSink) Consume(*types.MarketEvent) error { return errSinkFailure }

var errSinkFailure = errors.New("sink failure")

func TestBackpressureDropsExcessEvents(t *testing.T) {
	counters := metrics.NewCounters()
	sink := &slowSink{delay: 100 * time.Millisecond}
	p := New(4, counters, sink, 2*time.Second)

	accepted := 0
	for i := 0; i < 10; i++ {
		if p.TryPublish(&types.MarketEvent{EventID: "e"}) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Fatalf("expected 4 events accepted into a capacity-4 channel, got %d", accepted)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for sink.count() < 4 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for sink to consume all accepted events, got %d", sink.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	snap := counters.PipelineSnapshot()
	if snap.Published != 4 {
		t.Errorf("expected pipelineAccepted=4, got %d", snap.Published)
	}
	if snap.Dropped != 6 {
		t.Errorf("expected pipelineDropped=6, got %d", snap.Dropped)
	}
	if sink.count() != 4 {
		t.Errorf("expected stored=4, got %d", sink.count())
	}
}

func TestPublishOrderIsPreservedPerSink(t *testing.T) {
	counters := metrics.NewCounters()
	sink := &slowSink{delay: 0}
	p := New(100, counters, sink, time.Second)

	for i := 0; i < 20; i++ {
		p.TryPublish(&types.MarketEvent{EventID: string(rune('a' + i))})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sink.count() < 20 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for consumption")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	for i, e := range sink.seen {
		want := string(rune('a' + i))
		if e.EventID != want {
			t.Fatalf("events reordered: index %d has id %q, want %q", i, e.EventID, want)
		}
	}
}

func TestSinkFailureCountsStoreFailedWithoutRetry(t *testing.T) {
	counters := metrics.NewCounters()
	p := New(10, counters, failingSink{}, time.Second)

	p.TryPublish(&types.MarketEvent{EventID: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	deadline := time.After(time.Second)
	for counters.ReconciliationSnapshot().StoreFailed == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for store failure to register")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	snap := counters.ReconciliationSnapshot()
	if snap.StoreFailed != 1 {
		t.Fatalf("expected storeFailed=1, got %d", snap.StoreFailed)
	}
	if snap.Stored != 0 {
		t.Fatalf("expected stored=0, got %d", snap.Stored)
	}
}

func TestShutdownStopsAcceptingNewPublishes(t *testing.T) {
	counters := metrics.NewCounters()
	sink := &slowSink{delay: 0}
	p := New(10, counters, sink, time.Second)

	p.Shutdown()
	if p.TryPublish(&types.MarketEvent{EventID: "late"}) {
		t.Fatal("expected TryPublish to reject after Shutdown")
	}
}
