package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// Sink is the per-event consumer the pipeline drains into: typically a
// validator chain followed by an archive writer. A Sink error does not
// stop the pipeline — the event is counted storeFailed and discarded;
// durability retries belong upstream, not in this layer (spec.md §4.1).
type Sink interface {
	Consume(*types.MarketEvent) error
}

// band is one high-water-mark level; Fired latches so the warning emits
// exactly once per crossing rather than once per event while above it.
type band struct {
	threshold float64
	fired     atomic.Bool
}

// Pipeline is the bounded multi-producer, single-consumer event queue
// described in spec.md §4.1. Producers call TryPublish from arbitrary
// goroutines and must never block; exactly one goroutine, started by
// Run, drains the channel into Sink in publish order.
type Pipeline struct {
	capacity int
	ch       chan *types.MarketEvent
	counters *metrics.Counters
	sink     Sink

	bands []*band

	drainTimeout time.Duration

	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a Pipeline with the given capacity, counters, and sink.
// drainTimeout bounds how long Shutdown waits for in-flight and buffered
// events to drain before abandoning the rest.
func New(capacity int, counters *metrics.Counters, sink Sink, drainTimeout time.Duration) *Pipeline {
	return &Pipeline{
		capacity: capacity,
		ch:       make(chan *types.MarketEvent, capacity),
		counters: counters,
		sink:     sink,
		bands: []*band{
			{threshold: 0.70},
			{threshold: 0.90},
		},
		drainTimeout: drainTimeout,
	}
}

// TryPublish attempts to enqueue event without blocking. It returns true
// if the event was accepted. Producers (provider callbacks) MUST call
// only this method — never a blocking send — per spec.md §5.
func (p *Pipeline) TryPublish(event *types.MarketEvent) bool {
	if p.closed.Load() {
		p.counters.RecordDropped(len(p.ch))
		return false
	}

	select {
	case p.ch <- event:
		depth := len(p.ch)
		p.counters.RecordPublished(depth)
		p.checkHighWaterMarks(depth)
		return true
	default:
		p.counters.RecordDropped(len(p.ch))
		return false
	}
}

func (p *Pipeline) checkHighWaterMarks(depth int) {
	ratio := float64(depth) / float64(p.capacity)
	logger := log.WithComponent("pipeline")
	for _, b := range p.bands {
		if ratio >= b.threshold {
			if b.fired.CompareAndSwap(false, true) {
				logger.Warn().
					Float64("threshold", b.threshold).
					Int("depth", depth).
					Int("capacity", p.capacity).
					Msg("pipeline high-water mark crossed")
			}
		} else if ratio < b.threshold*0.5 {
			// reset once depth has fallen well below the band so a later
			// crossing can warn again
			b.fired.Store(false)
		}
	}
}

// Run starts the single consumer loop and blocks until ctx is cancelled.
// It is meant to be run in its own goroutine; on cancellation it drains
// the channel for up to drainTimeout before abandoning what remains.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				return
			}
			p.consumeEvent(event)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Pipeline) drain() {
	logger := log.WithComponent("pipeline")
	deadline := time.After(p.drainTimeout)
	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				return
			}
			p.consumeEvent(event)
		case <-deadline:
			abandoned := len(p.ch)
			for i := 0; i < abandoned; i++ {
				select {
				case <-p.ch:
					p.counters.RecordStoreFailed()
				default:
				}
			}
			if abandoned > 0 {
				logger.Warn().Int("abandoned", abandoned).Msg("drain timeout reached, abandoning buffered events")
			}
			return
		default:
			// channel empty: nothing left to drain
			return
		}
	}
}

func (p *Pipeline) consumeEvent(event *types.MarketEvent) {
	if err := p.sink.Consume(event); err != nil {
		p.counters.RecordStoreFailed()
		return
	}
	p.counters.RecordStored()
}

// Shutdown stops accepting new publishes. It does not signal the consumer
// loop: Run starts its drain when its context is cancelled. Shutdown
// itself does not block.
func (p *Pipeline) Shutdown() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
	})
}

// Len returns the current buffered depth, for metrics/status reporting.
func (p *Pipeline) Len() int {
	return len(p.ch)
}

// Capacity returns the configured channel capacity.
func (p *Pipeline) Capacity() int {
	return p.capacity
}
