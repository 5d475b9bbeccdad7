package main

import (
	"time"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/provider"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/validators"
)

// validatingSink is the consumer-side per-event sink spec.md §4.1 calls
// "validator chain -> archive writer": every dequeued event is checked
// against the tick-size and quote-divergence invariants before being
// handed to the archive writer. A validator violation only raises a
// rate-limited alert (pkg/validators never rejects an event) so it
// never affects stored/storeFailed accounting on its own.
type validatingSink struct {
	tick       *validators.TickSizeValidator
	divergence *validators.QuoteDivergenceValidator
	archive    provider.Sink
}

func newValidatingSink(tick *validators.TickSizeValidator, divergence *validators.QuoteDivergenceValidator, archive provider.Sink) *validatingSink {
	return &validatingSink{tick: tick, divergence: divergence, archive: archive}
}

func (s *validatingSink) Consume(event *types.MarketEvent) error {
	switch event.Type {
	case types.EventTrade:
		if event.Trade != nil {
			s.tick.Validate(event.Symbol, event.Trade.Price)
		}
	case types.EventBBOQuote:
		if event.Quote != nil {
			s.divergence.Observe(event.Symbol, event.Provider, event.Quote.BidPrice, event.Quote.AskPrice, now(event))
		}
	}
	return s.archive.Write(event)
}

func now(event *types.MarketEvent) time.Time {
	if event.ReceivedAt.IsZero() {
		return time.Now()
	}
	return event.ReceivedAt
}
