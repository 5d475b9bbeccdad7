// Package orchestrator implements the Subscription Orchestrator (C6):
// given a desired list of SymbolSpecs, it diffs against the previously
// applied set and drives the provider's Subscribe/Unsubscribe calls so
// the live subscription state converges on what's desired.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/provider"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// perCallTimeout bounds every individual provider Subscribe/Unsubscribe
// call made under the orchestrator's lock, so Apply itself is bounded
// (spec.md §5: no lock may be held across an awaited I/O call except
// this one, and only because every call under it carries this timeout).
const perCallTimeout = 10 * time.Second

// changedFields reports, per tracked SymbolSpec field, whether prev and
// cur differ. The fixed field list matches spec.md §4.2: subscribeTrades,
// subscribeDepth, depthLevels, venue (exchange), localSymbol,
// primaryExchange, strike, right, expiry.
type changedFields struct {
	subscribeTrades bool
	subscribeDepth  bool
	depthLevels     bool
	venue           bool
	localSymbol     bool
	primaryExchange bool
	strike          bool
	right           bool
	expiry          bool
}

func diff(prev, cur *types.SymbolSpec) changedFields {
	return changedFields{
		subscribeTrades: prev.SubscribeTrades != cur.SubscribeTrades,
		subscribeDepth:  prev.SubscribeDepth != cur.SubscribeDepth,
		depthLevels:     prev.DepthLevels != cur.DepthLevels,
		venue:           prev.Venue != cur.Venue,
		localSymbol:     prev.LocalSymbol != cur.LocalSymbol,
		primaryExchange: prev.PrimaryExchange != cur.PrimaryExchange,
		strike:          prev.Strike != cur.Strike,
		right:           prev.Right != cur.Right,
		expiry:          !prev.Expiry.Equal(cur.Expiry),
	}
}

// HasChanged reports whether any field the orchestrator tracks differs
// between prev and cur. A zero-value prev (symbol not previously
// desired) always counts as changed. This is the whole-spec view used
// by the option-trades channel, which depends on every identity field.
func HasChanged(prev, cur *types.SymbolSpec) bool {
	if prev == nil {
		return true
	}
	c := diff(prev, cur)
	return c.subscribeTrades || c.subscribeDepth || c.depthLevels ||
		c.venue || c.localSymbol || c.primaryExchange ||
		c.strike || c.right || c.expiry
}

// tradesChanged reports whether a field affecting the equity trades
// channel specifically has changed. Depth-only changes (subscribeDepth,
// depthLevels) never force a trades resubscription.
func tradesChanged(prev, cur *types.SymbolSpec) bool {
	if prev == nil {
		return true
	}
	c := diff(prev, cur)
	return c.subscribeTrades || c.venue || c.localSymbol || c.primaryExchange ||
		c.strike || c.right || c.expiry
}

// depthChanged reports whether a field affecting the equity depth
// channel specifically has changed. Trades-only changes never force a
// depth resubscription.
func depthChanged(prev, cur *types.SymbolSpec) bool {
	if prev == nil {
		return true
	}
	c := diff(prev, cur)
	return c.subscribeDepth || c.depthLevels || c.venue || c.localSymbol || c.primaryExchange
}

// active holds the three subscription-id maps the orchestrator keeps
// consistent under a single lock, per spec.md §4.2/§5.
type active struct {
	trades       map[string]int64 // symbol -> id
	depth        map[string]int64
	optionTrades map[string]int64
}

func newActive() active {
	return active{
		trades:       make(map[string]int64),
		depth:        make(map[string]int64),
		optionTrades: make(map[string]int64),
	}
}

// Orchestrator drives a provider.Client's subscription set toward a
// desired SymbolSpec list on each Apply call.
type Orchestrator struct {
	client  provider.Client
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	desired map[string]*types.SymbolSpec
	ids     active

	// onOutcome, if set, observes every provider call's success/failure
	// after the circuit breaker has recorded it, so a consumer (the
	// degradation scorer) can fold subscribe/unsubscribe failures into
	// a provider's error-rate component score.
	onOutcome func(success bool)
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithOutcomeObserver registers a callback invoked after every provider
// call with whether it succeeded, independent of the circuit breaker's
// own open/closed state.
func WithOutcomeObserver(fn func(success bool)) Option {
	return func(o *Orchestrator) { o.onOutcome = fn }
}

// New builds an Orchestrator with an empty previous-desired set. A
// single circuit breaker guards every provider call: repeated
// subscribe/unsubscribe failures trip it open, short-circuiting further
// attempts for Timeout before probing again with a handful of trial
// requests, rather than hammering a provider that is already failing.
func New(client provider.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		desired: make(map[string]*types.SymbolSpec),
		ids:     newActive(),
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-subscriptions",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Apply diffs desired against the previously applied set and issues the
// provider calls needed to converge, per spec.md §4.2 steps 1-5. It
// runs under a single lock so the three id maps never observe a
// partially-applied state.
func (o *Orchestrator) Apply(desired []*types.SymbolSpec) {
	logger := log.WithComponent("orchestrator")

	o.mu.Lock()
	defer o.mu.Unlock()

	next := make(map[string]*types.SymbolSpec, len(desired))
	for _, spec := range desired {
		next[types.NormalizeSymbol(spec.Symbol)] = spec
	}

	// Step 1: removals - in active desired set but not in next.
	for symbol := range o.desired {
		if _, ok := next[symbol]; !ok {
			o.removeAll(symbol)
			delete(o.desired, symbol)
		}
	}

	// Steps 2-4: reconcile each desired symbol's channels.
	for symbol, spec := range next {
		prev := o.desired[symbol]
		o.reconcileSymbol(symbol, prev, spec, logger)
		o.desired[symbol] = spec
	}
}

func (o *Orchestrator) removeAll(symbol string) {
	o.unsubscribeTrades(symbol)
	o.unsubscribeDepth(symbol)
	o.unsubscribeOptionTrades(symbol)
}

func (o *Orchestrator) reconcileSymbol(symbol string, prev, cur *types.SymbolSpec, logger zerolog.Logger) {
	if cur.IsOption() {
		// Option symbols route trades through the option-trades channel
		// only; depth never applies. Reuses the same changed/failedBefore
		// gating the equity channels get from reconcileChannel, so a
		// failed option-trades subscribe retries on the next unchanged
		// Apply exactly like a failed equity subscribe does.
		o.reconcileChannel(symbol, HasChanged(prev, cur), cur.SubscribeTrades, o.ids.optionTrades,
			func() { o.subscribeOptionTrades(symbol, cur, logger) },
			func() { o.unsubscribeOptionTrades(symbol) })

		// an option symbol never has equity trades/depth ids; make sure
		// any stale ones from a security-type change are cleared.
		o.unsubscribeTrades(symbol)
		o.unsubscribeDepth(symbol)
		return
	}

	// Equity: trades and depth are reconciled against the fields that
	// actually govern each channel, so a depth-only config change never
	// forces a trades resubscription and vice versa.
	o.reconcileChannel(symbol, tradesChanged(prev, cur), cur.SubscribeTrades, o.ids.trades,
		func() { o.subscribeTrades(symbol, cur, logger) },
		func() { o.unsubscribeTrades(symbol) })

	wantDepth := cur.SubscribeDepth && cur.DepthLevels > 0
	o.reconcileChannel(symbol, depthChanged(prev, cur), wantDepth, o.ids.depth,
		func() { o.subscribeDepth(symbol, cur, logger) },
		func() { o.unsubscribeDepth(symbol) })
}

func (o *Orchestrator) reconcileChannel(symbol string, changed, want bool, ids map[string]int64, subscribe, unsubscribe func()) {
	id, hasID := ids[symbol]
	failedBefore := hasID && id == types.FailedSubscriptionID

	switch {
	case changed && hasID:
		unsubscribe()
		if want {
			subscribe()
		}
	case want && (!hasID || failedBefore):
		subscribe()
	case !want && hasID:
		unsubscribe()
	}
}

func (o *Orchestrator) subscribeTrades(symbol string, spec *types.SymbolSpec, logger zerolog.Logger) {
	id, err := o.callWithTimeout(func() (int64, error) { return o.client.SubscribeTrades(spec) })
	if err != nil {
		logger.Warn().Err(err).Str("symbol", symbol).Msg("subscribeTrades failed")
		o.ids.trades[symbol] = types.FailedSubscriptionID
		return
	}
	o.ids.trades[symbol] = id
}

func (o *Orchestrator) subscribeDepth(symbol string, spec *types.SymbolSpec, logger zerolog.Logger) {
	id, err := o.callWithTimeout(func() (int64, error) { return o.client.SubscribeMarketDepth(spec) })
	if err != nil {
		logger.Warn().Err(err).Str("symbol", symbol).Msg("subscribeMarketDepth failed")
		o.ids.depth[symbol] = types.FailedSubscriptionID
		return
	}
	o.ids.depth[symbol] = id
}

func (o *Orchestrator) subscribeOptionTrades(symbol string, spec *types.SymbolSpec, logger zerolog.Logger) {
	id, err := o.callWithTimeout(func() (int64, error) { return o.client.SubscribeTrades(spec) })
	if err != nil {
		logger.Warn().Err(err).Str("symbol", symbol).Msg("subscribe option trades failed")
		o.ids.optionTrades[symbol] = types.FailedSubscriptionID
		return
	}
	o.ids.optionTrades[symbol] = id
}

func (o *Orchestrator) unsubscribeTrades(symbol string) {
	id, ok := o.ids.trades[symbol]
	if !ok {
		return
	}
	if id > 0 {
		_, _ = o.callWithTimeout(func() (int64, error) { return 0, o.client.UnsubscribeTrades(id) })
	}
	delete(o.ids.trades, symbol)
}

func (o *Orchestrator) unsubscribeDepth(symbol string) {
	id, ok := o.ids.depth[symbol]
	if !ok {
		return
	}
	if id > 0 {
		_, _ = o.callWithTimeout(func() (int64, error) { return 0, o.client.UnsubscribeMarketDepth(id) })
	}
	delete(o.ids.depth, symbol)
}

func (o *Orchestrator) unsubscribeOptionTrades(symbol string) {
	id, ok := o.ids.optionTrades[symbol]
	if !ok {
		return
	}
	if id > 0 {
		_, _ = o.callWithTimeout(func() (int64, error) { return 0, o.client.UnsubscribeTrades(id) })
	}
	delete(o.ids.optionTrades, symbol)
}

// callWithTimeout bounds a single provider call to perCallTimeout by
// racing it against a timer rather than trusting the provider to honor
// a context deadline internally (the provider.Client contract is a
// plain synchronous call, not one taking a ctx) — a call that overruns
// the bound still returns to the caller, though the provider goroutine
// it started may keep running in the background. Every call, timed out
// or not, passes through the circuit breaker so a provider stuck
// failing stops receiving new subscribe/unsubscribe attempts until the
// breaker's cooldown elapses.
func (o *Orchestrator) callWithTimeout(fn func() (int64, error)) (int64, error) {
	raw, err := o.breaker.Execute(func() (interface{}, error) {
		type result struct {
			id  int64
			err error
		}
		done := make(chan result, 1)
		go func() {
			id, callErr := fn()
			done <- result{id, callErr}
		}()

		select {
		case r := <-done:
			return r.id, r.err
		case <-time.After(perCallTimeout):
			return int64(0), context.DeadlineExceeded
		}
	})

	if o.onOutcome != nil {
		o.onOutcome(err == nil)
	}
	if err != nil {
		if raw == nil {
			return 0, err
		}
		return raw.(int64), err
	}
	return raw.(int64), nil
}

// ActiveIDs returns a snapshot of the currently held subscription ids,
// for status reporting and tests.
func (o *Orchestrator) ActiveIDs() (trades, depth, optionTrades map[string]int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	trades = cloneIDs(o.ids.trades)
	depth = cloneIDs(o.ids.depth)
	optionTrades = cloneIDs(o.ids.optionTrades)
	return
}

func cloneIDs(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
