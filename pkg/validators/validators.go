// Package validators implements the per-event invariants of C12:
// tick-size conformance and cross-provider quote divergence, each
// raising a cooldown-gated alert on violation without blocking the
// event that triggered it.
package validators

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

const priceScale = 1_000_000 // TradePayload/QuotePayload prices are price * 1e6

// micros converts a fixed-point int64 price to a decimal dollar amount.
func micros(price int64) decimal.Decimal {
	return decimal.New(price, -6)
}

var (
	defaultTickAboveDollar = decimal.NewFromFloat(0.01)
	defaultTickBelowDollar = decimal.NewFromFloat(0.0001)
	tickTolerance          = decimal.NewFromFloat(0.001) // 0.1% of the tick
)

// AlertSubmitter is the narrow surface validators need from the alert
// aggregator, kept as an interface so tests don't need a live Aggregator.
type AlertSubmitter interface {
	Submit(category string, severity types.AlertSeverity, title, message, source, fingerprint string) bool
}

// cooldownGate enforces spec.md §4.7's per-(symbol,type) 10s default
// alert cooldown, independent of the alert aggregator's own fingerprint
// dedup (that dedups delivered batches; this decides whether to call
// Submit at all).
type cooldownGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	lastFire map[string]time.Time
}

func newCooldownGate(cooldown time.Duration) *cooldownGate {
	return &cooldownGate{cooldown: cooldown, lastFire: make(map[string]time.Time)}
}

func (g *cooldownGate) allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	if last, ok := g.lastFire[key]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	g.lastFire[key] = now
	return true
}

// TickSizeValidator checks a trade price against its symbol's expected
// tick size: $0.01 at or above $1, $0.0001 below, with per-symbol
// overrides, each tested to within a 0.1% fractional tolerance of the
// tick itself rather than exact equality (floating-point-adjacent
// upstream feeds routinely report prices a tiny fraction of a tick off).
type TickSizeValidator struct {
	overrides map[string]decimal.Decimal
	gate      *cooldownGate
	alerts    AlertSubmitter
}

// TickSizeOption configures a TickSizeValidator at construction time.
type TickSizeOption func(*TickSizeValidator)

// WithTickOverride sets a per-symbol tick size (in dollars), taking
// precedence over the $1-threshold default.
func WithTickOverride(symbol string, tick decimal.Decimal) TickSizeOption {
	return func(v *TickSizeValidator) {
		v.overrides[types.NormalizeSymbol(symbol)] = tick
	}
}

// WithTickCooldown overrides the default 10s per-symbol alert cooldown.
func WithTickCooldown(d time.Duration) TickSizeOption {
	return func(v *TickSizeValidator) { v.gate = newCooldownGate(d) }
}

// NewTickSizeValidator builds a validator that raises alerts through
// alerts (may be nil to disable alerting, e.g. in tests).
func NewTickSizeValidator(alerts AlertSubmitter, opts ...TickSizeOption) *TickSizeValidator {
	v := &TickSizeValidator{
		overrides: make(map[string]decimal.Decimal),
		gate:      newCooldownGate(10 * time.Second),
		alerts:    alerts,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *TickSizeValidator) tickFor(symbol string, price decimal.Decimal) decimal.Decimal {
	if tick, ok := v.overrides[types.NormalizeSymbol(symbol)]; ok {
		return tick
	}
	if price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return defaultTickAboveDollar
	}
	return defaultTickBelowDollar
}

// Validate reports whether priceMicros conforms to symbol's tick size,
// raising a cooldown-gated alert and incrementing the rejection counter
// on violation.
func (v *TickSizeValidator) Validate(symbol string, priceMicros int64) bool {
	price := micros(priceMicros)
	tick := v.tickFor(symbol, price)
	if conformsToTick(price, tick) {
		return true
	}

	metrics.EventsRejectedTotal.WithLabelValues("tick_size").Inc()
	key := symbol + ":tick-size"
	if v.alerts != nil && v.gate.allow(key) {
		v.alerts.Submit("validation", types.SeverityWarning, "tick size violation",
			fmt.Sprintf("%s priced %s does not conform to tick size %s", symbol, price.String(), tick.String()),
			symbol, key)
	}
	return false
}

// conformsToTick reports whether price sits on a tick-size grid line
// within tickTolerance (a fraction of the tick itself) of either side
// of the remainder.
func conformsToTick(price, tick decimal.Decimal) bool {
	if tick.IsZero() {
		return true
	}
	remainder := price.Mod(tick)
	if remainder.IsNegative() {
		remainder = remainder.Add(tick)
	}
	tolerance := tick.Mul(tickTolerance).Abs()
	if remainder.Abs().LessThanOrEqual(tolerance) {
		return true
	}
	distanceFromNextTick := tick.Sub(remainder).Abs()
	return distanceFromNextTick.LessThanOrEqual(tolerance)
}

// quoteSample is one provider's mid-price observation within the
// rolling divergence window.
type quoteSample struct {
	provider string
	mid      decimal.Decimal
	at       time.Time
}

// QuoteDivergenceValidator tracks each symbol's recent per-provider
// mid-price quotes and fires when the spread between the highest and
// lowest, relative to the average, exceeds a basis-point threshold.
type QuoteDivergenceValidator struct {
	window       time.Duration
	thresholdBps decimal.Decimal
	gate         *cooldownGate
	alerts       AlertSubmitter

	mu      sync.Mutex
	samples map[string][]quoteSample // keyed by normalized symbol
}

// QuoteDivergenceOption configures a QuoteDivergenceValidator.
type QuoteDivergenceOption func(*QuoteDivergenceValidator)

// WithDivergenceWindow overrides the default 5s rolling window.
func WithDivergenceWindow(d time.Duration) QuoteDivergenceOption {
	return func(v *QuoteDivergenceValidator) { v.window = d }
}

// WithDivergenceThresholdBps overrides the default 10 bps threshold.
func WithDivergenceThresholdBps(bps float64) QuoteDivergenceOption {
	return func(v *QuoteDivergenceValidator) { v.thresholdBps = decimal.NewFromFloat(bps) }
}

// WithDivergenceCooldown overrides the default 10s per-symbol cooldown.
func WithDivergenceCooldown(d time.Duration) QuoteDivergenceOption {
	return func(v *QuoteDivergenceValidator) { v.gate = newCooldownGate(d) }
}

// NewQuoteDivergenceValidator builds a validator with spec.md §4.7
// defaults (5s window, 10 bps threshold, 10s cooldown).
func NewQuoteDivergenceValidator(alerts AlertSubmitter, opts ...QuoteDivergenceOption) *QuoteDivergenceValidator {
	v := &QuoteDivergenceValidator{
		window:       5 * time.Second,
		thresholdBps: decimal.NewFromInt(10),
		gate:         newCooldownGate(10 * time.Second),
		alerts:       alerts,
		samples:      make(map[string][]quoteSample),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Observe folds one provider's (bid, ask) quote for symbol into the
// rolling window and reports whether the resulting cross-provider mid
// divergence is within threshold.
func (v *QuoteDivergenceValidator) Observe(symbol, provider string, bidMicros, askMicros int64, now time.Time) bool {
	mid := micros(bidMicros).Add(micros(askMicros)).Div(decimal.NewFromInt(2))
	key := types.NormalizeSymbol(symbol)

	v.mu.Lock()
	samples := pruneQuoteSamples(v.samples[key], now.Add(-v.window))
	samples = replaceProviderSample(samples, quoteSample{provider: provider, mid: mid, at: now})
	v.samples[key] = samples
	ok := divergenceWithinThreshold(samples, v.thresholdBps)
	v.mu.Unlock()

	if ok {
		return true
	}

	metrics.EventsRejectedTotal.WithLabelValues("quote_divergence").Inc()
	gateKey := key + ":quote-divergence"
	if v.alerts != nil && v.gate.allow(gateKey) {
		v.alerts.Submit("validation", types.SeverityWarning, "quote divergence",
			fmt.Sprintf("%s mid prices diverge beyond %s bps across providers", symbol, v.thresholdBps.String()),
			provider, gateKey)
	}
	return false
}

func pruneQuoteSamples(samples []quoteSample, cutoff time.Time) []quoteSample {
	out := samples[:0]
	for _, s := range samples {
		if s.at.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// replaceProviderSample keeps at most one sample per provider - the
// most recent - within the window.
func replaceProviderSample(samples []quoteSample, latest quoteSample) []quoteSample {
	out := make([]quoteSample, 0, len(samples)+1)
	for _, s := range samples {
		if s.provider != latest.provider {
			out = append(out, s)
		}
	}
	return append(out, latest)
}

func divergenceWithinThreshold(samples []quoteSample, thresholdBps decimal.Decimal) bool {
	if len(samples) < 2 {
		return true
	}
	min, max := samples[0].mid, samples[0].mid
	sum := decimal.Zero
	for _, s := range samples {
		if s.mid.LessThan(min) {
			min = s.mid
		}
		if s.mid.GreaterThan(max) {
			max = s.mid
		}
		sum = sum.Add(s.mid)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(samples))))
	if avg.IsZero() {
		return true
	}
	spreadBps := max.Sub(min).Div(avg).Mul(decimal.NewFromInt(10000))
	return spreadBps.LessThanOrEqual(thresholdBps)
}
