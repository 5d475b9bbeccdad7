// Package degradation implements the Degradation Scorer (C10): a
// per-provider composite health score computed from connection,
// latency, error-rate, and reconnect-rate components, exposed both as
// a 0-1 composite (for degraded/recovered transition events) and a 0-100
// scale with tiered recommendations used for failover selection.
package degradation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// Weights are the composite score's per-component contributions;
// spec.md §4.5 requires the implementation validate they sum to 1.0.
type Weights struct {
	Connection float64
	Latency    float64
	ErrorRate  float64
	Reconnect  float64
}

// DefaultWeights returns spec.md §4.5's default weighting.
func DefaultWeights() Weights {
	return Weights{Connection: 0.35, Latency: 0.25, ErrorRate: 0.25, Reconnect: 0.15}
}

// Validate reports an error if the weights don't sum to 1.0 within
// floating-point tolerance.
func (w Weights) Validate() error {
	sum := w.Connection + w.Latency + w.ErrorRate + w.Reconnect
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("degradation weights must sum to 1.0, got %f", sum)
	}
	return nil
}

// Thresholds configures the per-component scoring curves and the
// composite/failover decision points, all with spec.md §4.5 defaults.
type Thresholds struct {
	LatencyThresholdMs    float64
	LatencyMaxMs          float64
	ErrorRateThreshold    float64
	ErrorRateWindow       time.Duration
	MaxReconnectsPerHour  float64
	MissedHeartbeatsM     float64
	DegradationThreshold  float64 // composite 0-1 scale
	FailoverThreshold     float64 // normalized 0-100 scale
	EvaluationInterval    time.Duration
	RecoveryConfirmations int
}

// DefaultThresholds returns spec.md §4.5's default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyThresholdMs:    200,
		LatencyMaxMs:          2000,
		ErrorRateThreshold:    0.05,
		ErrorRateWindow:       300 * time.Second,
		MaxReconnectsPerHour:  10,
		MissedHeartbeatsM:     5,
		DegradationThreshold:  0.6,
		FailoverThreshold:     40,
		EvaluationInterval:    30 * time.Second,
		RecoveryConfirmations: 2,
	}
}

type outcome struct {
	at      time.Time
	success bool
}

// providerState tracks the rolling inputs a single provider's score is
// computed from.
type providerState struct {
	mu          sync.Mutex
	outcomes    []outcome
	reconnects  []time.Time
	latency     prometheus.Summary
	degraded    bool
	belowStreak int
	last        types.DegradationScore
	hasLast     bool
}

func newProviderState(name string) *providerState {
	return &providerState{
		latency: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       "collector_degradation_latency_ms",
			Help:       "Rolling latency distribution used to derive the degradation scorer's p95 component, by provider.",
			ConstLabels: prometheus.Labels{"provider": name},
			Objectives: map[float64]float64{0.95: 0.01},
			MaxAge:     10 * time.Minute,
			AgeBuckets: 5,
		}),
	}
}

// TransitionEvent reports a provider crossing the degraded threshold.
type TransitionEvent struct {
	Provider  string
	Degraded  bool // true = entering degraded, false = recovered
	Score     types.DegradationScore
}

// Handler receives degraded/recovered transition events.
type Handler func(TransitionEvent)

// Scorer owns per-provider rolling state and computes DegradationScores
// on demand or on a fixed evaluation interval.
type Scorer struct {
	weights    Weights
	thresholds Thresholds

	mu        sync.Mutex
	providers map[string]*providerState

	handler Handler
	logger  zerolog.Logger
}

// New builds a Scorer. It returns an error if weights don't sum to 1.0,
// per spec.md §4.5's explicit validation requirement.
func New(weights Weights, thresholds Thresholds, handler Handler) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{
		weights:    weights,
		thresholds: thresholds,
		providers:  make(map[string]*providerState),
		handler:    handler,
		logger:     log.WithComponent("degradation"),
	}, nil
}

func (s *Scorer) stateFor(provider string) *providerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.providers[provider]
	if !ok {
		st = newProviderState(provider)
		s.providers[provider] = st
	}
	return st
}

// RecordOutcome folds one success/failure event into the error-rate
// sliding window. Orchestrator subscribe/unsubscribe failures and
// provider-client errors both feed this.
func (s *Scorer) RecordOutcome(provider string, success bool) {
	st := s.stateFor(provider)
	st.mu.Lock()
	st.outcomes = append(st.outcomes, outcome{at: time.Now(), success: success})
	st.mu.Unlock()
}

// RecordReconnect folds one reconnect event into the reconnects/hour rate.
func (s *Scorer) RecordReconnect(provider string) {
	st := s.stateFor(provider)
	st.mu.Lock()
	st.reconnects = append(st.reconnects, time.Now())
	st.mu.Unlock()
}

// RecordLatency folds one latency sample into the provider's rolling
// p95 estimate.
func (s *Scorer) RecordLatency(provider string, d time.Duration) {
	st := s.stateFor(provider)
	st.latency.Observe(float64(d.Milliseconds()))
}

func pruneOutcomes(outcomes []outcome, cutoff time.Time) []outcome {
	i := 0
	for i < len(outcomes) && outcomes[i].at.Before(cutoff) {
		i++
	}
	return outcomes[i:]
}

func pruneReconnects(reconnects []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(reconnects) && reconnects[i].Before(cutoff) {
		i++
	}
	return reconnects[i:]
}

func (s *Scorer) p95Latency(provider string) float64 {
	st := s.stateFor(provider)
	var metric dto.Metric
	if err := st.latency.Write(&metric); err != nil {
		return 0
	}
	for _, q := range metric.GetSummary().GetQuantile() {
		if q.GetQuantile() == 0.95 {
			// an empty Summary reports NaN quantiles; no samples means no
			// latency penalty
			if v := q.GetValue(); !math.IsNaN(v) {
				return v
			}
			return 0
		}
	}
	return 0
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func linear(value, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return clamp01((value - lo) / (hi - lo))
}

// Evaluate computes provider's current DegradationScore from conn (the
// connection-health snapshot from pkg/health) and the scorer's rolling
// outcome/reconnect/latency state, firing a transition event through
// the registered Handler when the degraded/healthy boundary is crossed.
func (s *Scorer) Evaluate(provider string, conn types.Connection) types.DegradationScore {
	now := time.Now()
	t := s.thresholds

	var connScore float64
	if !conn.Connected {
		connScore = 1.0
	} else {
		connScore = clamp01(float64(conn.MissedHeartbeats) / t.MissedHeartbeatsM)
	}

	p95 := s.p95Latency(provider)
	latScore := linear(p95, t.LatencyThresholdMs, t.LatencyMaxMs)

	st := s.stateFor(provider)
	st.mu.Lock()
	st.outcomes = pruneOutcomes(st.outcomes, now.Add(-t.ErrorRateWindow))
	st.reconnects = pruneReconnects(st.reconnects, now.Add(-time.Hour))
	total := len(st.outcomes)
	failures := 0
	for _, o := range st.outcomes {
		if !o.success {
			failures++
		}
	}
	reconnectsPerHour := float64(len(st.reconnects))
	st.mu.Unlock()

	var errRate float64
	if total > 0 {
		errRate = float64(failures) / float64(total)
	}
	errScore := linear(errRate, t.ErrorRateThreshold, 1.0)

	reconnectScore := linear(reconnectsPerHour, 0, t.MaxReconnectsPerHour)

	composite := s.weights.Connection*connScore +
		s.weights.Latency*latScore +
		s.weights.ErrorRate*errScore +
		s.weights.Reconnect*reconnectScore

	score := types.DegradationScore{
		ProviderID:  provider,
		Composite:   composite,
		Connection:  connScore,
		Latency:     latScore,
		ErrorRate:   errScore,
		Reconnect:   reconnectScore,
		EvaluatedAt: now,
	}
	score.Recommendation = recommendationFor(score, conn.Connected, t.FailoverThreshold)
	metrics.DegradationScore.WithLabelValues(provider).Set(composite)

	st.mu.Lock()
	st.last, st.hasLast = score, true
	st.mu.Unlock()

	s.checkTransition(provider, st, score, t)
	return score
}

// Latest returns the most recently computed score for provider, or
// false if it has never been evaluated. Satisfies status.DegradationSource.
func (s *Scorer) Latest(provider string) (types.DegradationScore, bool) {
	st := s.stateFor(provider)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last, st.hasLast
}

func recommendationFor(score types.DegradationScore, connected bool, failoverThreshold float64) types.Recommendation {
	if !connected {
		return types.RecUnavailable
	}
	n := score.Normalized100()
	switch {
	case n >= 80:
		return types.RecHealthy
	case n >= 60:
		return types.RecCaution
	case n >= failoverThreshold:
		return types.RecDegraded
	default:
		return types.RecFailoverRecommended
	}
}

// checkTransition fires a degraded event the instant composite crosses
// the threshold, and a recovery event only after RecoveryConfirmations
// consecutive evaluations land back below it, so a score oscillating
// right at the boundary doesn't flap the handler on every tick.
func (s *Scorer) checkTransition(provider string, st *providerState, score types.DegradationScore, t Thresholds) {
	st.mu.Lock()
	defer st.mu.Unlock()

	isDegraded := score.Composite >= t.DegradationThreshold

	switch {
	case isDegraded && !st.degraded:
		st.degraded = true
		st.belowStreak = 0
		s.fire(TransitionEvent{Provider: provider, Degraded: true, Score: score})
	case isDegraded:
		st.belowStreak = 0
	case !isDegraded && st.degraded:
		st.belowStreak++
		if st.belowStreak >= t.RecoveryConfirmations {
			st.degraded = false
			st.belowStreak = 0
			s.fire(TransitionEvent{Provider: provider, Degraded: false, Score: score})
		}
	}
}

func (s *Scorer) fire(evt TransitionEvent) {
	if s.handler == nil {
		return
	}
	s.handler(evt)
}

// Run evaluates every known connection on a fixed interval until ctx is
// cancelled, handing the resulting scores to onScores.
func (s *Scorer) Run(ctx context.Context, connections func() []types.Connection, onScores func([]types.DegradationScore)) {
	interval := s.thresholds.EvaluationInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conns := connections()
			scores := make([]types.DegradationScore, 0, len(conns))
			for _, c := range conns {
				scores = append(scores, s.Evaluate(c.Provider, c))
			}
			if onScores != nil {
				onScores(scores)
			}
		}
	}
}

// SelectBest implements spec.md §4.5's selectBest: the highest-scoring
// candidate (on the 0-100 scale) at or above FailoverThreshold, never
// one in exclude or recommended unavailable, or false if none qualify.
func (s *Scorer) SelectBest(candidates []types.DegradationScore, exclude map[string]bool) (types.DegradationScore, bool) {
	var best types.DegradationScore
	found := false
	for _, c := range candidates {
		if exclude[c.ProviderID] {
			continue
		}
		if c.Recommendation == types.RecUnavailable {
			continue
		}
		if c.Normalized100() < s.thresholds.FailoverThreshold {
			continue
		}
		if !found || c.Normalized100() > best.Normalized100() {
			best = c
			found = true
		}
	}
	return best, found
}
