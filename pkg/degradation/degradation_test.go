package degradation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

func testThresholds() Thresholds {
	t := DefaultThresholds()
	t.ErrorRateWindow = time.Minute
	return t
}

func connected(provider string) types.Connection {
	return types.Connection{ID: provider, Provider: provider, Connected: true}
}

func TestWeightsValidateRejectsNonUnitSum(t *testing.T) {
	w := Weights{Connection: 0.5, Latency: 0.5, ErrorRate: 0.5, Reconnect: 0.5}
	require.Error(t, w.Validate())

	require.NoError(t, DefaultWeights().Validate())
}

func TestNewRejectsInvalidWeights(t *testing.T) {
	_, err := New(Weights{Connection: 1}, DefaultThresholds(), nil)
	require.Error(t, err)
}

func TestEvaluateHealthyProviderScoresLow(t *testing.T) {
	s, err := New(DefaultWeights(), testThresholds(), nil)
	require.NoError(t, err)

	score := s.Evaluate("alpaca", connected("alpaca"))
	require.Less(t, score.Composite, 0.1)
	require.Equal(t, types.RecHealthy, score.Recommendation)
}

func TestEvaluateDisconnectedProviderIsUnavailable(t *testing.T) {
	s, err := New(DefaultWeights(), testThresholds(), nil)
	require.NoError(t, err)

	conn := connected("ibkr")
	conn.Connected = false
	score := s.Evaluate("ibkr", conn)
	require.Equal(t, types.RecUnavailable, score.Recommendation)
	require.Equal(t, 1.0, score.Connection)
}

func TestEvaluateHighErrorRateDegradesComposite(t *testing.T) {
	s, err := New(DefaultWeights(), testThresholds(), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s.RecordOutcome("polygon", false)
	}

	score := s.Evaluate("polygon", connected("polygon"))
	require.Greater(t, score.ErrorRate, 0.9)
	require.Greater(t, score.Composite, 0.2)
}

func TestEvaluateHighLatencyDegradesLatencyComponent(t *testing.T) {
	s, err := New(DefaultWeights(), testThresholds(), nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		s.RecordLatency("slow-feed", 1900*time.Millisecond)
	}

	score := s.Evaluate("slow-feed", connected("slow-feed"))
	require.Greater(t, score.Latency, 0.8)
}

func TestTransitionFiresDegradedThenRecoveryAfterConfirmations(t *testing.T) {
	var events []TransitionEvent
	thresholds := testThresholds()
	thresholds.RecoveryConfirmations = 2

	s, err := New(DefaultWeights(), thresholds, func(evt TransitionEvent) {
		events = append(events, evt)
	})
	require.NoError(t, err)

	// disconnected (connection score 1.0, weight 0.35) plus an all-failing
	// outcome window (error score 1.0, weight 0.25) sums to exactly the
	// 0.6 degradation threshold with latency/reconnect both at zero.
	for i := 0; i < 10; i++ {
		s.RecordOutcome("feed-x", false)
	}
	disconnected := connected("feed-x")
	disconnected.Connected = false
	s.Evaluate("feed-x", disconnected)
	require.Len(t, events, 1)
	require.True(t, events[0].Degraded)

	// drown the old failures in successes so the error-rate component
	// collapses, and reconnect so the connection component does too.
	for i := 0; i < 100; i++ {
		s.RecordOutcome("feed-x", true)
	}

	// the first healthy evaluation alone must not fire recovery yet.
	s.Evaluate("feed-x", connected("feed-x"))
	require.Len(t, events, 1)

	// the second consecutive healthy evaluation confirms recovery.
	s.Evaluate("feed-x", connected("feed-x"))
	require.Len(t, events, 2)
	require.False(t, events[1].Degraded)
}

// spec.md §8 scenario 4: degradation failover selects the best eligible
// candidate, excluding the currently-active (already failing) provider.
func TestSelectBestExcludesActiveAndUnavailableCandidates(t *testing.T) {
	s, err := New(DefaultWeights(), testThresholds(), nil)
	require.NoError(t, err)

	healthy := types.DegradationScore{ProviderID: "backup", Composite: 0.05}
	degraded := types.DegradationScore{ProviderID: "primary", Composite: 0.9}
	unavailable := types.DegradationScore{ProviderID: "offline", Composite: 0, Recommendation: types.RecUnavailable}

	healthy.Recommendation = recommendationFor(healthy, true, s.thresholds.FailoverThreshold)
	degraded.Recommendation = recommendationFor(degraded, true, s.thresholds.FailoverThreshold)

	best, ok := s.SelectBest([]types.DegradationScore{healthy, degraded, unavailable}, map[string]bool{"primary": true})
	require.True(t, ok)
	require.Equal(t, "backup", best.ProviderID)
}

func TestSelectBestReturnsFalseWhenNoneQualify(t *testing.T) {
	s, err := New(DefaultWeights(), testThresholds(), nil)
	require.NoError(t, err)

	failing := types.DegradationScore{ProviderID: "only-one", Composite: 0.95}
	failing.Recommendation = recommendationFor(failing, true, s.thresholds.FailoverThreshold)

	_, ok := s.SelectBest([]types.DegradationScore{failing}, nil)
	require.False(t, ok)
}
