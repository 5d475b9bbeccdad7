package status

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

type fakeConnections struct {
	conns []types.Connection
}

func (f *fakeConnections) SnapshotAll() []types.Connection { return f.conns }

type fakeDegradation struct {
	scores map[string]types.DegradationScore
}

func (f *fakeDegradation) Latest(provider string) (types.DegradationScore, bool) {
	s, ok := f.scores[provider]
	return s, ok
}

func emptyPipeline() metrics.PipelineSnapshot { return metrics.PipelineSnapshot{} }

func TestStatusHealthyWhenAllProvidersConnectedAndHealthy(t *testing.T) {
	counters := metrics.NewCounters()
	conns := &fakeConnections{conns: []types.Connection{{Provider: "alpaca", Connected: true}}}
	deg := &fakeDegradation{scores: map[string]types.DegradationScore{
		"alpaca": {ProviderID: "alpaca", Composite: 0.02, Recommendation: types.RecHealthy},
	}}

	s := New(counters, emptyPipeline, conns, deg)
	snap := s.Status()
	require.Equal(t, LevelHealthy, snap.Level)
	require.Len(t, snap.Providers, 1)
}

func TestStatusUnhealthyWhenAProviderIsDisconnected(t *testing.T) {
	counters := metrics.NewCounters()
	conns := &fakeConnections{conns: []types.Connection{{Provider: "ibkr", Connected: false}}}
	deg := &fakeDegradation{scores: map[string]types.DegradationScore{}}

	s := New(counters, emptyPipeline, conns, deg)
	snap := s.Status()
	require.Equal(t, LevelUnhealthy, snap.Level)
	require.Contains(t, snap.Message, "ibkr")
}

func TestStatusDegradedWhenRecommendationIsCaution(t *testing.T) {
	counters := metrics.NewCounters()
	conns := &fakeConnections{conns: []types.Connection{{Provider: "polygon", Connected: true}}}
	deg := &fakeDegradation{scores: map[string]types.DegradationScore{
		"polygon": {ProviderID: "polygon", Composite: 0.35, Recommendation: types.RecCaution},
	}}

	s := New(counters, emptyPipeline, conns, deg)
	snap := s.Status()
	require.Equal(t, LevelDegraded, snap.Level)
}

func TestReadinessReadyWithNoRequiredProviders(t *testing.T) {
	counters := metrics.NewCounters()
	conns := &fakeConnections{}
	deg := &fakeDegradation{scores: map[string]types.DegradationScore{}}

	s := New(counters, emptyPipeline, conns, deg)
	require.True(t, s.Readiness().Ready)
}

func TestReadinessNotReadyUntilRequiredProviderConnects(t *testing.T) {
	counters := metrics.NewCounters()
	conns := &fakeConnections{conns: []types.Connection{{Provider: "alpaca", Connected: false}}}
	deg := &fakeDegradation{scores: map[string]types.DegradationScore{}}

	s := New(counters, emptyPipeline, conns, deg)
	s.RequireConnected("alpaca")

	ready := s.Readiness()
	require.False(t, ready.Ready)

	conns.conns[0].Connected = true
	ready = s.Readiness()
	require.True(t, ready.Ready)
}

func TestLiveHandlerAlwaysReportsAlive(t *testing.T) {
	s := New(metrics.NewCounters(), emptyPipeline, &fakeConnections{}, &fakeDegradation{scores: map[string]types.DegradationScore{}})
	require.NotPanics(t, func() {
		_ = s.LiveHandler()
	})
	require.WithinDuration(t, time.Now(), s.Status().Timestamp, time.Second)

	rec := httptest.NewRecorder()
	s.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"alive"`)
}
