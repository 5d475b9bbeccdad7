// Package status implements the Status Snapshotter (C13): a read-only
// view aggregating the reconciliation counters (C1), the pipeline
// counters (C2), every provider's connection health (C4), and the
// latest degradation scores (C10), in the same liveness/readiness/full
// status shape the teacher's metrics package exposes over HTTP.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// Level mirrors the teacher's tri-state health string, generalized
// from component booleans to the richer per-provider recommendations
// this domain computes.
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

// ProviderStatus is one provider's connection and degradation view.
type ProviderStatus struct {
	Provider       string                `json:"provider"`
	Connected      bool                  `json:"connected"`
	LatencyMs      float64               `json:"latencyMsEwma"`
	Recommendation types.Recommendation  `json:"recommendation"`
	Score          types.DegradationScore `json:"degradationScore"`
}

// Snapshot is the full read-only status view (C13).
type Snapshot struct {
	Level       Level                         `json:"status"`
	Timestamp   time.Time                     `json:"timestamp"`
	Version     string                        `json:"version,omitempty"`
	Uptime      string                        `json:"uptime"`
	Reconcile   metrics.ReconciliationSnapshot `json:"reconciliation"`
	Pipeline    metrics.PipelineSnapshot       `json:"pipeline"`
	Providers   []ProviderStatus              `json:"providers"`
	Message     string                        `json:"message,omitempty"`
}

// ReadinessSnapshot is the narrower readiness view: whether the
// components this process cannot serve traffic without are up.
type ReadinessSnapshot struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// ConnectionSource supplies the live per-provider connection snapshots
// this package aggregates (satisfied by *health.Monitor).
type ConnectionSource interface {
	SnapshotAll() []types.Connection
}

// DegradationSource supplies the most recently computed score for a
// provider, or false if none has been computed yet.
type DegradationSource interface {
	Latest(provider string) (types.DegradationScore, bool)
}

// Snapshotter aggregates C1/C2/C4/C10 into the read-only views exposed
// by the HTTP handlers below.
type Snapshotter struct {
	mu        sync.RWMutex
	startTime time.Time
	version   string

	counters     *metrics.Counters
	pipelineFn   func() metrics.PipelineSnapshot
	connections  ConnectionSource
	degradation  DegradationSource
	requireReady []string // provider ids that must be connected for readiness
}

// New builds a Snapshotter. pipelineSnapshot supplies the current
// pipeline depth/throughput figures (the bounded-channel pipeline owns
// that state directly, so it's threaded in as a closure rather than a
// second concrete dependency).
func New(counters *metrics.Counters, pipelineSnapshot func() metrics.PipelineSnapshot, connections ConnectionSource, degradation DegradationSource) *Snapshotter {
	return &Snapshotter{
		startTime:   time.Now(),
		counters:    counters,
		pipelineFn:  pipelineSnapshot,
		connections: connections,
		degradation: degradation,
	}
}

// SetVersion records the build version surfaced in status responses.
func (s *Snapshotter) SetVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
}

// RequireConnected marks provider ids whose disconnection makes the
// process not-ready, mirroring the teacher's critical-component list
// for readiness.
func (s *Snapshotter) RequireConnected(providers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireReady = append(s.requireReady[:0], providers...)
}

// Status builds the full aggregated snapshot.
func (s *Snapshotter) Status() Snapshot {
	s.mu.RLock()
	version := s.version
	start := s.startTime
	s.mu.RUnlock()

	conns := s.connections.SnapshotAll()
	providers := make([]ProviderStatus, 0, len(conns))
	level := LevelHealthy
	worstMessage := ""

	for _, c := range conns {
		ps := ProviderStatus{
			Provider:  c.Provider,
			Connected: c.Connected,
			LatencyMs: float64(c.Latency.EWMA) / float64(time.Millisecond),
		}
		if score, ok := s.degradation.Latest(c.Provider); ok {
			ps.Score = score
			ps.Recommendation = score.Recommendation
		}
		providers = append(providers, ps)

		switch ps.Recommendation {
		case types.RecUnavailable, types.RecFailoverRecommended:
			level = LevelUnhealthy
			worstMessage = c.Provider + " requires failover"
		case types.RecDegraded, types.RecCaution:
			if level == LevelHealthy {
				level = LevelDegraded
				worstMessage = c.Provider + " is degraded"
			}
		}
		if !c.Connected && level != LevelUnhealthy {
			level = LevelUnhealthy
			worstMessage = c.Provider + " is disconnected"
		}
	}

	return Snapshot{
		Level:     level,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(start).String(),
		Reconcile: s.counters.ReconciliationSnapshot(),
		Pipeline:  s.pipelineFn(),
		Providers: providers,
		Message:   worstMessage,
	}
}

// Readiness reports whether every provider named via RequireConnected
// is currently connected. With no required providers configured, the
// process is ready as soon as it can answer at all.
func (s *Snapshotter) Readiness() ReadinessSnapshot {
	s.mu.RLock()
	required := append([]string(nil), s.requireReady...)
	s.mu.RUnlock()

	if len(required) == 0 {
		return ReadinessSnapshot{Ready: true, Timestamp: time.Now()}
	}

	byProvider := make(map[string]types.Connection)
	for _, c := range s.connections.SnapshotAll() {
		byProvider[c.Provider] = c
	}

	for _, want := range required {
		conn, ok := byProvider[want]
		if !ok {
			return ReadinessSnapshot{Ready: false, Timestamp: time.Now(), Message: "waiting for " + want + " to register"}
		}
		if !conn.Connected {
			return ReadinessSnapshot{Ready: false, Timestamp: time.Now(), Message: want + " is not connected"}
		}
	}
	return ReadinessSnapshot{Ready: true, Timestamp: time.Now()}
}

// StatusHandler serves the full aggregated snapshot as JSON.
func (s *Snapshotter) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.Status()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if snap.Level == LevelUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(snap)
	}
}

// ReadyHandler serves the readiness view as JSON.
func (s *Snapshotter) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := s.Readiness()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if !ready.Ready {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(ready)
	}
}

// LiveHandler always reports 200 while the process is running, the
// same "are we alive at all" liveness check the teacher exposes.
func (s *Snapshotter) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		start := s.startTime
		s.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(start).String(),
		})
	}
}
