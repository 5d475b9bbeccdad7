// Package clockskew implements the Clock Skew Estimator (C5): a
// per-provider exponentially-weighted moving average of
// (local receive time − exchange-reported event time), for flagging a
// provider whose timestamps are drifting from wall clock. Neither the
// degradation scorer (C10) nor the status snapshotter (C13) reads it.
package clockskew

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
)

// Estimator tracks a single provider's clock skew as an EWMA over
// successive samples, in seconds (fractional, can be negative when the
// exchange clock runs ahead of the receiver).
type Estimator struct {
	mu  sync.Mutex
	avg ewma.MovingAverage
	n   int64
}

// New returns an Estimator with no samples yet; Skew reports zero until
// the first Observe.
func New() *Estimator {
	return &Estimator{avg: ewma.NewMovingAverage()}
}

// Observe folds in one (recvTime, exchangeTime) pair. A negative skew
// means the exchange timestamp is ahead of the local receive time.
func (e *Estimator) Observe(recvTime, exchangeTime time.Time) {
	skew := recvTime.Sub(exchangeTime).Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.avg.Add(skew)
	e.n++
}

// Skew returns the current EWMA of the observed skew.
func (e *Estimator) Skew() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.n == 0 {
		return 0
	}
	return time.Duration(e.avg.Value() * float64(time.Second))
}

// Samples returns the number of observations folded in so far.
func (e *Estimator) Samples() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

// Registry tracks one Estimator per provider, created lazily on first
// Observe so callers don't need to pre-register known providers.
type Registry struct {
	mu         sync.RWMutex
	estimators map[string]*Estimator
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{estimators: make(map[string]*Estimator)}
}

// Observe records one sample for the named provider, creating its
// Estimator on first use.
func (r *Registry) Observe(provider string, recvTime, exchangeTime time.Time) {
	r.mu.RLock()
	e, ok := r.estimators[provider]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		e, ok = r.estimators[provider]
		if !ok {
			e = New()
			r.estimators[provider] = e
		}
		r.mu.Unlock()
	}
	e.Observe(recvTime, exchangeTime)
}

// Skew returns the current skew for provider, or zero if no samples
// have been observed for it yet.
func (r *Registry) Skew(provider string) time.Duration {
	r.mu.RLock()
	e, ok := r.estimators[provider]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.Skew()
}

// Snapshot returns the current skew for every provider observed so far.
func (r *Registry) Snapshot() map[string]time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]time.Duration, len(r.estimators))
	for provider, e := range r.estimators {
		out[provider] = e.Skew()
	}
	return out
}
