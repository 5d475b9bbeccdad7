// Package alerts implements the Alert Aggregator (C11): per-fingerprint
// cooldown deduplication feeding into (category, severity)-keyed
// batches, flushed on a fixed window or as soon as a batch fills up.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

const (
	defaultDedupCooldown = 300 * time.Second
	defaultWindow        = 30 * time.Second
	defaultMaxBatchSize  = 50
)

// Subscriber receives flushed alert batches, mirroring the teacher's
// buffered-channel subscription idiom.
type Subscriber chan *types.AlertBatch

type groupKey struct {
	category string
	severity types.AlertSeverity
}

// Aggregator deduplicates raised alerts by fingerprint and batches the
// survivors by (category, severity), flushing on a timer or on
// overflow.
type Aggregator struct {
	dedupCooldown time.Duration
	window        time.Duration
	maxBatchSize  int

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	pending    map[groupKey]*types.AlertBatch
	subscribers map[Subscriber]bool

	flushNow chan groupKey
	stopCh   chan struct{}
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// Option configures an Aggregator at construction time.
type Option func(*Aggregator)

// WithDedupCooldown overrides the default 300s fingerprint cooldown.
func WithDedupCooldown(d time.Duration) Option {
	return func(a *Aggregator) { a.dedupCooldown = d }
}

// WithWindow overrides the default 30s flush window.
func WithWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.window = d }
}

// WithMaxBatchSize overrides the default 50-alert overflow threshold.
func WithMaxBatchSize(n int) Option {
	return func(a *Aggregator) { a.maxBatchSize = n }
}

// New builds an Aggregator. Call Start to begin the background flusher.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		dedupCooldown: defaultDedupCooldown,
		window:        defaultWindow,
		maxBatchSize:  defaultMaxBatchSize,
		lastSeen:      make(map[string]time.Time),
		pending:       make(map[groupKey]*types.AlertBatch),
		subscribers:   make(map[Subscriber]bool),
		flushNow:      make(chan groupKey, 64),
		stopCh:        make(chan struct{}),
		logger:        log.WithComponent("alerts"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins the flush loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop halts the flush loop and flushes any still-pending groups.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// Subscribe returns a new channel that receives every flushed batch.
func (a *Aggregator) Subscribe() Subscriber {
	a.mu.Lock()
	defer a.mu.Unlock()
	sub := make(Subscriber, 50)
	a.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (a *Aggregator) Unsubscribe(sub Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.subscribers[sub]; ok {
		delete(a.subscribers, sub)
		close(sub)
	}
}

func fingerprintOf(category, title, source, given string) string {
	if given != "" {
		return given
	}
	return fmt.Sprintf("%s:%s:%s", category, title, source)
}

// Submit raises one alert. If its fingerprint was seen within the
// dedup cooldown, the alert is suppressed (only a counter moves);
// otherwise it's appended to its (category, severity) group, flushing
// that group immediately if it just reached maxBatchSize.
func (a *Aggregator) Submit(category string, severity types.AlertSeverity, title, message, source, fingerprint string) bool {
	fp := fingerprintOf(category, title, source, fingerprint)
	now := time.Now()

	a.mu.Lock()
	if seenAt, ok := a.lastSeen[fp]; ok && now.Sub(seenAt) < a.dedupCooldown {
		a.mu.Unlock()
		metrics.AlertsSuppressedTotal.WithLabelValues(category).Inc()
		return false
	}
	a.lastSeen[fp] = now

	item := types.AlertItem{
		Category:    category,
		Severity:    severity,
		Title:       title,
		Message:     message,
		Source:      source,
		Fingerprint: fp,
		Timestamp:   now,
	}

	key := groupKey{category: category, severity: severity}
	batch, ok := a.pending[key]
	if !ok {
		batch = &types.AlertBatch{
			Category: category,
			Severity: severity,
			BySource: make(map[string]int),
		}
		a.pending[key] = batch
	}
	batch.Alerts = append(batch.Alerts, item)
	batch.Count++
	batch.BySource[source]++
	overflowed := batch.Count >= a.maxBatchSize
	a.mu.Unlock()

	metrics.AlertsRaisedTotal.WithLabelValues(category, string(severity)).Inc()

	if overflowed {
		select {
		case a.flushNow <- key:
		default:
		}
	}
	return true
}

func (a *Aggregator) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flushAll()
			a.pruneLastSeen()
		case key := <-a.flushNow:
			a.flushOne(key)
		case <-a.stopCh:
			a.flushAll()
			return
		}
	}
}

func (a *Aggregator) flushAll() {
	a.mu.Lock()
	keys := make([]groupKey, 0, len(a.pending))
	for k := range a.pending {
		keys = append(keys, k)
	}
	a.mu.Unlock()

	for _, k := range keys {
		a.flushOne(k)
	}
}

func (a *Aggregator) flushOne(key groupKey) {
	a.mu.Lock()
	batch, ok := a.pending[key]
	if !ok || batch.Count == 0 {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	a.mu.Unlock()

	batch.WindowClosed = time.Now()
	a.broadcast(batch)
}

func (a *Aggregator) broadcast(batch *types.AlertBatch) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for sub := range a.subscribers {
		select {
		case sub <- batch:
		default:
			a.logger.Warn().Str("category", batch.Category).Msg("alert subscriber buffer full, batch dropped")
		}
	}
}

// pruneLastSeen drops fingerprint cooldown entries that have already
// expired, so long-running aggregators don't grow this map forever.
func (a *Aggregator) pruneLastSeen() {
	cutoff := time.Now().Add(-a.dedupCooldown)
	a.mu.Lock()
	defer a.mu.Unlock()
	for fp, seenAt := range a.lastSeen {
		if seenAt.Before(cutoff) {
			delete(a.lastSeen, fp)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (a *Aggregator) SubscriberCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subscribers)
}
