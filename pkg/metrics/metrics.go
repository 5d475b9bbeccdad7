package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingestion metrics
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_events_received_total",
			Help: "Total number of raw provider events received, by symbol and event type",
		},
		[]string{"symbol", "type"},
	)

	EventsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_events_duplicate_total",
			Help: "Total number of received events recognized as duplicates by sequence number",
		},
		[]string{"symbol"},
	)

	EventsValidatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_events_validated_total",
			Help: "Total number of events that passed tick-size and divergence validation",
		},
	)

	EventsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_events_rejected_total",
			Help: "Total number of events rejected by a validator, by reason",
		},
		[]string{"reason"},
	)

	// Pipeline metrics
	PipelinePublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_pipeline_published_total",
			Help: "Total number of events accepted onto the bounded event pipeline",
		},
	)

	PipelineDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_pipeline_dropped_total",
			Help: "Total number of events dropped because the pipeline was full",
		},
	)

	PipelineDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_pipeline_depth",
			Help: "Current number of events buffered in the pipeline channel",
		},
	)

	PipelinePeakDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_pipeline_peak_depth",
			Help: "High-water mark of the pipeline channel depth since startup",
		},
	)

	PipelinePublishedPerSecond = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_pipeline_published_per_second",
			Help: "EWMA of events published onto the pipeline per second",
		},
	)

	// Storage metrics
	StoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_stored_total",
			Help: "Total number of events durably written to the archive sink",
		},
	)

	StoreFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_store_failed_total",
			Help: "Total number of events that failed to write to the archive sink",
		},
	)

	// Connection health metrics
	ConnectionUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collector_connection_up",
			Help: "Whether a provider connection is currently up (1) or down (0)",
		},
		[]string{"provider"},
	)

	ConnectionReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_connection_reconnects_total",
			Help: "Total number of reconnects for a provider connection",
		},
		[]string{"provider"},
	)

	ConnectionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_connection_latency_seconds",
			Help:    "Observed heartbeat round-trip latency by provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Clock skew metrics
	ClockSkewSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collector_clock_skew_seconds",
			Help: "EWMA of receive-minus-exchange timestamp skew by provider",
		},
		[]string{"provider"},
	)

	// Degradation metrics
	DegradationScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collector_degradation_score",
			Help: "Composite degradation score by provider, 0 (healthy) to 1 (fully degraded)",
		},
		[]string{"provider"},
	)

	// Job execution metrics
	JobExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_job_executions_total",
			Help: "Total number of job executions by task type and terminal status",
		},
		[]string{"task_type", "status"},
	)

	JobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_job_retries_total",
			Help: "Total number of job retry attempts by task type",
		},
		[]string{"task_type"},
	)

	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_job_duration_seconds",
			Help:    "Job execution duration in seconds by task type",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"task_type"},
	)

	// Alert metrics
	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_alerts_raised_total",
			Help: "Total number of distinct alerts raised by category and severity",
		},
		[]string{"category", "severity"},
	)

	AlertsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown or dedup",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsReceivedTotal,
		EventsDuplicateTotal,
		EventsValidatedTotal,
		EventsRejectedTotal,
		PipelinePublishedTotal,
		PipelineDroppedTotal,
		PipelineDepth,
		PipelinePeakDepth,
		PipelinePublishedPerSecond,
		StoredTotal,
		StoreFailedTotal,
		ConnectionUp,
		ConnectionReconnectsTotal,
		ConnectionLatencySeconds,
		ClockSkewSeconds,
		DegradationScore,
		JobExecutionsTotal,
		JobRetriesTotal,
		JobDurationSeconds,
		AlertsRaisedTotal,
		AlertsSuppressedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ReconciliationSnapshot is a point-in-time read of the reconciliation
// counters. received should equal receivedDuplicates + validated + rejected,
// and validated should equal pipelineAccepted + pipelineDropped; Unaccounted
// is non-zero only when one of those invariants has been violated.
type ReconciliationSnapshot struct {
	Received           int64
	ReceivedDuplicates int64
	Validated          int64
	Rejected           int64
	PipelineAccepted   int64
	PipelineDropped    int64
	Stored             int64
	StoreFailed        int64
	Unaccounted        int64
}

// PipelineSnapshot is a point-in-time read of the pipeline counters.
type PipelineSnapshot struct {
	Published       int64
	Dropped         int64
	CurrentDepth    int64
	PeakDepth       int64
	PublishedPerSec float64
}

// Counters is the single process-wide set of atomic counters threaded
// through every component that reports ingestion or pipeline activity.
// Every update mirrors into the package-level Prometheus vectors above so
// the in-process snapshot and the scraped metrics never disagree; callers
// only ever see the Counters value, never the Prometheus types directly.
type Counters struct {
	received           atomic.Int64
	receivedDuplicates atomic.Int64
	validated          atomic.Int64
	rejected           atomic.Int64
	pipelineAccepted   atomic.Int64
	pipelineDropped    atomic.Int64
	stored             atomic.Int64
	storeFailed        atomic.Int64

	currentDepth atomic.Int64
	peakDepth    atomic.Int64

	rateMu      chan struct{} // 1-buffered; ewma.MovingAverage is not concurrency-safe
	publishRate ewma.MovingAverage
}

// NewCounters builds a zeroed Counters ready for concurrent use.
func NewCounters() *Counters {
	c := &Counters{
		publishRate: ewma.NewMovingAverage(),
		rateMu:      make(chan struct{}, 1),
	}
	c.rateMu <- struct{}{}
	return c
}

// RecordReceived tallies one raw event received from a provider.
func (c *Counters) RecordReceived(symbol, eventType string) {
	c.received.Add(1)
	EventsReceivedTotal.WithLabelValues(symbol, eventType).Inc()
}

// RecordDuplicate tallies one event recognized as a sequence-number duplicate.
func (c *Counters) RecordDuplicate(symbol string) {
	c.receivedDuplicates.Add(1)
	EventsDuplicateTotal.WithLabelValues(symbol).Inc()
}

// RecordValidated tallies one event that passed all validators.
func (c *Counters) RecordValidated() {
	c.validated.Add(1)
	EventsValidatedTotal.Inc()
}

// RecordRejected tallies one event rejected by a validator for reason.
func (c *Counters) RecordRejected(reason string) {
	c.rejected.Add(1)
	EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordPublished tallies one event accepted onto the pipeline and updates
// the depth gauges and the published-per-second EWMA. depthAfter is the
// channel length immediately after the send.
func (c *Counters) RecordPublished(depthAfter int) {
	c.pipelineAccepted.Add(1)
	PipelinePublishedTotal.Inc()
	c.setDepth(depthAfter)

	<-c.rateMu
	c.publishRate.Add(1)
	rate := c.publishRate.Value()
	c.rateMu <- struct{}{}
	PipelinePublishedPerSecond.Set(rate)
}

// RecordDropped tallies one event dropped because the pipeline was full.
func (c *Counters) RecordDropped(depthAfter int) {
	c.pipelineDropped.Add(1)
	PipelineDroppedTotal.Inc()
	c.setDepth(depthAfter)
}

func (c *Counters) setDepth(depth int) {
	d := int64(depth)
	c.currentDepth.Store(d)
	PipelineDepth.Set(float64(d))
	for {
		peak := c.peakDepth.Load()
		if d <= peak {
			return
		}
		if c.peakDepth.CompareAndSwap(peak, d) {
			PipelinePeakDepth.Set(float64(d))
			return
		}
	}
}

// RecordStored tallies one event durably written to the archive sink.
func (c *Counters) RecordStored() {
	c.stored.Add(1)
	StoredTotal.Inc()
}

// RecordStoreFailed tallies one event that failed to write to the archive sink.
func (c *Counters) RecordStoreFailed() {
	c.storeFailed.Add(1)
	StoreFailedTotal.Inc()
}

// ReconciliationSnapshot returns a best-effort consistent read of the
// ingestion counters, used by Reconcile and by the status snapshot (C13).
// Independent atomic loads are not one atomic transaction, so Unaccounted
// can show a transient nonzero value under concurrent load; a sustained
// nonzero value indicates a real accounting bug upstream.
func (c *Counters) ReconciliationSnapshot() ReconciliationSnapshot {
	s := ReconciliationSnapshot{
		Received:           c.received.Load(),
		ReceivedDuplicates: c.receivedDuplicates.Load(),
		Validated:          c.validated.Load(),
		Rejected:           c.rejected.Load(),
		PipelineAccepted:   c.pipelineAccepted.Load(),
		PipelineDropped:    c.pipelineDropped.Load(),
		Stored:             c.stored.Load(),
		StoreFailed:        c.storeFailed.Load(),
	}
	expectedReceived := s.ReceivedDuplicates + s.Validated + s.Rejected
	expectedValidated := s.PipelineAccepted + s.PipelineDropped
	s.Unaccounted = (s.Received - expectedReceived) + (s.Validated - expectedValidated)
	return s
}

// Reconcile checks the accounting invariant (received ==
// receivedDuplicates + validated + rejected, and validated ==
// pipelineAccepted + pipelineDropped) and reports whether it held.
func (c *Counters) Reconcile() (ok bool, unaccounted int64) {
	s := c.ReconciliationSnapshot()
	return s.Unaccounted == 0, s.Unaccounted
}

// PipelineSnapshot returns a point-in-time read of the pipeline stats.
func (c *Counters) PipelineSnapshot() PipelineSnapshot {
	<-c.rateMu
	rate := c.publishRate.Value()
	c.rateMu <- struct{}{}
	return PipelineSnapshot{
		Published:       c.pipelineAccepted.Load(),
		Dropped:         c.pipelineDropped.Load(),
		CurrentDepth:    c.currentDepth.Load(),
		PeakDepth:       c.peakDepth.Load(),
		PublishedPerSec: rate,
	}
}
