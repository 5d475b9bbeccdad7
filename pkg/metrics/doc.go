/*
Package metrics defines the process-wide Counters value and the
Prometheus metrics it mirrors into.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Counters (atomic fields)                                 │
	│    RecordReceived / RecordDuplicate / RecordValidated /   │
	│    RecordRejected / RecordPublished / RecordDropped /     │
	│    RecordStored / RecordStoreFailed                        │
	│                     │                                      │
	│                     ▼                                      │
	│  Prometheus vectors (mirrored on every Record* call)      │
	│                     │                                      │
	│                     ▼                                      │
	│  Handler() → promhttp.Handler() for scraping              │
	└────────────────────────────────────────────────────────┘

Counters is constructed once at startup with NewCounters and threaded
through the pipeline and the status snapshotter as a plain value —
neither of those packages imports Prometheus directly. ReconciliationSnapshot and Reconcile expose the
§3 accounting invariant (received == duplicates + validated + rejected,
validated == accepted + dropped) for the status snapshot and for
periodic self-checks; a sustained nonzero Unaccounted means a producer
somewhere stopped reporting one of its counters.

# Usage

	counters := metrics.NewCounters()
	counters.RecordReceived("AAPL", "trade")
	counters.RecordValidated()
	counters.RecordPublished(pipeline.Len())

	ok, unaccounted := counters.Reconcile()
	if !ok {
		log.Logger.Warn().Int64("unaccounted", unaccounted).Msg("reconciliation mismatch")
	}

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
