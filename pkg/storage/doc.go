/*
Package storage provides BoltDB-backed durable state for the collector:
cron schedules, execution history, and last-known subscription state.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions without a separate
database process to operate. All data is serialized as JSON and stored
in buckets scoped to the three state concerns below.

# Architecture

BoltDB (bbolt) gives embedded, transactional storage with zero external
dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/collector.db             │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────────┐          │          │
	│  │  │ schedules      (Schedule ID)   │          │          │
	│  │  │ executions     (time:ID key)   │          │          │
	│  │  │ subscription_state (fixed key) │          │          │
	│  │  └────────────────────────────────┘          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file per collector process
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Buckets:
  - schedules: Cron schedule definitions, keyed by schedule ID
  - executions: Execution history, keyed by a zero-padded start
    timestamp plus execution ID so a bucket cursor walks entries in
    chronological order without a secondary index
  - subscription_state: The last-saved desired symbol set, a single
    JSON array under a fixed key

# Execution History

Executions are immutable once they reach a terminal status
(ExecCompleted, ExecCompletedWithWarnings, ExecFailed, ExecCancelled,
ExecTimedOut), but SaveExecution is called once when a run starts and
again when it finishes; both calls land on the same key because the
key is derived from StartedAt, not from a monotonically increasing
counter, so the second write naturally supersedes the first.

ListRecentExecutions and PruneExecutionsOlderThan both lean on the
chronological key ordering: a cursor positioned at the tail walks
backward (most recent first) or a cursor at the head walks forward
until it passes the cutoff, rather than scanning the whole bucket and
filtering in memory.

# Subscription State

SaveSubscriptionState/LoadSubscriptionState let the collector
re-subscribe to its last-known symbol set immediately on restart,
rather than sitting idle until the next scheduled config reload picks
up the desired set again.

# What storage does not own

Coordinator claims (leader election, per-shard ownership) are
persisted by the pkg/coordinator implementations themselves
(file-lock claim files, or Raft FSM state) - this package only
durable-stores the collector's own schedule/execution/subscription
state, not cluster coordination state.
*/
package storage
