package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

var (
	bucketSchedules         = []byte("schedules")
	bucketExecutions        = []byte("executions")
	bucketSubscriptionState = []byte("subscription_state")
)

const subscriptionStateKey = "current"

// BoltStore implements Store using BoltDB for embedded, transactional,
// zero-external-dependency persistence - the same engine and bucket
// layout the teacher's cluster-state store uses, generalized from
// nodes/services/secrets to schedules/executions/subscription state.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "collector.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSchedules, bucketExecutions, bucketSubscriptionState} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveSchedule upserts a cron schedule keyed by its id.
func (s *BoltStore) SaveSchedule(schedule *types.CronSchedule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data, err := json.Marshal(schedule)
		if err != nil {
			return err
		}
		return b.Put([]byte(schedule.ID), data)
	})
}

// GetSchedule looks up a schedule by id.
func (s *BoltStore) GetSchedule(id string) (*types.CronSchedule, error) {
	var schedule types.CronSchedule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("schedule not found: %s", id)
		}
		return json.Unmarshal(data, &schedule)
	})
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListSchedules returns every durable schedule, loaded at startup to
// repopulate the scheduler's heap.
func (s *BoltStore) ListSchedules() ([]*types.CronSchedule, error) {
	var schedules []*types.CronSchedule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		return b.ForEach(func(k, v []byte) error {
			var schedule types.CronSchedule
			if err := json.Unmarshal(v, &schedule); err != nil {
				return err
			}
			schedules = append(schedules, &schedule)
			return nil
		})
	})
	return schedules, err
}

// DeleteSchedule removes a schedule.
func (s *BoltStore) DeleteSchedule(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		return b.Delete([]byte(id))
	})
}

// executionKey orders executions chronologically by construction, so a
// bucket cursor walks them in start-time order without a secondary
// index: a zero-padded nanosecond timestamp followed by the execution
// id to break ties and keep keys unique even for identical timestamps.
func executionKey(exec *types.Execution) []byte {
	return []byte(fmt.Sprintf("%020d:%s", exec.StartedAt.UnixNano(), exec.ID))
}

// SaveExecution upserts an execution record. Because the key derives
// from StartedAt, updating a running execution to a terminal status
// reuses the same key rather than creating a duplicate entry.
func (s *BoltStore) SaveExecution(exec *types.Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data, err := json.Marshal(exec)
		if err != nil {
			return err
		}
		return b.Put(executionKey(exec), data)
	})
}

// GetExecution scans for an execution by id. Executions are keyed by
// start time for efficient range queries, so a point lookup by id
// costs a full bucket scan - acceptable since id lookups are rare
// operator-tooling calls, not the hot execution path.
func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var found *types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				continue
			}
			if exec.ID == id {
				found = &exec
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	return found, nil
}

// ListExecutionsBySchedule returns up to limit executions for
// scheduleID, most recent first. limit <= 0 means unbounded.
func (s *BoltStore) ListExecutionsBySchedule(scheduleID string, limit int) ([]*types.Execution, error) {
	var out []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				continue
			}
			if exec.ScheduleID != scheduleID {
				continue
			}
			out = append(out, &exec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

// ListRecentExecutions returns up to limit executions started at or
// after since, most recent first. limit <= 0 means unbounded.
func (s *BoltStore) ListRecentExecutions(since time.Time, limit int) ([]*types.Execution, error) {
	lowKey := fmt.Sprintf("%020d", since.UnixNano())
	var out []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if string(k) < lowKey {
				break
			}
			var exec types.Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				continue
			}
			out = append(out, &exec)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

// PruneExecutionsOlderThan deletes every execution started before
// cutoff, keeping the history bucket age-bounded, and returns the
// number of rows removed.
func (s *BoltStore) PruneExecutionsOlderThan(cutoff time.Time) (int, error) {
	cutoffKey := fmt.Sprintf("%020d", cutoff.UnixNano())
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= cutoffKey {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// SaveSubscriptionState persists the full desired-symbol set under a
// single fixed key, so a restart can re-subscribe immediately instead
// of waiting on the next config reload.
func (s *BoltStore) SaveSubscriptionState(specs []*types.SymbolSpec) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptionState)
		data, err := json.Marshal(specs)
		if err != nil {
			return err
		}
		return b.Put([]byte(subscriptionStateKey), data)
	})
}

// LoadSubscriptionState returns the last-saved desired-symbol set, or
// nil if none has ever been saved.
func (s *BoltStore) LoadSubscriptionState() ([]*types.SymbolSpec, error) {
	var specs []*types.SymbolSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscriptionState)
		data := b.Get([]byte(subscriptionStateKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &specs)
	})
	return specs, err
}
