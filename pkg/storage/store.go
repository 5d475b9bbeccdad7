package storage

import (
	"time"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// Store is the collector's durable state surface: cron schedules
// (durable across restarts per spec.md §3), execution history (an
// age-bounded rolling log, immutable once a run reaches a terminal
// status), and the last-known desired subscription set (so a restart
// can re-subscribe without waiting on the next config reload).
type Store interface {
	// Schedules
	SaveSchedule(schedule *types.CronSchedule) error
	GetSchedule(id string) (*types.CronSchedule, error)
	ListSchedules() ([]*types.CronSchedule, error)
	DeleteSchedule(id string) error

	// Executions
	SaveExecution(exec *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutionsBySchedule(scheduleID string, limit int) ([]*types.Execution, error)
	ListRecentExecutions(since time.Time, limit int) ([]*types.Execution, error)
	PruneExecutionsOlderThan(cutoff time.Time) (int, error)

	// Subscription state
	SaveSubscriptionState(specs []*types.SymbolSpec) error
	LoadSubscriptionState() ([]*types.SymbolSpec, error)

	Close() error
}
