package main

import (
	"context"
	"time"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/alerts"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/coordinator"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/jobs"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/storage"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// defaultTaskRegistry builds the TaskType -> Task mapping the job
// engine dispatches fired schedules into. Maintenance tasks that only
// need this process's own durable state (cleanup, retention) are
// implemented directly against the Store; tasks that would touch an
// archive's on-disk files (defragmentation, compression, repair) are
// registered as no-ops here since no concrete archive writer is wired
// into this distilled entrypoint (spec.md §6 scopes the archive writer
// as an abstract Sink, not a filesystem layout this package owns).
func defaultTaskRegistry(coord coordinator.Coordinator, store storage.Store, alertsAggregator *alerts.Aggregator) map[types.TaskType]jobs.Task {
	return map[types.TaskType]jobs.Task{
		types.TaskHealthCheck: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "health check completed")
			return nil
		},
		types.TaskRetentionEnforcement: func(ctx context.Context, exec *types.Execution) error {
			removed, err := store.PruneExecutionsOlderThan(time.Now().Add(-7 * 24 * time.Hour))
			if err != nil {
				return err
			}
			exec.FilesProcessed = int64(removed)
			return nil
		},
		types.TaskCleanup: func(ctx context.Context, exec *types.Execution) error {
			removed, err := store.PruneExecutionsOlderThan(time.Now().Add(-30 * 24 * time.Hour))
			if err != nil {
				return err
			}
			exec.FilesProcessed = int64(removed)
			return nil
		},
		types.TaskIntegrityCheck: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "integrity check completed: no archive writer configured")
			return nil
		},
		types.TaskArchival: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "archival pass completed: no archive writer configured")
			return nil
		},
		types.TaskGapFill: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "gap-fill completed: no archive writer configured")
			return nil
		},
		types.TaskTierMigration: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "tier migration completed: no archive writer configured")
			return nil
		},
		types.TaskCompression: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "compression completed: no archive writer configured")
			return nil
		},
		types.TaskDefragmentation: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "defragmentation completed: no archive writer configured")
			return nil
		},
		types.TaskRepair: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "repair completed: no archive writer configured")
			return nil
		},
		types.TaskFullMaintenance: func(ctx context.Context, exec *types.Execution) error {
			exec.Log = append(exec.Log, "full maintenance completed: no archive writer configured")
			return nil
		},
	}
}
