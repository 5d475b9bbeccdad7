package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGetSchedule(t *testing.T) {
	s := openTestStore(t)

	sched := &types.CronSchedule{
		ID:             "sched-1",
		Name:           "daily-archival",
		CronExpression: "0 2 * * *",
		TaskType:       types.TaskType("archival"),
		Enabled:        true,
	}
	require.NoError(t, s.SaveSchedule(sched))

	got, err := s.GetSchedule("sched-1")
	require.NoError(t, err)
	require.Equal(t, "daily-archival", got.Name)
	require.Equal(t, "0 2 * * *", got.CronExpression)
}

func TestGetScheduleMissingReturnsError(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSchedule("does-not-exist")
	require.Error(t, err)
}

func TestListSchedulesReturnsAllSaved(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveSchedule(&types.CronSchedule{ID: "a", Name: "a"}))
	require.NoError(t, s.SaveSchedule(&types.CronSchedule{ID: "b", Name: "b"}))

	all, err := s.ListSchedules()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestDeleteScheduleRemovesIt(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveSchedule(&types.CronSchedule{ID: "sched-1", Name: "x"}))
	require.NoError(t, s.DeleteSchedule("sched-1"))

	_, err := s.GetSchedule("sched-1")
	require.Error(t, err)
}

func TestSaveExecutionUpsertsOnSameStartTime(t *testing.T) {
	s := openTestStore(t)

	start := time.Now()
	exec := &types.Execution{ID: "exec-1", ScheduleID: "sched-1", StartedAt: start, Status: types.ExecutionStatus("running")}
	require.NoError(t, s.SaveExecution(exec))

	exec.Status = types.ExecCompleted
	exec.CompletedAt = start.Add(2 * time.Second)
	require.NoError(t, s.SaveExecution(exec))

	got, err := s.GetExecution("exec-1")
	require.NoError(t, err)
	require.Equal(t, types.ExecCompleted, got.Status)

	all, err := s.ListExecutionsBySchedule("sched-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 1, "second save must overwrite the first, not append")
}

func TestListExecutionsByScheduleFiltersAndOrdersMostRecentFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "e1", ScheduleID: "sched-a", StartedAt: base}))
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "e2", ScheduleID: "sched-a", StartedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "e3", ScheduleID: "sched-b", StartedAt: base.Add(2 * time.Minute)}))

	results, err := s.ListExecutionsBySchedule("sched-a", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "e2", results[0].ID, "most recent execution for sched-a should come first")
	require.Equal(t, "e1", results[1].ID)
}

func TestListExecutionsByScheduleHonorsLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveExecution(&types.Execution{
			ID:         "e" + string(rune('0'+i)),
			ScheduleID: "sched-a",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	results, err := s.ListExecutionsBySchedule("sched-a", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestListRecentExecutionsExcludesOlderThanSince(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "old", StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "new", StartedAt: now.Add(-time.Minute)}))

	recent, err := s.ListRecentExecutions(now.Add(-10*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "new", recent[0].ID)
}

func TestPruneExecutionsOlderThanRemovesOnlyStaleEntries(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "stale-1", StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "stale-2", StartedAt: now.Add(-30 * time.Hour)}))
	require.NoError(t, s.SaveExecution(&types.Execution{ID: "fresh", StartedAt: now.Add(-time.Minute)}))

	removed, err := s.PruneExecutionsOlderThan(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	remaining, err := s.ListRecentExecutions(now.Add(-72*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "fresh", remaining[0].ID)
}

func TestSubscriptionStateRoundTrips(t *testing.T) {
	s := openTestStore(t)

	specs := []*types.SymbolSpec{
		{Symbol: "AAPL", SecurityType: "stock"},
		{Symbol: "MSFT", SecurityType: "stock"},
	}
	require.NoError(t, s.SaveSubscriptionState(specs))

	loaded, err := s.LoadSubscriptionState()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, "AAPL", loaded[0].Symbol)
}

func TestLoadSubscriptionStateEmptyBeforeAnySave(t *testing.T) {
	s := openTestStore(t)

	loaded, err := s.LoadSubscriptionState()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveSchedule(&types.CronSchedule{ID: "sched-1", Name: "persisted"}))
	require.NoError(t, s1.Close())

	s2, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetSchedule("sched-1")
	require.NoError(t, err)
	require.Equal(t, "persisted", got.Name)
}
