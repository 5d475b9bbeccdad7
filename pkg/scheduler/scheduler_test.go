package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []*types.CronSchedule
}

func (r *recordingDispatcher) Dispatch(s *types.CronSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestParseExpressionRejectsMalformedCronAtWriteTime(t *testing.T) {
	_, _, err := ParseExpression("not a cron", "UTC")
	require.Error(t, err)

	_, _, err = ParseExpression("0 3 * * *", "Not/AZone")
	require.Error(t, err)

	_, _, err = ParseExpression("0 3 * * *", "America/New_York")
	require.NoError(t, err)
}

func TestCronDSTSpringForwardComputesNextFireInUTC(t *testing.T) {
	// spec.md scenario: 0 3 * * * in America/New_York, DST spring-forward
	// day (2026-03-08 clocks jump 2:00am -> 3:00am); evaluated from
	// 02:30 local, nextFire should land on 03:00 local == 07:00 UTC.
	cron, loc, err := ParseExpression("0 3 * * *", "America/New_York")
	require.NoError(t, err)

	now := time.Date(2026, 3, 8, 2, 30, 0, 0, loc)
	next := cron.Next(now).UTC()

	want := time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC)
	assert.True(t, next.Equal(want), "expected nextFire %v, got %v", want, next)
}

func TestAddAndFireDispatchesDueSchedules(t *testing.T) {
	s := New()
	dispatcher := &recordingDispatcher{}

	sched := &types.CronSchedule{
		ID:             "s1",
		Name:           "every-minute",
		CronExpression: "* * * * *",
		TimeZone:       "UTC",
		Enabled:        true,
	}
	require.NoError(t, s.Add(sched))

	// force an immediate fire regardless of real wall-clock minute
	// boundary by moving nextFire a second into the past and directly
	// invoking fireDue.
	s.mu.Lock()
	s.h[0].nextFire = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.fireDue(dispatcher)

	if dispatcher.count() != 1 {
		t.Fatalf("expected 1 dispatch, got %d", dispatcher.count())
	}
	if sched.ExecutionCount != 1 {
		t.Fatalf("expected executionCount=1, got %d", sched.ExecutionCount)
	}
	if !sched.NextExecutionAt.After(time.Now()) {
		t.Fatal("expected nextExecutionAt to be recomputed into the future")
	}
}

func TestDisabledScheduleIsSkippedButRescheduled(t *testing.T) {
	s := New()
	dispatcher := &recordingDispatcher{}

	sched := &types.CronSchedule{
		ID:             "s1",
		CronExpression: "* * * * *",
		TimeZone:       "UTC",
		Enabled:        false,
	}
	require.NoError(t, s.Add(sched))

	s.mu.Lock()
	s.h[0].nextFire = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.fireDue(dispatcher)

	if dispatcher.count() != 0 {
		t.Fatalf("expected no dispatch for a disabled schedule, got %d", dispatcher.count())
	}
	if s.Len() != 1 {
		t.Fatalf("expected the schedule to remain in the heap, got len=%d", s.Len())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New()
	dispatcher := &recordingDispatcher{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, dispatcher)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after cancellation")
	}
}

func TestRemoveDropsSchedule(t *testing.T) {
	s := New()
	sched := &types.CronSchedule{ID: "s1", CronExpression: "* * * * *", TimeZone: "UTC", Enabled: true}
	require.NoError(t, s.Add(sched))
	require.Equal(t, 1, s.Len())

	s.Remove("s1")
	require.Equal(t, 0, s.Len())
}
