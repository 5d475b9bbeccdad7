// Package scheduler implements the Cron Scheduler (C8): a min-heap of
// CronSchedules keyed by next-fire time, woken by a single timer, that
// hands each due schedule off to the job engine's priority queue and
// reschedules itself in the schedule's declared IANA time zone.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	cronparser "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// parser accepts the standard 5-field crontab format (minute hour
// day-of-month month day-of-week), rejecting seconds-field extensions
// so `*/n`, `a,b,c`, and `a-b` behave exactly as spec.md §4.4 describes.
var parser = cronparser.NewParser(cronparser.Minute | cronparser.Hour | cronparser.Dom | cronparser.Month | cronparser.Dow)

// ParseExpression validates a 5-field cron expression and the IANA time
// zone it runs in, failing the write at config time per spec.md §4.4
// rather than at first fire.
func ParseExpression(expr, timeZone string) (cronparser.Schedule, *time.Location, error) {
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, loc, nil
}

// entry is one scheduled item tracked by the heap.
type entry struct {
	schedule *types.CronSchedule
	cron     cronparser.Schedule
	loc      *time.Location
	nextFire time.Time
	index    int
}

// scheduleHeap is a container/heap.Interface min-heap ordered by
// nextFire, matching spec.md §4.4's "min-heap keyed by nextFire".
type scheduleHeap []*entry

func (h scheduleHeap) Len() int            { return len(h) }
func (h scheduleHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h scheduleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *scheduleHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *scheduleHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Dispatcher receives a due Execution request for a fired schedule. The
// job engine (C9) implements this to enqueue onto its priority queue.
type Dispatcher interface {
	Dispatch(schedule *types.CronSchedule)
}

// Scheduler owns the min-heap of CronSchedules and a single timer that
// wakes at the earliest nextFire.
type Scheduler struct {
	mu      sync.Mutex
	h       scheduleHeap
	byID    map[string]*entry
	timer   *time.Timer
	wake    chan struct{}
	logger  zerolog.Logger
}

// New builds an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		byID:   make(map[string]*entry),
		wake:   make(chan struct{}, 1),
		logger: log.WithComponent("scheduler"),
	}
}

// Add inserts or replaces a schedule, computing its first nextFire from
// now. Add validates cron/timeZone itself through ParseExpression and
// returns its error, so a malformed schedule is rejected at write time.
func (s *Scheduler) Add(schedule *types.CronSchedule) error {
	cron, loc, err := ParseExpression(schedule.CronExpression, schedule.TimeZone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(loc)
	next := cron.Next(now).UTC()

	e := &entry{schedule: schedule, cron: cron, loc: loc, nextFire: next}
	if existing, ok := s.byID[schedule.ID]; ok {
		heap.Fix(&s.h, existing.index)
		heap.Remove(&s.h, existing.index)
	}
	heap.Push(&s.h, e)
	s.byID[schedule.ID] = e
	schedule.NextExecutionAt = next

	s.pokeLocked()
	return nil
}

// Remove drops a schedule by id.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return
	}
	heap.Remove(&s.h, e.index)
	delete(s.byID, id)
}

// pokeLocked signals Run's loop to recompute its wait duration; must be
// called with s.mu held.
func (s *Scheduler) pokeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run blocks, firing due schedules onto dispatcher until ctx is
// cancelled. It is meant to run in its own goroutine.
func (s *Scheduler) Run(ctx context.Context, dispatcher Dispatcher) {
	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
			s.fireDue(dispatcher)
		}
	}
}

// nextWait returns how long to sleep until the earliest nextFire, or a
// day if the heap is empty (re-checked whenever Add pokes the loop).
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return 24 * time.Hour
	}
	wait := time.Until(s.h[0].nextFire)
	if wait < 0 {
		return 0
	}
	return wait
}

// fireDue pops every schedule whose nextFire has arrived, dispatches an
// Execution for each, and re-inserts it with a freshly computed
// nextFire in its own time zone.
func (s *Scheduler) fireDue(dispatcher Dispatcher) {
	now := time.Now()

	s.mu.Lock()
	var due []*entry
	for s.h.Len() > 0 && !s.h[0].nextFire.After(now) {
		e := heap.Pop(&s.h).(*entry)
		due = append(due, e)
	}
	for _, e := range due {
		next := e.cron.Next(now.In(e.loc)).UTC()
		e.nextFire = next
		e.schedule.NextExecutionAt = next
		e.schedule.LastExecutedAt = now
		e.schedule.ExecutionCount++
		heap.Push(&s.h, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		if !e.schedule.Enabled {
			continue
		}
		dispatcher.Dispatch(e.schedule)
	}
}

// Peek returns the next schedule to fire and its nextFire time, for
// status reporting.
func (s *Scheduler) Peek() (*types.CronSchedule, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h.Len() == 0 {
		return nil, time.Time{}, false
	}
	return s.h[0].schedule, s.h[0].nextFire, true
}

// Len returns the number of schedules currently tracked.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Len()
}
