// Package jobs implements the job execution engine (C9): a priority
// worker pool that drains Executions dispatched by the cron scheduler,
// applies a per-task precondition gate, bounds each attempt by
// MaxDuration, and retries transient failures with randomized exponential
// backoff (multiplicative jitter, see newBackOff) up to MaxRetries before
// terminating the Execution.
package jobs

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// backoffBase and backoffCap are vars rather than consts so tests can
// shrink the retry schedule instead of waiting out real minutes.
var (
	backoffBase = 30 * time.Second
	backoffCap  = 10 * time.Minute
)

// Task performs one attempt of the work named by an Execution's
// TaskType. The engine dispatches task types but does not implement
// them; callers register one Task per types.TaskType the deployment
// actually uses.
type Task func(ctx context.Context, exec *types.Execution) error

// Gate is a per-task-type precondition checked before each attempt
// (e.g. tier-migration requiring the market to be closed). A failing
// gate completes the Execution as completedWithWarnings rather than
// attempting the task.
type Gate func(exec *types.Execution) (ok bool, reason string)

// TransientError marks a Task failure as retryable. Any other error
// returned from a Task is treated as terminal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the engine retries it (subject to MaxRetries).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or a wrapped cause) was marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// newBackOff builds the retry schedule: base 30s, doubling, with the
// computed interval capped at 10min. ExponentialBackOff's randomization
// factor is a multiplicative jitter around the computed interval rather
// than a textbook uniform-from-zero jitter; at 1.0 each delay falls
// anywhere between zero and twice the interval, so once the interval
// reaches the cap a delay can be up to 20min.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.MaxInterval = backoffCap
	b.Multiplier = 2
	b.RandomizationFactor = 1.0
	b.Reset()
	return b
}

type jobEntry struct {
	exec        *types.Execution
	maxDuration time.Duration
	maxRetries  int
	backoff     *backoff.ExponentialBackOff
	seq         int64
	index       int
}

// jobHeap is a container/heap.Interface min-heap ordered by priority
// (critical first) and, within a priority, by submission order.
type jobHeap []*jobEntry

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].exec.Priority != h[j].exec.Priority {
		return h[i].exec.Priority < h[j].exec.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *jobHeap) Push(x interface{}) {
	e := x.(*jobEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Store persists Executions. A real deployment backs this with the
// archive's boltdb store; tests can use an in-memory stub.
type Store interface {
	SaveExecution(*types.Execution) error
}

// Engine is the worker pool described in spec.md §4.4.
type Engine struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     jobHeap
	inflight map[string]struct{}
	closed   bool
	seq      int64

	runningMu sync.Mutex
	running   map[string]context.CancelFunc

	retryMu     sync.Mutex
	retryTimers map[string]*time.Timer

	workers  int
	registry map[types.TaskType]Task
	gates    map[types.TaskType]Gate
	store    Store

	// onTerminal is invoked after an Execution reaches a terminal
	// status, letting the caller roll the result into the parent
	// schedule's aggregate counters (spec.md §4.4 step 5).
	onTerminal func(*types.Execution)

	logger zerolog.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithOnTerminal registers a callback invoked once per Execution that
// reaches a terminal status.
func WithOnTerminal(fn func(*types.Execution)) Option {
	return func(e *Engine) { e.onTerminal = fn }
}

// New builds an Engine with the given worker count, task registry, and
// store. Gates default to none (every task type runs unconditionally).
func New(workers int, registry map[types.TaskType]Task, store Store, opts ...Option) *Engine {
	if workers < 1 {
		workers = 1
	}
	e := &Engine{
		inflight:    make(map[string]struct{}),
		running:     make(map[string]context.CancelFunc),
		retryTimers: make(map[string]*time.Timer),
		workers:     workers,
		registry:    registry,
		gates:       make(map[types.TaskType]Gate),
		store:       store,
		logger:      log.WithComponent("jobs"),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterGate attaches a precondition gate to a task type.
func (e *Engine) RegisterGate(taskType types.TaskType, gate Gate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gates[taskType] = gate
}

// Dispatch implements scheduler.Dispatcher: it builds a fresh Execution
// for a fired CronSchedule and submits it to the priority queue, using
// the schedule id plus its just-computed NextExecutionAt as a dedup key
// so a schedule firing cannot enqueue the same execution twice.
func (e *Engine) Dispatch(schedule *types.CronSchedule) {
	id := fmt.Sprintf("%s-%d", schedule.ID, schedule.NextExecutionAt.UnixNano())
	exec := &types.Execution{
		ID:         id,
		ScheduleID: schedule.ID,
		TaskType:   schedule.TaskType,
		Priority:   schedule.Priority,
	}
	e.Submit(exec, schedule.MaxDuration, schedule.MaxRetries)
}

// Submit enqueues an ad-hoc or schedule-derived Execution. Duplicate
// submissions of an Execution ID already in flight are ignored, which
// is what makes Resume safe to call with overlapping data.
func (e *Engine) Submit(exec *types.Execution, maxDuration time.Duration, maxRetries int) {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	e.mu.Lock()
	if _, exists := e.inflight[exec.ID]; exists {
		e.mu.Unlock()
		return
	}
	e.inflight[exec.ID] = struct{}{}
	e.seq++
	exec.Status = types.ExecPending
	j := &jobEntry{
		exec:        exec,
		maxDuration: maxDuration,
		maxRetries:  maxRetries,
		backoff:     newBackOff(),
		seq:         e.seq,
	}
	e.persistLocked(exec)
	heap.Push(&e.heap, j)
	e.mu.Unlock()
	e.cond.Signal()
}

// Resume re-submits Executions left pending or running by a prior
// process instance, satisfying spec.md §4.4's idempotency requirement:
// "if the engine restarts with a pending execution, it resumes at step
// 1." lookup supplies the MaxDuration/MaxRetries the original schedule
// specified, since Execution itself doesn't carry them.
func (e *Engine) Resume(execs []*types.Execution, lookup func(scheduleID string) (time.Duration, int)) {
	for _, exec := range execs {
		maxDuration, maxRetries := lookup(exec.ScheduleID)
		exec.Attempt = 0
		e.Submit(exec, maxDuration, maxRetries)
	}
}

func (e *Engine) persistLocked(exec *types.Execution) {
	if e.store == nil {
		return
	}
	_ = e.store.SaveExecution(exec)
}

// Cancel transitions a queued execution directly to cancelled, or
// signals a running execution's context if it supports cooperative
// cancellation, per spec.md §4.4.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	for i, j := range e.heap {
		if j.exec.ID == executionID {
			heap.Remove(&e.heap, i)
			j.exec.Status = types.ExecCancelled
			j.exec.CompletedAt = time.Now()
			delete(e.inflight, executionID)
			e.persistLocked(j.exec)
			e.mu.Unlock()
			return true
		}
	}
	e.mu.Unlock()

	e.retryMu.Lock()
	if timer, ok := e.retryTimers[executionID]; ok {
		timer.Stop()
		delete(e.retryTimers, executionID)
	}
	e.retryMu.Unlock()

	e.runningMu.Lock()
	cancel, ok := e.running[executionID]
	e.runningMu.Unlock()
	if ok {
		cancel()
		return true
	}
	return false
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cond.Broadcast()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			e.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) workerLoop(ctx context.Context) {
	for {
		j, ok := e.popNext()
		if !ok {
			return
		}
		e.runJob(ctx, j)
	}
}

func (e *Engine) popNext() (*jobEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.heap.Len() == 0 {
		if e.closed {
			return nil, false
		}
		e.cond.Wait()
	}
	j := heap.Pop(&e.heap).(*jobEntry)
	return j, true
}

func (e *Engine) runJob(parentCtx context.Context, j *jobEntry) {
	exec := j.exec
	exec.Attempt++
	exec.Status = types.ExecRunning
	exec.StartedAt = time.Now()
	e.mu.Lock()
	e.persistLocked(exec)
	e.mu.Unlock()

	e.mu.Lock()
	gate := e.gates[exec.TaskType]
	e.mu.Unlock()
	if gate != nil {
		if ok, reason := gate(exec); !ok {
			exec.Status = types.ExecCompletedWithWarnings
			exec.CompletedAt = time.Now()
			if exec.Result == nil {
				exec.Result = map[string]string{}
			}
			exec.Result["gateReason"] = reason
			e.terminal(exec)
			return
		}
	}

	task, ok := e.registry[exec.TaskType]
	if !ok {
		exec.Status = types.ExecFailed
		exec.Error = fmt.Sprintf("no task registered for task type %q", exec.TaskType)
		exec.CompletedAt = time.Now()
		e.terminal(exec)
		return
	}

	maxDuration := j.maxDuration
	if maxDuration <= 0 {
		maxDuration = 2 * time.Hour
	}
	runCtx, cancel := context.WithTimeout(parentCtx, maxDuration)
	e.trackRunning(exec.ID, cancel)
	err := task(runCtx, exec)
	e.untrackRunning(exec.ID)

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		cancel()
		exec.Status = types.ExecTimedOut
		exec.Error = "execution exceeded MaxDuration"
		exec.CompletedAt = time.Now()
		e.terminal(exec)

	case err == nil:
		cancel()
		exec.Status = types.ExecCompleted
		exec.CompletedAt = time.Now()
		e.terminal(exec)

	case errors.Is(err, context.Canceled) || runCtx.Err() == context.Canceled:
		cancel()
		exec.Status = types.ExecCancelled
		exec.CompletedAt = time.Now()
		e.terminal(exec)

	case IsTransient(err) && exec.Attempt <= j.maxRetries:
		cancel()
		exec.Error = err.Error()
		exec.Status = types.ExecPending
		delay := j.backoff.NextBackOff()
		e.mu.Lock()
		e.persistLocked(exec)
		e.mu.Unlock()
		e.logger.Warn().
			Str("executionId", exec.ID).
			Int("attempt", exec.Attempt).
			Dur("retryIn", delay).
			Msg("transient failure, retrying with backoff")
		e.scheduleRetry(j, delay)

	default:
		cancel()
		exec.Status = types.ExecFailed
		exec.Error = err.Error()
		exec.CompletedAt = time.Now()
		e.terminal(exec)
	}
}

func (e *Engine) scheduleRetry(j *jobEntry, delay time.Duration) {
	timer := time.AfterFunc(delay, func() {
		e.retryMu.Lock()
		delete(e.retryTimers, j.exec.ID)
		e.retryMu.Unlock()

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		heap.Push(&e.heap, j)
		e.mu.Unlock()
		e.cond.Signal()
	})
	e.retryMu.Lock()
	e.retryTimers[j.exec.ID] = timer
	e.retryMu.Unlock()
}

func (e *Engine) terminal(exec *types.Execution) {
	e.mu.Lock()
	delete(e.inflight, exec.ID)
	e.persistLocked(exec)
	e.mu.Unlock()

	if exec.Status == types.ExecFailed || exec.Status == types.ExecTimedOut {
		e.logger.Warn().
			Str("executionId", exec.ID).
			Str("taskType", string(exec.TaskType)).
			Str("status", string(exec.Status)).
			Int("attempt", exec.Attempt).
			Msg("execution terminated")
	}

	if e.onTerminal != nil {
		e.onTerminal(exec)
	}
}

func (e *Engine) trackRunning(id string, cancel context.CancelFunc) {
	e.runningMu.Lock()
	e.running[id] = cancel
	e.runningMu.Unlock()
}

func (e *Engine) untrackRunning(id string) {
	e.runningMu.Lock()
	delete(e.running, id)
	e.runningMu.Unlock()
}

// Len reports how many executions are currently queued (not counting
// running or retry-pending executions).
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heap.Len()
}
