package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/phrazzld/cadenza/internal/state"
)

// WorkerStatus is a worker's coarse health for dispatch decisions.
type WorkerStatus string

const (
	WorkerIdle  WorkerStatus = "idle"
	WorkerBusy  WorkerStatus = "busy"
	WorkerError WorkerStatus = "error"
)

// WorkerInfo is a point-in-time snapshot of one worker for introspection.
type WorkerInfo struct {
	ID          string                 `json:"id"`
	Status      WorkerStatus           `json:"status"`
	ActiveTasks []string               `json:"active_tasks"`
	Phases      map[string]state.Stage `json:"phases,omitempty"`
	Limit       int64                  `json:"concurrency_limit"`
	AddedAt     time.Time              `json:"added_at"`
}

// runningTask is the worker's bookkeeping for one in-flight task.
type runningTask struct {
	task      *Task
	startedAt time.Time
	cancel    context.CancelFunc
	timedOut  atomic.Bool
	phase     state.Stage
}

// Worker hosts up to limit concurrent tasks from its own bounded sub-queue.
// Tasks enter the sub-queue in dispatch order (FIFO) but run as independent
// concurrent units, so one slow task does not serialize the rest.
type Worker struct {
	id       string
	domain   string
	limit    int64
	sem      *semaphore.Weighted
	sub      chan *Task
	addedAt  time.Time
	reporter Reporter
	logger   *slog.Logger

	cancel context.CancelFunc
	onExit func()

	mu       sync.Mutex
	running  map[string]*runningTask
	pending  int // assigned but not yet started
	stopping bool
	failed   bool
}

func newWorker(id, domain string, limit int64, reporter Reporter, logger *slog.Logger) *Worker {
	return &Worker{
		id:       id,
		domain:   domain,
		limit:    limit,
		sem:      semaphore.NewWeighted(limit),
		sub:      make(chan *Task, 2*limit),
		addedAt:  time.Now(),
		reporter: reporter,
		logger:   logger.With("worker_id", id, "domain", domain),
		running:  make(map[string]*runningTask),
	}
}

// start launches the worker loop. onExit runs exactly once when the loop
// ends; the pool uses it to return the worker's global-ceiling slot.
func (w *Worker) start(ctx context.Context, wg *sync.WaitGroup, onExit func()) {
	wctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.onExit = onExit
	wg.Add(1)
	go w.loop(wctx, wg)
}

func (w *Worker) loop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if w.onExit != nil {
			w.onExit()
		}
	}()

	w.logger.Debug("worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("worker stopping")
			return
		case t := <-w.sub:
			wg.Add(1)
			go w.run(ctx, t, wg)
		}
	}
}

// tryAssign claims one concurrency slot and hands the task to the worker's
// sub-queue. Returns false when the worker has no free slot or is stopping.
// Because every sub-queue entry holds a slot, the buffered send below cannot
// block.
func (w *Worker) tryAssign(t *Task) bool {
	w.mu.Lock()
	if w.stopping || w.failed {
		w.mu.Unlock()
		return false
	}
	if !w.sem.TryAcquire(1) {
		w.mu.Unlock()
		return false
	}
	w.pending++
	w.mu.Unlock()

	w.sub <- t
	return true
}

func (w *Worker) run(ctx context.Context, t *Task, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	rt := &runningTask{
		task:      t,
		startedAt: time.Now(),
		cancel:    cancel,
		phase:     state.StageInitializing,
	}
	w.mu.Lock()
	w.pending--
	w.running[t.ID] = rt
	w.mu.Unlock()

	// Reporting must survive worker-context cancellation so the terminal
	// status of a task canceled mid-flight still lands in the store.
	repCtx := context.WithoutCancel(ctx)

	logger := w.logger.With("task_id", t.ID)
	logger.Info("processing task", "queued_for", time.Since(t.EnqueuedAt).String())
	if err := w.reporter.Report(repCtx, t.ID, state.StageInitializing, nil); err != nil {
		logger.Error("failed to report task start", "error", err)
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
				w.setFailed()
			}
		}()
		err = t.Run(runCtx, t.Payload)
	}()

	w.finish(repCtx, rt, err, logger)
}

// finish is the single exit path for completion, failure, timeout and
// cancellation.
func (w *Worker) finish(ctx context.Context, rt *runningTask, err error, logger *slog.Logger) {
	t := rt.task
	duration := time.Since(rt.startedAt)

	w.mu.Lock()
	delete(w.running, t.ID)
	w.mu.Unlock()

	if err == nil {
		logger.Info("task completed", "duration", duration.String())
		if repErr := w.reporter.Report(ctx, t.ID, state.StageCompleted,
			map[string]any{"duration_ms": duration.Milliseconds()}); repErr != nil {
			logger.Error("failed to report task completion", "error", repErr)
		}
		return
	}

	timedOut := rt.timedOut.Load() || errors.Is(err, context.DeadlineExceeded)
	logger.Error("task failed",
		"error", err,
		"duration", duration.String(),
		"timed_out", timedOut)

	meta := map[string]any{
		"error":       err.Error(),
		"duration_ms": duration.Milliseconds(),
	}
	if timedOut {
		meta["timed_out"] = true
	}
	if repErr := w.reporter.Report(ctx, t.ID, state.StageFailed, meta); repErr != nil {
		logger.Error("failed to report task failure", "error", repErr)
	}

	if t.Compensate != nil {
		t.Compensate(ctx, err)
	}
}

// failStuck cancels every in-flight task past its hard timeout, marking it
// timed-out first so the failure path classifies it correctly. Returns how
// many tasks it killed. This is defense in depth: the per-task deadline
// should fire first, but a run function blocked in non-context-aware code
// can outlive it.
func (w *Worker) failStuck(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	killed := 0
	for id, rt := range w.running {
		if rt.task.Timeout > 0 && now.Sub(rt.startedAt) > rt.task.Timeout {
			w.logger.Warn("forcing timeout of stuck task",
				"task_id", id,
				"running_for", now.Sub(rt.startedAt).String())
			rt.timedOut.Store(true)
			rt.cancel()
			killed++
		}
	}
	return killed
}

// tryStop marks the worker stopping and cancels its loop, but only when it
// has zero active tasks. Used by scale-down.
func (w *Worker) tryStop() bool {
	w.mu.Lock()
	if w.stopping || w.pending > 0 || len(w.running) > 0 {
		w.mu.Unlock()
		return false
	}
	w.stopping = true
	w.mu.Unlock()

	w.cancel()
	return true
}

func (w *Worker) setFailed() {
	w.mu.Lock()
	w.failed = true
	w.mu.Unlock()
}

// notePhase records a task's current phase if this worker is running it.
func (w *Worker) notePhase(taskID string, stage state.Stage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rt, ok := w.running[taskID]; ok {
		rt.phase = stage
	}
}

// ActiveCount returns in-flight plus assigned-but-unstarted tasks.
func (w *Worker) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running) + w.pending
}

// Status derives the worker's coarse status.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.failed:
		return WorkerError
	case len(w.running)+w.pending > 0:
		return WorkerBusy
	default:
		return WorkerIdle
	}
}

// Info snapshots the worker for the status API.
func (w *Worker) Info() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	info := WorkerInfo{
		ID:      w.id,
		Limit:   w.limit,
		AddedAt: w.addedAt,
		Phases:  make(map[string]state.Stage, len(w.running)),
	}
	for id, rt := range w.running {
		info.ActiveTasks = append(info.ActiveTasks, id)
		info.Phases[id] = rt.phase
	}
	switch {
	case w.failed:
		info.Status = WorkerError
	case len(w.running)+w.pending > 0:
		info.Status = WorkerBusy
	default:
		info.Status = WorkerIdle
	}
	return info
}
