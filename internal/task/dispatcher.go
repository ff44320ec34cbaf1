package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// defaultAssignRetryInterval is how long the dispatcher sleeps when no
	// eligible worker has a free slot before retrying the same task.
	defaultAssignRetryInterval = 25 * time.Millisecond

	// defaultFailurePause is the backoff after a failed dispatch iteration.
	defaultFailurePause = 250 * time.Millisecond
)

// Dispatcher pulls tasks from the domain queue and assigns each to the
// least-loaded eligible worker. The loop never terminates except on explicit
// shutdown: any failure inside one iteration is logged and followed by a
// brief pause.
type Dispatcher struct {
	domain        string
	queue         *Queue
	pool          *Pool
	logger        *slog.Logger
	retryInterval time.Duration
	failurePause  time.Duration
}

func newDispatcher(domain string, queue *Queue, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		domain:        domain,
		queue:         queue,
		pool:          pool,
		logger:        logger.With("component", "dispatcher", "domain", domain),
		retryInterval: defaultAssignRetryInterval,
		failurePause:  defaultFailurePause,
	}
}

// Run processes the queue until ctx is canceled or the queue is closed and
// drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Debug("dispatcher started")
	for {
		err := d.iterate(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, ErrQueueClosed):
			d.logger.Debug("dispatcher stopping")
			return
		default:
			d.logger.Error("dispatch iteration failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.failurePause):
			}
		}
	}
}

// iterate dequeues one task and places it on a worker, converting panics
// into errors so a bad iteration cannot kill the loop.
func (d *Dispatcher) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()

	t, err := d.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	return d.assign(ctx, t)
}

// assign retries the same task until some eligible worker takes it. Workers
// in error status are skipped; ties on load go to the earliest-added worker.
func (d *Dispatcher) assign(ctx context.Context, t *Task) error {
	for {
		if w := d.pool.leastLoaded(); w != nil && w.tryAssign(t) {
			d.logger.Debug("task assigned",
				"task_id", t.ID,
				"worker_id", w.id,
				"worker_load", w.ActiveCount())
			return nil
		}
		select {
		case <-ctx.Done():
			// Shutdown with the task unplaced: queued work is not
			// durable, so it is dropped with a trace.
			d.logger.Warn("dropping unassigned task on shutdown", "task_id", t.ID)
			return ctx.Err()
		case <-time.After(d.retryInterval):
		}
	}
}
