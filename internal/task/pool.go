package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/cadenza/internal/config"
	"github.com/phrazzld/cadenza/internal/state"
)

// ErrCeilingReached is returned when spawning a worker would exceed the
// process-wide worker ceiling.
var ErrCeilingReached = errors.New("global worker ceiling reached")

// defaultStuckCheckInterval is how often the pool scans for tasks past their
// hard timeout.
const defaultStuckCheckInterval = time.Minute

// DomainSnapshot is the status-API view of one domain.
type DomainSnapshot struct {
	Domain     string       `json:"domain"`
	QueueDepth int          `json:"queue_depth"`
	Workers    []WorkerInfo `json:"workers"`
}

// Pool owns one domain's queue, dispatcher and workers. Worker membership is
// guarded by the pool's bookkeeping lock; the autoscaler is the only caller
// of AddWorker/RemoveIdleWorker after startup.
type Pool struct {
	domain   string
	cfg      config.DomainConfig
	queue    *Queue
	reporter Reporter
	ceiling  *Ceiling
	logger   *slog.Logger

	dispatcher    *Dispatcher
	stuckInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers []*Worker
	seq     int
}

// NewPool creates a stopped pool for one domain.
func NewPool(domain string, cfg config.DomainConfig, ceiling *Ceiling, reporter Reporter, logger *slog.Logger) *Pool {
	p := &Pool{
		domain:        domain,
		cfg:           cfg,
		queue:         NewQueue(),
		reporter:      reporter,
		ceiling:       ceiling,
		logger:        logger.With("domain", domain),
		stuckInterval: defaultStuckCheckInterval,
	}
	p.dispatcher = newDispatcher(domain, p.queue, p, logger)
	return p
}

// Queue returns the domain's submission queue.
func (p *Pool) Queue() *Queue {
	return p.queue
}

// Domain returns the pool's domain name.
func (p *Pool) Domain() string {
	return p.domain
}

// Start spawns the minimum worker count, the dispatcher and the stuck-task
// monitor.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.MinWorkers; i++ {
		if err := p.AddWorker(); err != nil {
			return fmt.Errorf("failed to start domain %s: %w", p.domain, err)
		}
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.dispatcher.Run(p.ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.stuckMonitor(p.ctx)
	}()

	p.logger.Info("worker pool started", "workers", p.cfg.MinWorkers)
	return nil
}

// Stop cancels the dispatcher, the monitor and every worker, then waits for
// in-flight tasks to run their cleanup paths.
func (p *Pool) Stop() {
	p.queue.Close()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// AddWorker spawns one worker, registering it against the global ceiling.
func (p *Pool) AddWorker() error {
	if !p.ceiling.TryAcquire() {
		return ErrCeilingReached
	}

	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("%s-%d", p.domain, p.seq)
	w := newWorker(id, p.domain, p.cfg.WorkerConcurrency, p.reporter, p.logger)
	p.workers = append(p.workers, w)
	p.mu.Unlock()

	w.start(p.ctx, &p.wg, p.ceiling.Release)
	p.logger.Info("worker added", "worker_id", id, "global_workers", p.ceiling.Count())
	return nil
}

// RemoveIdleWorker cancels one worker with zero active tasks, preferring the
// most recently added. Returns false when every worker is busy.
func (p *Pool) RemoveIdleWorker() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.workers) - 1; i >= 0; i-- {
		w := p.workers[i]
		if w.tryStop() {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			p.logger.Info("worker removed", "worker_id", w.id, "global_workers", p.ceiling.Count())
			return true
		}
	}
	return false
}

// WorkerCount returns the current pool size.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// QueueLen returns the domain queue depth.
func (p *Pool) QueueLen() int {
	return p.queue.Len()
}

// leastLoaded picks the eligible worker with the fewest active tasks. Ties
// go to the first worker found, i.e. the earliest added.
func (p *Pool) leastLoaded() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Worker
	bestLoad := 0
	for _, w := range p.workers {
		if w.Status() == WorkerError {
			continue
		}
		load := w.ActiveCount()
		if best == nil || load < bestLoad {
			best = w
			bestLoad = load
		}
	}
	return best
}

// notePhase forwards a phase change to whichever worker runs the task.
func (p *Pool) notePhase(taskID string, stage state.Stage) {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.notePhase(taskID, stage)
	}
}

// Snapshot captures queue depth and per-worker state for the status API.
func (p *Pool) Snapshot() DomainSnapshot {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	snap := DomainSnapshot{
		Domain:     p.domain,
		QueueDepth: p.queue.Len(),
		Workers:    make([]WorkerInfo, 0, len(workers)),
	}
	for _, w := range workers {
		snap.Workers = append(snap.Workers, w.Info())
	}
	return snap
}

// stuckMonitor periodically forces the timeout path on tasks that outlived
// their deadline without the per-task timer firing.
func (p *Pool) stuckMonitor(ctx context.Context) {
	ticker := time.NewTicker(p.stuckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			workers := make([]*Worker, len(p.workers))
			copy(workers, p.workers)
			p.mu.Unlock()

			killed := 0
			for _, w := range workers {
				killed += w.failStuck(time.Now())
			}
			if killed > 0 {
				p.logger.Warn("stuck task sweep forced timeouts", "count", killed)
			}
		}
	}
}
