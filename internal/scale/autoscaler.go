// Package scale implements the per-domain autoscaling control loop. On a
// fixed interval each domain's loop recomputes the desired worker count from
// queue pressure and host CPU, changing the pool by at most one worker per
// cooldown window, inside the domain's min/max bounds and the process-wide
// worker ceiling.
package scale

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/cadenza/internal/config"
)

// WorkerPool is the slice of a task pool the autoscaler drives.
type WorkerPool interface {
	Domain() string
	WorkerCount() int
	QueueLen() int
	AddWorker() error
	RemoveIdleWorker() bool
}

// Ceiling is the read side of the global worker ceiling; spawn registration
// happens inside AddWorker.
type Ceiling interface {
	Count() int
	Max() int
}

// CPUSampler provides host CPU utilization in [0,100].
type CPUSampler interface {
	CPUPercent(ctx context.Context) (float64, error)
}

// Autoscaler sizes one domain's worker pool.
type Autoscaler struct {
	pool    WorkerPool
	policy  config.DomainConfig
	global  config.ScalingConfig
	ceiling Ceiling
	sampler CPUSampler
	logger  *slog.Logger

	clock      func() time.Time
	lastChange time.Time
}

// New creates an autoscaler for one domain.
func New(pool WorkerPool, policy config.DomainConfig, global config.ScalingConfig, ceiling Ceiling, sampler CPUSampler, logger *slog.Logger) *Autoscaler {
	return &Autoscaler{
		pool:    pool,
		policy:  policy,
		global:  global,
		ceiling: ceiling,
		sampler: sampler,
		logger:  logger.With("component", "autoscaler", "domain", pool.Domain()),
		clock:   time.Now,
	}
}

// Run executes the control loop until ctx ends. Each tick is isolated: a
// failed or panicking tick is logged and the loop continues.
func (a *Autoscaler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.global.ScaleCheckInterval)
	defer ticker.Stop()

	a.logger.Debug("autoscaler started",
		"min_workers", a.policy.MinWorkers,
		"max_workers", a.policy.MaxWorkers)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				a.logger.Error("scale check failed", "error", err)
			}
		}
	}
}

// Tick runs one scaling decision. Exported so tests and operators can drive
// the loop directly.
func (a *Autoscaler) Tick(ctx context.Context) error {
	return a.tick(ctx)
}

func (a *Autoscaler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scale tick panicked: %v", r)
		}
	}()

	now := a.clock()
	current := a.pool.WorkerCount()

	// Bootstrap: an empty pool always comes up to its floor, cooldown or
	// not.
	if current == 0 {
		for i := 0; i < a.policy.MinWorkers; i++ {
			if addErr := a.pool.AddWorker(); addErr != nil {
				return fmt.Errorf("bootstrap of domain %s: %w", a.pool.Domain(), addErr)
			}
		}
		a.lastChange = now
		a.logger.Info("bootstrapped pool", "workers", a.policy.MinWorkers)
		return nil
	}

	if now.Sub(a.lastChange) < a.policy.CooldownPeriod {
		return nil
	}

	cpu, cpuErr := a.sampler.CPUPercent(ctx)
	if cpuErr != nil {
		// A failed sample skips the CPU check rather than the whole
		// tick; queue pressure is still actionable.
		a.logger.Warn("cpu sample failed", "error", cpuErr)
	} else if cpu > a.global.MaxCPUPercent {
		if current > a.policy.MinWorkers && a.pool.RemoveIdleWorker() {
			a.lastChange = now
			a.logger.Info("scaled down on cpu pressure",
				"cpu_percent", cpu,
				"workers", a.pool.WorkerCount())
		}
		return nil
	}

	queueLen := a.pool.QueueLen()
	pressure := float64(queueLen) / float64(max(current, 1))

	switch {
	case queueLen <= 1:
		// Idle pool shrinks toward its floor.
		if current > a.policy.MinWorkers && a.pool.RemoveIdleWorker() {
			a.lastChange = now
			a.logger.Info("scaled down idle pool", "workers", a.pool.WorkerCount())
		}

	case pressure > a.policy.TargetQueuePerWorker && current < a.policy.MaxWorkers:
		if a.ceiling.Count() >= a.ceiling.Max() {
			a.logger.Warn("scale up blocked by global ceiling",
				"queue_pressure", pressure,
				"global_workers", a.ceiling.Count())
			return nil
		}
		if addErr := a.pool.AddWorker(); addErr != nil {
			return fmt.Errorf("scale up of domain %s: %w", a.pool.Domain(), addErr)
		}
		a.lastChange = now
		a.logger.Info("scaled up",
			"queue_pressure", pressure,
			"workers", a.pool.WorkerCount())

	case pressure < a.policy.ScaleDownQueuePerWorker && current > a.policy.MinWorkers:
		if a.pool.RemoveIdleWorker() {
			a.lastChange = now
			a.logger.Info("scaled down",
				"queue_pressure", pressure,
				"workers", a.pool.WorkerCount())
		}
	}
	return nil
}
