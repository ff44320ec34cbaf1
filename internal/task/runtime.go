package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/cadenza/internal/config"
	"github.com/phrazzld/cadenza/internal/platform/retry"
	"github.com/phrazzld/cadenza/internal/progress"
	"github.com/phrazzld/cadenza/internal/state"
)

// Errors surfaced by Submit.
var (
	ErrUnknownDomain = errors.New("unknown worker domain")
	ErrNoHandler     = errors.New("no handler registered for domain")
)

// Handler is the externally supplied behavior for one domain's tasks.
type Handler struct {
	Run        RunFunc
	Compensate CompensateFunc
}

// SubmitRequest describes one task submission. An empty TaskID asks the
// runtime to generate one.
type SubmitRequest struct {
	TaskID   string
	Domain   string
	Payload  []byte
	Priority int
}

// Runtime ties the per-domain pools together behind an idempotent Submit and
// implements Reporter: every stage transition is written to the shared status
// store (with bounded retry on transient store errors) and fanned out to the
// progress broadcaster.
type Runtime struct {
	logger      *slog.Logger
	status      *state.StatusStore
	broadcaster *progress.Broadcaster
	ceiling     *Ceiling
	pools       map[string]*Pool
	domains     map[string]config.DomainConfig
	container   string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRuntime builds the pools for every configured domain. Nothing runs
// until Start.
func NewRuntime(
	domains map[string]config.DomainConfig,
	globalCeiling int,
	status *state.StatusStore,
	broadcaster *progress.Broadcaster,
	containerID string,
	logger *slog.Logger,
) *Runtime {
	r := &Runtime{
		logger:      logger.With("component", "runtime", "container", containerID),
		status:      status,
		broadcaster: broadcaster,
		ceiling:     NewCeiling(globalCeiling),
		pools:       make(map[string]*Pool, len(domains)),
		domains:     domains,
		container:   containerID,
		handlers:    make(map[string]Handler),
	}
	for name, cfg := range domains {
		r.pools[name] = NewPool(name, cfg, r.ceiling, r, logger)
	}
	return r
}

// RegisterHandler installs the prepare function for one domain. Must be
// called before tasks are submitted to that domain.
func (r *Runtime) RegisterHandler(domain string, h Handler) error {
	if _, ok := r.pools[domain]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	if h.Run == nil {
		return fmt.Errorf("handler for domain %s has no run function", domain)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[domain] = h
	return nil
}

// Start launches every domain pool.
func (r *Runtime) Start(ctx context.Context) error {
	for name, pool := range r.pools {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start pool %s: %w", name, err)
		}
	}
	return nil
}

// Stop shuts every pool down and waits for in-flight cleanup.
func (r *Runtime) Stop() {
	for _, pool := range r.pools {
		pool.Stop()
	}
}

// Submit enqueues a task and returns its initial status record. Submission
// is idempotent while the task is non-terminal: resubmitting returns the
// existing record unchanged. A terminal task id is resubmitted as a fresh
// task.
func (r *Runtime) Submit(ctx context.Context, req SubmitRequest) (*state.StatusRecord, error) {
	pool, ok := r.pools[req.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, req.Domain)
	}
	r.mu.RLock()
	handler, ok := r.handlers[req.Domain]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, req.Domain)
	}

	id := req.TaskID
	if id == "" {
		id = uuid.NewString()
	}

	existing, found, err := r.status.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if found {
		if !existing.Stage.Terminal() {
			r.logger.Debug("duplicate submission of live task", "task_id", id)
			return existing, nil
		}
		// Terminal record: clear it so the fresh run starts clean.
		if err := r.status.Delete(ctx, id); err != nil {
			return nil, err
		}
	}

	rec, err := r.setStatus(ctx, id, state.StageQueued, map[string]any{
		"domain":    req.Domain,
		"priority":  req.Priority,
		"container": r.container,
	})
	if err != nil {
		return nil, err
	}

	cfg := r.domains[req.Domain]
	t := &Task{
		ID:         id,
		Domain:     req.Domain,
		Payload:    req.Payload,
		Priority:   req.Priority,
		EnqueuedAt: time.Now(),
		Timeout:    cfg.TaskTimeout,
		Run:        handler.Run,
		Compensate: handler.Compensate,
	}
	if err := pool.Queue().Enqueue(t); err != nil {
		return nil, fmt.Errorf("failed to enqueue task %s: %w", id, err)
	}
	return rec, nil
}

// GetStatus returns the task's current status record.
func (r *Runtime) GetStatus(ctx context.Context, taskID string) (*state.StatusRecord, bool, error) {
	return r.status.Get(ctx, taskID)
}

// WorkerStatus snapshots one domain's queue depth and workers.
func (r *Runtime) WorkerStatus(domain string) (DomainSnapshot, error) {
	pool, ok := r.pools[domain]
	if !ok {
		return DomainSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	return pool.Snapshot(), nil
}

// Domains lists the configured domain names.
func (r *Runtime) Domains() []string {
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	return names
}

// Pool exposes one domain's pool for autoscaler wiring.
func (r *Runtime) Pool(domain string) (*Pool, bool) {
	pool, ok := r.pools[domain]
	return pool, ok
}

// Ceiling exposes the process-wide worker ceiling.
func (r *Runtime) Ceiling() *Ceiling {
	return r.ceiling
}

// Report implements Reporter for the workers.
func (r *Runtime) Report(ctx context.Context, taskID string, stage state.Stage, metadata map[string]any) error {
	_, err := r.setStatus(ctx, taskID, stage, metadata)
	return err
}

// setStatus persists a stage transition with bounded retry and mirrors it to
// worker phase maps and progress subscribers. Store failures after retries
// are returned to the caller; there is no local fallback.
func (r *Runtime) setStatus(ctx context.Context, taskID string, stage state.Stage, metadata map[string]any) (*state.StatusRecord, error) {
	var rec *state.StatusRecord
	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		var setErr error
		rec, setErr = r.status.Set(ctx, taskID, stage, metadata)
		return setErr
	})
	if err != nil {
		return nil, err
	}

	for _, pool := range r.pools {
		pool.notePhase(taskID, stage)
	}

	update := progress.Update{TaskID: taskID, Stage: rec.Stage}
	if rec.Stage == state.StageCompleted {
		update.Percent = 100
	}
	if rec.Stage == state.StageFailed {
		if msg, ok := rec.Metadata["error"].(string); ok {
			update.Error = msg
		} else {
			update.Error = "task failed"
		}
	}
	r.broadcaster.Publish(update)

	return rec, nil
}
