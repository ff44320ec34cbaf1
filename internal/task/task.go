package task

import (
	"context"
	"time"

	"github.com/phrazzld/cadenza/internal/state"
)

// RunFunc is the externally supplied unit of work a task carries. The
// runtime cancels ctx on shutdown and on the task's hard timeout; the
// function is expected to release anything it holds on the way out.
type RunFunc func(ctx context.Context, payload []byte) error

// CompensateFunc runs after a task fails or times out, for compensating
// actions such as releasing a reserved credit. It receives the failure.
type CompensateFunc func(ctx context.Context, cause error)

// Task is one unit of background work. Immutable once enqueued; owned by the
// domain queue until a worker claims it.
type Task struct {
	ID         string
	Domain     string
	Payload    []byte
	Priority   int
	EnqueuedAt time.Time

	// Timeout is the hard wall-clock limit for Run.
	Timeout time.Duration

	Run        RunFunc
	Compensate CompensateFunc
}

// Reporter receives task stage transitions from workers and the runtime.
// The production implementation writes status records to the shared state
// store and feeds the progress broadcaster.
type Reporter interface {
	Report(ctx context.Context, taskID string, stage state.Stage, metadata map[string]any) error
}
