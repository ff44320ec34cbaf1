package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/cadenza/internal/state"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingReporter captures stage transitions for assertions.
type recordingReporter struct {
	mu    sync.Mutex
	calls map[string][]state.Stage
	meta  map[string]map[string]any
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{
		calls: make(map[string][]state.Stage),
		meta:  make(map[string]map[string]any),
	}
}

func (r *recordingReporter) Report(_ context.Context, taskID string, stage state.Stage, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[taskID] = append(r.calls[taskID], stage)
	if metadata != nil {
		r.meta[taskID] = metadata
	}
	return nil
}

func (r *recordingReporter) stages(taskID string) []state.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]state.Stage, len(r.calls[taskID]))
	copy(out, r.calls[taskID])
	return out
}

func (r *recordingReporter) lastStage(taskID string) (state.Stage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stages := r.calls[taskID]
	if len(stages) == 0 {
		return "", false
	}
	return stages[len(stages)-1], true
}

func (r *recordingReporter) metadata(taskID string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta[taskID]
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(&Task{ID: fmt.Sprintf("t-%d", i)}))
	}
	assert.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("t-%d", i), got.ID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()

	got := make(chan *Task, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		got <- task
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(&Task{ID: "late"}))

	select {
	case task := <-got:
		assert.Equal(t, "late", task.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_CloseRejectsEnqueueButDrains(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(&Task{ID: "queued-before-close"}))
	q.Close()

	assert.ErrorIs(t, q.Enqueue(&Task{ID: "too-late"}), ErrQueueClosed)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err, "tasks enqueued before close are still served")
	assert.Equal(t, "queued-before-close", got.ID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CloseWakesBlockedDequeue(t *testing.T) {
	q := NewQueue()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not observe close")
	}
}
