package task

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned once a queue has been closed for submission.
var ErrQueueClosed = errors.New("task queue is closed")

// Queue is the unbounded in-memory FIFO for one worker domain. Enqueue never
// blocks and never rejects for capacity; backpressure is applied downstream
// by the workers' concurrency limiters, and the autoscaler reads Len as
// queue pressure.
//
// Dequeue assumes a single consumer, the domain's dispatcher.
type Queue struct {
	mu     sync.Mutex
	items  []*Task
	closed bool

	// signal wakes the dispatcher after an enqueue; done wakes it on close.
	signal chan struct{}
	done   chan struct{}
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends the task and returns immediately.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a task is available, the queue is closed and drained,
// or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return t, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			// Re-check: the queue may have items enqueued just before
			// close.
		case <-q.signal:
		}
	}
}

// Len returns the number of queued, not-yet-dispatched tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further submission. Queued tasks can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}
