package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the TaskQueue
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)

// TaskQueue is a FIFO queue shared by the workers of a pool. With capacity
// zero it is unbounded and Enqueue never fails for lack of space.
type TaskQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	ready  chan struct{}
	closeC chan struct{}
	logger *slog.Logger
}

// NewTaskQueue creates a queue. A capacity of zero or less means unbounded.
func NewTaskQueue[T any](capacity int, logger *slog.Logger) *TaskQueue[T] {
	if capacity < 0 {
		capacity = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue[T]{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		closeC:   make(chan struct{}),
		logger:   logger,
	}
}

// Enqueue adds an item to the tail of the queue.
// Returns an error if the queue is full or closed
func (q *TaskQueue[T]) Enqueue(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.capacity)
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	q.signal()
	q.logger.Debug("task enqueued", "queue_len", depth, "queue_cap", q.capacity)
	return nil
}

// Dequeue blocks until an item is available, the queue is closed and empty,
// or ctx is done. ok is false in the latter two cases. Once ctx is done no
// further items are handed out, so they remain for Drain.
func (q *TaskQueue[T]) Dequeue(ctx context.Context) (item T, ok bool) {
	for {
		if ctx.Err() != nil {
			return item, false
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()

			// Pass the wakeup on so another idle worker sees the rest.
			if more {
				q.signal()
			}
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return item, false
		}

		select {
		case <-q.ready:
		case <-q.closeC:
		case <-ctx.Done():
			return item, false
		}
	}
}

// Close prevents further Enqueue calls. Items already queued can still be dequeued.
func (q *TaskQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.closeC)
		q.logger.Info("task queue closed", "remaining", len(q.items))
	}
}

// Drain removes and returns every queued item.
func (q *TaskQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued items.
func (q *TaskQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *TaskQueue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
