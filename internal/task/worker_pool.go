package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// WorkerPool manages a pool of worker goroutines that process items
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool[T any] struct {
	// queue provides the items to be processed
	queue *TaskQueue[T]

	// process handles one item on the worker identified by workerID
	process func(ctx context.Context, workerID int, item T)

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is passed to every item and cancelled when Stop gives up waiting
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	logger    *slog.Logger

	// panicHandler is called when process panics. If nil, panics are only logged.
	panicHandler func(item T, recovered any)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 4,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool[T any](
	queue *TaskQueue[T],
	config WorkerPoolConfig,
	process func(ctx context.Context, workerID int, item T),
	logger *slog.Logger,
) *WorkerPool[T] {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool[T]{
		queue:       queue,
		process:     process,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetPanicHandler sets a handler for panics escaping process.
func (p *WorkerPool[T]) SetPanicHandler(handler func(item T, recovered any)) {
	p.panicHandler = handler
}

// Size returns the number of workers.
func (p *WorkerPool[T]) Size() int {
	return p.workerCount
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *WorkerPool[T]) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop closes the queue and waits for the workers to drain it. If ctx ends
// first, the workers' context is cancelled and Stop returns without waiting
// for in-flight items.
func (p *WorkerPool[T]) Stop(ctx context.Context) error {
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("worker pool stop timed out", "remaining", p.queue.Len())
		return fmt.Errorf("worker pool did not drain: %w", ctx.Err())
	}
}

func (p *WorkerPool[T]) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("starting worker", "worker_id", id)

	for {
		item, ok := p.queue.Dequeue(p.ctx)
		if !ok {
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		}
		p.safeProcess(id, item)
	}
}

func (p *WorkerPool[T]) safeProcess(workerID int, item T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered panic in worker",
				"worker_id", workerID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			if p.panicHandler != nil {
				p.panicHandler(item, r)
			}
		}
	}()
	p.process(p.ctx, workerID, item)
}
