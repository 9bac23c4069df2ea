package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/phrazzld/clinicdesk/internal/consumer"
	"github.com/phrazzld/clinicdesk/internal/domain"
	"github.com/phrazzld/clinicdesk/internal/events"
	"github.com/phrazzld/clinicdesk/internal/platform/logger"
	"github.com/phrazzld/clinicdesk/internal/redact"
	"github.com/phrazzld/clinicdesk/internal/store"
)

// Config holds configuration for the dispatcher
type Config struct {
	// WorkerCount determines how many concurrent workers run task bodies
	WorkerCount int

	// QueueSize bounds the number of queued tasks. Zero means unbounded.
	QueueSize int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		WorkerCount: DefaultWorkerPoolConfig().WorkerCount,
		QueueSize:   0,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMeterProvider records dispatcher metrics on provider instead of the
// global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(d *Dispatcher) {
		d.meterProvider = provider
	}
}

// WithFailureBus publishes a domain.TaskFailure on events.TaskFailures for
// every failed task.
func WithFailureBus(bus *events.Bus) Option {
	return func(d *Dispatcher) {
		d.bus = bus
	}
}

type job struct {
	handle       *Handle
	work         Work
	withProgress bool
	queuedAt     time.Time
}

// Dispatcher runs submitted work on a fixed pool of workers and reports each
// outcome back on the consumer loop through the task's Handle.
type Dispatcher struct {
	poster  consumer.Poster
	logger  *slog.Logger
	queue   *TaskQueue[*job]
	pool    *WorkerPool[*job]
	bus     *events.Bus
	metrics dispatcherMetrics

	meterProvider metric.MeterProvider

	mu      sync.RWMutex
	stopped bool
	running atomic.Int64
}

// NewDispatcher creates a dispatcher. Workers do not run until Start.
func NewDispatcher(cfg Config, poster consumer.Poster, log *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if poster == nil {
		return nil, errors.New("task dispatcher requires a consumer poster")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "task_dispatcher")

	d := &Dispatcher{
		poster: poster,
		logger: log,
		queue:  NewTaskQueue[*job](cfg.QueueSize, log),
	}
	for _, opt := range opts {
		opt(d)
	}

	metrics, err := newDispatcherMetrics(d.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher metrics: %w", err)
	}
	d.metrics = metrics

	d.pool = NewWorkerPool(d.queue, WorkerPoolConfig{WorkerCount: cfg.WorkerCount}, d.process, log)
	d.pool.SetPanicHandler(func(j *job, recovered any) {
		d.complete(j, nil, &store.PanicError{Value: recovered, Stack: debug.Stack()}, 0)
	})

	return d, nil
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.pool.Start()
}

// Submit queues work and returns its Handle without blocking. Observers
// registered on the Handle right after Submit are guaranteed to fire, since
// notifications are delivered on the consumer loop.
func (d *Dispatcher) Submit(name string, work Work, opts ...SubmitOption) (*Handle, error) {
	if work == nil {
		return nil, errors.New("task work must not be nil")
	}

	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return nil, ErrDispatcherStopped
	}

	j := &job{
		handle:       newHandle(name, d.poster, d.logger),
		work:         work,
		withProgress: o.withProgress,
		queuedAt:     time.Now(),
	}
	for _, fn := range o.onProgress {
		j.handle.OnProgress(fn)
	}
	if err := d.queue.Enqueue(j); err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return nil, ErrDispatcherStopped
		}
		return nil, err
	}

	ctx := context.Background()
	d.metrics.tasksSubmitted.Add(ctx, 1)
	d.metrics.tasksQueued.Add(ctx, 1)

	return j.handle, nil
}

// Stop stops accepting tasks and waits for the workers to drain the queue.
// If ctx ends first, tasks still queued finish as failed with
// ErrDispatcherStopped and the context of running tasks is cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	err := d.pool.Stop(ctx)

	for _, j := range d.queue.Drain() {
		d.metrics.tasksQueued.Add(context.Background(), -1)
		d.finish(j, Result{
			TaskID: j.handle.ID(),
			Name:   j.handle.Name(),
			Status: TaskStatusFailed,
			Err:    ErrDispatcherStopped,
		})
	}

	if err != nil {
		return fmt.Errorf("failed to stop task dispatcher: %w", err)
	}
	return nil
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Running returns the number of task bodies currently executing.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

func (d *Dispatcher) process(ctx context.Context, workerID int, j *job) {
	d.metrics.tasksQueued.Add(ctx, -1)
	d.running.Add(1)
	defer d.running.Add(-1)

	h := j.handle
	h.setStatus(TaskStatusProcessing)

	log := d.logger.With(
		"task_id", h.ID().String(),
		"task_name", h.Name(),
		"worker_id", workerID,
	)
	log.Debug("processing task", "queued_for", time.Since(j.queuedAt))

	progress := Progress(noProgress)
	if j.withProgress {
		progress = h.reportProgress
	}

	ctx = logger.WithContext(ctx, log)
	ctx = contextWithProgress(ctx, progress)

	start := time.Now()
	value, err := run(ctx, j.work, progress)
	d.complete(j, value, err, time.Since(start))
}

// complete turns a task outcome into a Result and delivers it.
func (d *Dispatcher) complete(j *job, value any, err error, elapsed time.Duration) {
	r := Result{
		TaskID:   j.handle.ID(),
		Name:     j.handle.Name(),
		Status:   TaskStatusCompleted,
		Value:    value,
		Duration: elapsed,
	}
	if err != nil {
		r.Status = TaskStatusFailed
		r.Value = nil
		r.Err = err
	}

	ctx := context.Background()
	d.metrics.taskDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		d.logger.Error("task execution failed",
			"task_id", r.TaskID.String(),
			"task_name", r.Name,
			"error", redact.Error(err))
		d.publishFailure(ctx, r)
	}

	d.finish(j, r)
}

func (d *Dispatcher) finish(j *job, r Result) {
	d.metrics.tasksFinished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", string(r.Status))))
	j.handle.finish(r)
}

func (d *Dispatcher) publishFailure(ctx context.Context, r Result) {
	if d.bus == nil {
		return
	}
	failure := domain.TaskFailure{
		TaskID:   r.TaskID,
		TaskName: r.Name,
		Error:    redact.Error(r.Err),
		FailedAt: time.Now().UTC(),
	}
	if err := events.Publish(ctx, d.bus, events.TaskFailures, failure); err != nil {
		d.logger.Warn("failed to publish task failure",
			"task_id", r.TaskID.String(),
			"error", err)
	}
}

// run invokes work and converts a panic into a *store.PanicError.
func run(ctx context.Context, work Work, progress Progress) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &store.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return work(ctx, progress)
}

// SubmitUnit submits fn as a task that runs inside its own session: the
// session is acquired on the worker, committed on success, rolled back on
// failure, and always released.
func SubmitUnit[R any](
	d *Dispatcher,
	src store.SessionSource,
	name string,
	fn store.UnitOfWork[R],
	opts ...SubmitOption,
) (*Handle, error) {
	scoped := store.Scoped(src, fn)
	return d.Submit(name, func(ctx context.Context, _ Progress) (any, error) {
		value, err := scoped(ctx)
		if err != nil {
			return nil, err
		}
		return value, nil
	}, opts...)
}
