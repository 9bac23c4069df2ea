package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrAlreadyRunning is returned when Run is called on a loop that is already running.
var ErrAlreadyRunning = errors.New("consumer loop already running")

// ErrStopped is returned by Flush once the loop no longer accepts work.
var ErrStopped = errors.New("consumer loop stopped")

// Poster accepts functions for execution on the consumer goroutine.
// It reports false when the function was rejected because the loop stopped.
type Poster interface {
	Post(fn func(ctx context.Context)) bool
}

// Loop is an unbounded FIFO of functions drained by a single goroutine.
type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func(ctx context.Context)
	closed bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  atomic.Bool
}

var _ Poster = (*Loop)(nil)

// New creates a Loop. Nothing runs until Run is called.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger.With("component", "consumer_loop"),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Post appends fn to the queue. It never blocks and returns false after Stop.
func (l *Loop) Post(fn func(ctx context.Context)) bool {
	if fn == nil {
		return false
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes posted functions in order on the calling goroutine until Stop
// is called or ctx is cancelled. After Stop, functions already queued are
// executed before Run returns nil. Cancelling ctx abandons the queue and
// returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)

	l.logger.Debug("consumer loop started")
	for {
		if l.drain(ctx) {
			continue
		}

		select {
		case <-l.wake:
		case <-l.stop:
			for l.drain(ctx) {
			}
			l.logger.Debug("consumer loop stopped")
			return nil
		case <-ctx.Done():
			l.close()
			l.logger.Debug("consumer loop cancelled", slog.Int("abandoned", l.Len()))
			return ctx.Err()
		}
	}
}

// Stop rejects further posts and lets Run return once the queue is empty.
// It does not wait, so it is safe to call from a function running on the loop.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.close()
		close(l.stop)
	})
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Len returns the number of functions waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Flush blocks until every function posted before the call has run.
// It must not be called from the loop goroutine.
func (l *Loop) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !l.Post(func(context.Context) { close(barrier) }) {
		return ErrStopped
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// drain runs the current batch and reports whether it ran anything.
func (l *Loop) drain(ctx context.Context) bool {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range batch {
		l.execute(ctx, fn)
	}
	return len(batch) > 0
}

func (l *Loop) execute(ctx context.Context, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recovered panic in consumer loop",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn(ctx)
}
