package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/phrazzld/clinicdesk/internal/consumer"
)

// Handle is the caller's view of a submitted task. Observers registered on
// it run on the consumer loop, never on a worker.
type Handle struct {
	id     uuid.UUID
	name   string
	poster consumer.Poster
	logger *slog.Logger

	mu         sync.Mutex
	status     TaskStatus
	result     Result
	finished   bool
	onFinished []func(Result)
	onProgress []func(int)

	done chan struct{}
}

func newHandle(name string, poster consumer.Poster, logger *slog.Logger) *Handle {
	id := uuid.New()
	return &Handle{
		id:     id,
		name:   name,
		poster: poster,
		logger: logger.With("task_id", id.String(), "task_name", name),
		status: TaskStatusPending,
		done:   make(chan struct{}),
	}
}

// ID returns the task identifier.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Name returns the name given at submission.
func (h *Handle) Name() string {
	return h.name
}

// Status returns the current lifecycle status.
func (h *Handle) Status() TaskStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// OnFinished registers fn to receive the task's Result. If the task has
// already finished, fn is posted immediately. Each registered fn runs
// exactly once.
func (h *Handle) OnFinished(fn func(Result)) *Handle {
	if fn == nil {
		return h
	}

	h.mu.Lock()
	if !h.finished {
		h.onFinished = append(h.onFinished, fn)
		h.mu.Unlock()
		return h
	}
	r := h.result
	h.mu.Unlock()

	h.post(func(context.Context) { fn(r) })
	return h
}

// OnSuccess registers fn to receive the value of a successful task.
func (h *Handle) OnSuccess(fn func(any)) *Handle {
	if fn == nil {
		return h
	}
	return h.OnFinished(func(r Result) {
		if r.Succeeded() {
			fn(r.Value)
		}
	})
}

// OnError registers fn to receive the error of a failed task.
func (h *Handle) OnError(fn func(error)) *Handle {
	if fn == nil {
		return h
	}
	return h.OnFinished(func(r Result) {
		if !r.Succeeded() {
			fn(r.Err)
		}
	})
}

// OnProgress registers fn to receive progress reports. Reports made before
// registration are not replayed.
func (h *Handle) OnProgress(fn func(int)) *Handle {
	if fn == nil {
		return h
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onProgress = append(h.onProgress, fn)
	return h
}

// Done is closed once the task has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome and true once the task has finished.
func (h *Handle) Result() (Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.finished
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		r, _ := h.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) setStatus(status TaskStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.finished {
		h.status = status
	}
}

// finish records r and posts every registered observer. Only the first call
// has any effect.
func (h *Handle) finish(r Result) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.status = r.Status
	h.result = r
	observers := h.onFinished
	h.onFinished = nil
	h.onProgress = nil
	h.mu.Unlock()

	close(h.done)

	for _, fn := range observers {
		fn := fn
		h.post(func(context.Context) { fn(r) })
	}
}

func (h *Handle) reportProgress(percent int) {
	percent = clampPercent(percent)

	h.mu.Lock()
	if h.finished || len(h.onProgress) == 0 {
		h.mu.Unlock()
		return
	}
	observers := make([]func(int), len(h.onProgress))
	copy(observers, h.onProgress)
	h.mu.Unlock()

	// Each observer gets its own post, as in finish.
	for _, fn := range observers {
		h.post(func(context.Context) { fn(percent) })
	}
}

func (h *Handle) post(fn func(context.Context)) {
	if !h.poster.Post(fn) {
		h.logger.Warn("consumer loop rejected task notification")
	}
}
