package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common dispatcher errors
var (
	// ErrDispatcherStopped is returned by Submit after Stop, and carried by
	// the Result of tasks abandoned when Stop gave up waiting.
	ErrDispatcherStopped = errors.New("task dispatcher stopped")
)

// Progress reports completion in percent. Values are clamped to [0, 100].
type Progress func(percent int)

// Work is the body of a task. progress is never nil; it is a no-op unless
// the task was submitted WithProgress.
type Work func(ctx context.Context, progress Progress) (any, error)

// Result is the tagged outcome delivered to finished observers.
type Result struct {
	TaskID   uuid.UUID
	Name     string
	Status   TaskStatus
	Value    any
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the task completed without error.
func (r Result) Succeeded() bool {
	return r.Status == TaskStatusCompleted
}

// Value extracts a typed value from a successful Result.
func Value[R any](r Result) (R, bool) {
	v, ok := r.Value.(R)
	return v, ok && r.Err == nil
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	withProgress bool
	onProgress   []func(int)
}

// WithProgress asks for a live progress reporter. Without it the reporter
// passed to the work is a no-op and no progress observers fire.
func WithProgress() SubmitOption {
	return func(o *submitOptions) {
		o.withProgress = true
	}
}

// WithProgressObserver implies WithProgress and registers fn before the task
// is queued, so no report can be missed.
func WithProgressObserver(fn func(percent int)) SubmitOption {
	return func(o *submitOptions) {
		o.withProgress = true
		if fn != nil {
			o.onProgress = append(o.onProgress, fn)
		}
	}
}

type progressKey struct{}

func contextWithProgress(ctx context.Context, p Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// ReportProgress reports progress through the reporter of the task running
// with ctx. It is how units of work, which have no progress parameter,
// report progress. Outside a task it does nothing.
func ReportProgress(ctx context.Context, percent int) {
	if p, ok := ctx.Value(progressKey{}).(Progress); ok && p != nil {
		p(percent)
	}
}

func noProgress(int) {}

func clampPercent(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}
