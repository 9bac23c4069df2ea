package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/clinicdesk/internal/platform/logger"
	"github.com/phrazzld/clinicdesk/internal/redact"
)

const tracerName = "github.com/phrazzld/clinicdesk/internal/store"

// UnitOfWork is a function that executes within one session.
// The session is committed if the function returns nil, or rolled back if it
// returns an error or panics.
type UnitOfWork[R any] func(ctx context.Context, s *Session) (R, error)

// Run borrows a session from src, invokes fn with it, and then commits on
// success or rolls back on error or panic. The session is released on every
// path.
//
// Failures inside fn never escape as panics. They are logged with secrets
// redacted and returned wrapped in ErrUnitOfWorkFailed together with the
// zero value of R. A failure to acquire a session (ErrNotConnected) is
// returned as is.
func Run[R any](ctx context.Context, src SessionSource, fn UnitOfWork[R]) (R, error) {
	var zero R
	log := logger.FromContext(ctx)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "store.unit_of_work",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		log = log.With(slog.String("otel_trace_id", sc.TraceID().String()))
	}

	s, err := src.NewSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire session")
		log.Error("failed to acquire session", slog.String("error", redact.Error(err)))
		return zero, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer src.Release(s)

	sessionID := s.ID().String()
	span.SetAttributes(attribute.String("session.id", sessionID))
	log = log.With(slog.String("session_id", sessionID))

	value, err := invoke(ctx, s, fn)
	if err != nil {
		if rbErr := s.Rollback(); rbErr != nil {
			log.Error("failed to roll back session",
				slog.String("rollback_error", redact.Error(rbErr)),
				slog.String("original_error", redact.Error(err)))
		}
		logFailure(log, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unit of work failed")
		span.SetAttributes(attribute.String("outcome", "rolled_back"))
		return zero, fmt.Errorf("%w: %w", ErrUnitOfWorkFailed, err)
	}

	if err := s.Commit(); err != nil {
		log.Error("failed to commit session", slog.String("error", redact.Error(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		span.SetAttributes(attribute.String("outcome", "commit_failed"))
		return zero, fmt.Errorf("%w: commit: %w", ErrUnitOfWorkFailed, err)
	}

	span.SetAttributes(attribute.String("outcome", "committed"))
	log.Debug("session committed")
	return value, nil
}

// Scoped binds fn to src and returns it with the session parameter elided.
func Scoped[R any](src SessionSource, fn UnitOfWork[R]) func(ctx context.Context) (R, error) {
	return func(ctx context.Context) (R, error) {
		return Run(ctx, src, fn)
	}
}

func invoke[R any](ctx context.Context, s *Session, fn UnitOfWork[R]) (value R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, s)
}

func logFailure(log *slog.Logger, err error) {
	if pe, ok := err.(*PanicError); ok {
		log.Error("unit of work panicked, session rolled back",
			slog.String("panic", redact.String(fmt.Sprint(pe.Value))),
			slog.String("stack", string(pe.Stack)))
		return
	}
	log.Error("unit of work failed, session rolled back",
		slog.String("error", redact.Error(err)))
}
