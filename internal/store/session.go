package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one transactional handle borrowed from a Manager. A session is
// used by exactly one unit of work and is never shared between goroutines
// that run concurrently.
type Session struct {
	id        uuid.UUID
	tx        *sql.Tx
	startedAt time.Time

	mu       sync.Mutex
	closed   bool
	released bool
}

func newSession(tx *sql.Tx) *Session {
	return &Session{
		id:        uuid.New(),
		tx:        tx,
		startedAt: time.Now(),
	}
}

// ID identifies the session in logs and traces.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// ExecContext executes a statement inside the session's transaction.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

// PrepareContext prepares a statement bound to the session's transaction.
func (s *Session) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.tx.PrepareContext(ctx, query)
}

// QueryContext runs a query inside the session's transaction.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the session's transaction.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}

// Commit makes the session's writes visible to later sessions.
// A session can be committed at most once.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	return s.tx.Commit()
}

// Rollback discards the session's writes. Rolling back a closed session is a no-op.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Closed reports whether the session was committed or rolled back.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markReleased returns false when the session was already released.
func (s *Session) markReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return false
	}
	s.released = true
	return true
}
