package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver

	"github.com/phrazzld/clinicdesk/internal/redact"
)

// pingTimeout bounds the connectivity check made by Connect.
const pingTimeout = 5 * time.Second

// PoolConfig limits the connection pool for drivers that allow concurrent
// connections. SQLite always uses a single connection.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the limits used when none are supplied.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// SessionStats counts sessions handed out by a Manager.
type SessionStats struct {
	Acquired int64
	Released int64
	Active   int
}

// SessionSource hands out sessions and takes them back.
// *Manager is the production implementation.
type SessionSource interface {
	NewSession(ctx context.Context) (*Session, error)
	Release(s *Session)
}

// Manager owns the connection pool and issues one transactional Session per
// unit of work. Create it once with NewManager and share the pointer.
type Manager struct {
	logger *slog.Logger
	pool   PoolConfig

	mu     sync.RWMutex
	db     *sql.DB
	driver string

	sessionsMu sync.Mutex
	active     map[uuid.UUID]*Session
	acquired   int64
	released   int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPoolConfig overrides the default pool limits.
func WithPoolConfig(cfg PoolConfig) ManagerOption {
	return func(m *Manager) {
		m.pool = cfg
	}
}

var _ SessionSource = (*Manager)(nil)

// NewManager creates a disconnected Manager.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger: logger.With("component", "resource_manager"),
		pool:   DefaultPoolConfig(),
		active: make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the pool for creds and verifies connectivity.
// Connectivity and authentication failures are returned here rather than
// deferred to the first session.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return ErrAlreadyConnected
	}

	dsn, err := creds.DSN()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	driver := creds.driver()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	m.configurePool(db, driver)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		m.logger.Error("database ping failed",
			slog.String("driver", driver),
			slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m.db = db
	m.driver = driver
	m.logger.Info("database connection established",
		slog.String("driver", driver),
		slog.String("database", creds.DatabaseName))
	return nil
}

func (m *Manager) configurePool(db *sql.DB, driver string) {
	if driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	db.SetMaxOpenConns(m.pool.MaxOpenConns)
	db.SetMaxIdleConns(m.pool.MaxIdleConns)
	db.SetConnMaxLifetime(m.pool.ConnMaxLifetime)
}

// NewSession begins a transaction and returns it as a fresh Session.
// It is safe for concurrent use; every call returns a distinct session.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, ErrNotConnected
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	s := newSession(tx)
	m.sessionsMu.Lock()
	m.active[s.id] = s
	m.acquired++
	m.sessionsMu.Unlock()

	m.logger.Debug("session acquired", slog.String("session_id", s.id.String()))
	return s, nil
}

// Release returns s to the manager, rolling back its transaction if it is
// still open. Releasing twice, or releasing a session whose unit of work
// failed, is safe.
func (m *Manager) Release(s *Session) {
	if s == nil || !s.markReleased() {
		return
	}

	if err := s.Rollback(); err != nil {
		m.logger.Warn("failed to roll back session on release",
			slog.String("session_id", s.id.String()),
			slog.String("error", redact.Error(err)))
	}

	m.sessionsMu.Lock()
	delete(m.active, s.id)
	m.released++
	m.sessionsMu.Unlock()

	m.logger.Debug("session released",
		slog.String("session_id", s.id.String()),
		slog.Duration("held", time.Since(s.startedAt)))
}

// Shutdown closes the pool. Later NewSession calls fail with ErrNotConnected.
// Shutting down a disconnected manager is a no-op.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}

	if active := m.Stats().Active; active > 0 {
		m.logger.Warn("shutting down with sessions still held", slog.Int("active", active))
	}

	err := m.db.Close()
	m.db = nil
	m.driver = ""
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	m.logger.Info("database connection closed")
	return nil
}

// Connected reports whether Connect succeeded and Shutdown has not run since.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db != nil
}

// Driver returns the driver name of the open pool, or "" when disconnected.
func (m *Manager) Driver() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driver
}

// Stats returns session counters since the manager was created.
func (m *Manager) Stats() SessionStats {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	return SessionStats{
		Acquired: m.acquired,
		Released: m.released,
		Active:   len(m.active),
	}
}
