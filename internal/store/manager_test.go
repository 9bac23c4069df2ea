package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/clinicdesk/internal/store"
	"github.com/phrazzld/clinicdesk/internal/testdb"
)

func TestManagerNotConnected(t *testing.T) {
	t.Parallel()

	m := store.NewManager(testdb.DiscardLogger())

	_, err := m.NewSession(context.Background())
	require.ErrorIs(t, err, store.ErrNotConnected)
	assert.False(t, m.Connected())
	assert.NoError(t, m.Shutdown(), "shutdown before connect should be a no-op")

	_, err = m.Migrate(context.Background())
	assert.ErrorIs(t, err, store.ErrNotConnected)
}

func TestManagerConnectLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := store.NewManager(testdb.DiscardLogger())
	require.NoError(t, m.Connect(ctx, testdb.SQLiteCredentials(t.TempDir())))
	assert.True(t, m.Connected())
	assert.Equal(t, store.DriverSQLite, m.Driver())

	err := m.Connect(ctx, testdb.SQLiteCredentials(t.TempDir()))
	assert.ErrorIs(t, err, store.ErrAlreadyConnected)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	m.Release(s)

	require.NoError(t, m.Shutdown())
	assert.False(t, m.Connected())

	_, err = m.NewSession(ctx)
	assert.ErrorIs(t, err, store.ErrNotConnected)

	// Reconnecting after shutdown is allowed.
	require.NoError(t, m.Connect(ctx, testdb.SQLiteCredentials(t.TempDir())))
	require.NoError(t, m.Shutdown())
}

func TestManagerConnectFailurePropagates(t *testing.T) {
	t.Parallel()

	m := store.NewManager(testdb.DiscardLogger())
	creds := store.Credentials{
		Driver:       store.DriverSQLite,
		DatabaseName: filepath.Join(t.TempDir(), "missing", "dir", "clinic.db"),
	}

	err := m.Connect(context.Background(), creds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
	assert.False(t, m.Connected())

	_, err = m.NewSession(context.Background())
	assert.ErrorIs(t, err, store.ErrNotConnected)
}

func TestManagerConnectUnsupportedDriver(t *testing.T) {
	t.Parallel()

	m := store.NewManager(testdb.DiscardLogger())
	err := m.Connect(context.Background(), store.Credentials{Driver: "oracle"})
	assert.ErrorIs(t, err, store.ErrUnsupportedDriver)
}

func TestManagerReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := testdb.NewSQLiteManager(t, nil)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	_, err = s.ExecContext(ctx, "INSERT INTO department (name) VALUES ($1)", "Radiology")
	require.NoError(t, err)

	m.Release(s)
	m.Release(s)
	m.Release(nil)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Acquired)
	assert.Equal(t, int64(1), stats.Released)
	assert.Equal(t, 0, stats.Active)
	assert.True(t, s.Closed(), "release should roll back an open session")

	// The uncommitted insert was rolled back by Release.
	count := countRows(t, m, "department")
	assert.Zero(t, count)
}

func TestManagerSessionsAreDistinct(t *testing.T) {
	t.Parallel()
	m := testdb.NewSQLiteManager(t, nil)

	const n = 8
	var (
		mu  sync.Mutex
		ids = make(map[uuid.UUID]bool)
		wg  sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.NewSession(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[s.ID()] = true
			mu.Unlock()
			m.Release(s)
		}()
	}
	wg.Wait()

	assert.Len(t, ids, n)
	assert.Equal(t, int64(n), m.Stats().Released)
}

func TestSessionCommitTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := testdb.NewSQLiteManager(t, nil)

	s, err := m.NewSession(ctx)
	require.NoError(t, err)
	defer m.Release(s)

	require.NoError(t, s.Commit())
	assert.ErrorIs(t, s.Commit(), store.ErrSessionClosed)
	assert.NoError(t, s.Rollback(), "rollback after commit is a no-op")
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	m := testdb.NewSQLiteManager(t, nil)

	version, err := m.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

// countRows reads a table's row count in a fresh session.
func countRows(t *testing.T, m *store.Manager, table string) int {
	t.Helper()
	count, err := store.Run(context.Background(), m, func(ctx context.Context, s *store.Session) (int, error) {
		var n int
		err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
		return n, err
	})
	require.NoError(t, err)
	return count
}
