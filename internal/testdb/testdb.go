package testdb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/clinicdesk/internal/store"
)

// TestTimeout bounds connection and migration work in test setup.
const TestTimeout = 10 * time.Second

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// SQLiteCredentials returns credentials for a fresh database file in dir.
func SQLiteCredentials(dir string) store.Credentials {
	return store.Credentials{
		Driver:       store.DriverSQLite,
		DatabaseName: filepath.Join(dir, "clinic.db"),
	}
}

// NewSQLiteManager connects a Manager to a new SQLite database and applies
// every migration. The manager is shut down when the test ends.
func NewSQLiteManager(t *testing.T, logger *slog.Logger) *store.Manager {
	t.Helper()

	if logger == nil {
		logger = DiscardLogger()
	}

	m := store.NewManager(logger)
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	require.NoError(t, m.Connect(ctx, SQLiteCredentials(t.TempDir())), "failed to connect test database")
	t.Cleanup(func() {
		if err := m.Shutdown(); err != nil {
			t.Logf("failed to shut down test database: %v", err)
		}
	})

	_, err := m.Migrate(ctx)
	require.NoError(t, err, "failed to migrate test database")
	return m
}

// PostgresCredentials reads CLINIC_TEST_DB_HOST, CLINIC_TEST_DB_PORT,
// CLINIC_TEST_DB_USER, CLINIC_TEST_DB_PASSWORD and CLINIC_TEST_DB_NAME.
// It returns false when no host is set.
func PostgresCredentials() (store.Credentials, bool) {
	host := os.Getenv("CLINIC_TEST_DB_HOST")
	if host == "" {
		return store.Credentials{}, false
	}

	port, err := strconv.Atoi(os.Getenv("CLINIC_TEST_DB_PORT"))
	if err != nil {
		port = 5432
	}

	return store.Credentials{
		Driver:       store.DriverPostgres,
		Host:         host,
		Port:         port,
		User:         envOr("CLINIC_TEST_DB_USER", "postgres"),
		Secret:       os.Getenv("CLINIC_TEST_DB_PASSWORD"),
		DatabaseName: envOr("CLINIC_TEST_DB_NAME", "clinicdesk_test"),
		SSLMode:      "disable",
	}, true
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
