package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets environment variables for the duration of the test.
// Empty values unset the variable so defaults apply.
func setupEnv(t *testing.T, envVars map[string]string) {
	t.Helper()
	for name, value := range envVars {
		if value == "" {
			original, had := os.LookupEnv(name)
			require.NoError(t, os.Unsetenv(name))
			if had {
				t.Cleanup(func() { _ = os.Setenv(name, original) })
			}
			continue
		}
		t.Setenv(name, value)
	}
}

// TestLoadDefaults verifies defaults when only the required database fields are set.
func TestLoadDefaults(t *testing.T) {
	setupEnv(t, map[string]string{
		"CLINIC_DATABASE_HOST":           "localhost",
		"CLINIC_DATABASE_USER":           "clinic",
		"CLINIC_DATABASE_NAME":           "clinic",
		"CLINIC_DISPATCHER_WORKER_COUNT": "",
		"CLINIC_SERVER_LOG_LEVEL":        "",
		"DB_HOST":                        "",
	})

	cfg, err := Load()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 4, cfg.Dispatcher.WorkerCount)
	assert.Equal(t, 0, cfg.Dispatcher.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Dispatcher.StopTimeout)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "json", cfg.Server.LogFormat)
	assert.Empty(t, cfg.Server.BridgeAllowedOrigins)
}

// TestLoadFromEnv verifies that prefixed environment variables populate every group.
func TestLoadFromEnv(t *testing.T) {
	setupEnv(t, map[string]string{
		"CLINIC_DATABASE_HOST":                 "db.internal",
		"CLINIC_DATABASE_PORT":                 "6543",
		"CLINIC_DATABASE_USER":                 "reception",
		"CLINIC_DATABASE_PASSWORD":             "hunter2",
		"CLINIC_DATABASE_NAME":                 "hospital",
		"CLINIC_DISPATCHER_WORKER_COUNT":       "8",
		"CLINIC_DISPATCHER_STOP_TIMEOUT":       "5s",
		"CLINIC_SERVER_LOG_LEVEL":              "debug",
		"CLINIC_SERVER_BRIDGE_ADDR":            ":8089",
		"CLINIC_SERVER_BRIDGE_ALLOWED_ORIGINS": "http://localhost:3000,https://desk.example",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "reception", cfg.Database.User)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "hospital", cfg.Database.Name)
	assert.Equal(t, 8, cfg.Dispatcher.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.StopTimeout)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, ":8089", cfg.Server.BridgeAddr)
	assert.Equal(t, []string{"http://localhost:3000", "https://desk.example"}, cfg.Server.BridgeAllowedOrigins)
}

// TestLoadLegacyEnv verifies the unprefixed DB_* names and that prefixed names win.
func TestLoadLegacyEnv(t *testing.T) {
	setupEnv(t, map[string]string{
		"CLINIC_DATABASE_HOST":     "",
		"CLINIC_DATABASE_USER":     "",
		"CLINIC_DATABASE_PASSWORD": "",
		"CLINIC_DATABASE_NAME":     "primary",
		"DB_HOST":                  "legacy-host",
		"DB_USER":                  "legacy-user",
		"DB_PASS":                  "legacy-pass",
		"DB_DATABASE":              "legacy-db",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "legacy-host", cfg.Database.Host)
	assert.Equal(t, "legacy-user", cfg.Database.User)
	assert.Equal(t, "legacy-pass", cfg.Database.Password)
	assert.Equal(t, "primary", cfg.Database.Name, "prefixed variable should take precedence")
}

// TestLoadSQLiteNeedsNoHost verifies conditional requirements for the sqlite3 driver.
func TestLoadSQLiteNeedsNoHost(t *testing.T) {
	setupEnv(t, map[string]string{
		"CLINIC_DATABASE_DRIVER": "sqlite3",
		"CLINIC_DATABASE_NAME":   filepath.Join(t.TempDir(), "clinic.db"),
		"CLINIC_DATABASE_HOST":   "",
		"CLINIC_DATABASE_USER":   "",
		"DB_HOST":                "",
		"DB_USER":                "",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Empty(t, cfg.Database.Host)
}

// TestLoadValidationErrors verifies that invalid values are reported by field.
func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "missing host for pgx",
			env: map[string]string{
				"CLINIC_DATABASE_DRIVER": "pgx",
				"CLINIC_DATABASE_HOST":   "",
				"DB_HOST":                "",
				"CLINIC_DATABASE_USER":   "clinic",
				"CLINIC_DATABASE_NAME":   "clinic",
			},
			wantErr: "Config.Database.Host",
		},
		{
			name: "unknown driver",
			env: map[string]string{
				"CLINIC_DATABASE_DRIVER": "mysql",
				"CLINIC_DATABASE_HOST":   "localhost",
				"CLINIC_DATABASE_USER":   "clinic",
				"CLINIC_DATABASE_NAME":   "clinic",
			},
			wantErr: "Config.Database.Driver",
		},
		{
			name: "zero workers",
			env: map[string]string{
				"CLINIC_DATABASE_DRIVER":         "pgx",
				"CLINIC_DATABASE_HOST":           "localhost",
				"CLINIC_DATABASE_USER":           "clinic",
				"CLINIC_DATABASE_NAME":           "clinic",
				"CLINIC_DISPATCHER_WORKER_COUNT": "0",
			},
			wantErr: "Config.Dispatcher.WorkerCount",
		},
		{
			name: "bad log level",
			env: map[string]string{
				"CLINIC_DATABASE_DRIVER":  "pgx",
				"CLINIC_DATABASE_HOST":    "localhost",
				"CLINIC_DATABASE_USER":    "clinic",
				"CLINIC_DATABASE_NAME":    "clinic",
				"CLINIC_SERVER_LOG_LEVEL": "verbose",
			},
			wantErr: "Config.Server.LogLevel",
		},
		{
			name: "malformed allowed origin",
			env: map[string]string{
				"CLINIC_DATABASE_DRIVER":               "pgx",
				"CLINIC_DATABASE_HOST":                 "localhost",
				"CLINIC_DATABASE_USER":                 "clinic",
				"CLINIC_DATABASE_NAME":                 "clinic",
				"CLINIC_SERVER_BRIDGE_ALLOWED_ORIGINS": "not a url",
			},
			wantErr: "Config.Server.BridgeAllowedOrigins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t, tt.env)

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestLoadWithFile verifies that file values load and environment overrides them.
func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinicdesk.yaml")
	content := `
server:
  log_level: warn
database:
  driver: pgx
  host: file-host
  user: file-user
  name: file-db
dispatcher:
  worker_count: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	setupEnv(t, map[string]string{
		"CLINIC_DATABASE_HOST":           "",
		"CLINIC_DATABASE_USER":           "",
		"CLINIC_DATABASE_NAME":           "",
		"DB_HOST":                        "",
		"DB_USER":                        "",
		"DB_DATABASE":                    "",
		"CLINIC_SERVER_LOG_LEVEL":        "",
		"CLINIC_DISPATCHER_WORKER_COUNT": "6",
	})

	cfg, err := LoadWithFile(path)

	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "file-host", cfg.Database.Host)
	assert.Equal(t, "file-db", cfg.Database.Name)
	assert.Equal(t, 6, cfg.Dispatcher.WorkerCount, "environment should override file")
}

func TestLoadWithFileMissing(t *testing.T) {
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}
