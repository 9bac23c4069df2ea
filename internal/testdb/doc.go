// Package testdb provides connected, migrated resource managers for tests.
//
// NewSQLiteManager gives every test its own database file under t.TempDir(),
// so tests can run in parallel without sharing state. PostgresCredentials
// reads an optional server from the environment for integration tests and
// reports false when none is configured, in which case the caller skips.
package testdb
