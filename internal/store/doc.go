// Package store owns the connection pool and the transactional sessions
// handed to units of work.
//
// A Manager is constructed once and shared by pointer. Each unit of work
// borrows its own Session through Run, which commits on success, rolls back
// on error or panic, and always releases the session back to the Manager.
// Both PostgreSQL (through the pgx stdlib driver) and SQLite (go-sqlite3)
// are supported; queries use $n placeholders, which both drivers accept.
package store
