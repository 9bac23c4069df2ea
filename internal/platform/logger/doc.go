// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and carries task-scoped loggers through context so
// units of work log with the task and worker that ran them.
package logger
