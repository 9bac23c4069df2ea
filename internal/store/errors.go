package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all units of work.
var (
	// ErrNotConnected is returned when a session is requested before Connect
	// or after Shutdown.
	ErrNotConnected = errors.New("resource manager not connected")

	// ErrAlreadyConnected is returned by a second Connect without an
	// intervening Shutdown.
	ErrAlreadyConnected = errors.New("resource manager already connected")

	// ErrUnitOfWorkFailed wraps every failure contained by Run. The session
	// was rolled back and nothing the unit of work wrote is visible.
	ErrUnitOfWorkFailed = errors.New("unit of work failed")

	// ErrSessionClosed is returned when committing a session that has
	// already been committed, rolled back, or released.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when a write violates a foreign key,
	// check, or not-null constraint. Check the wrapped error for details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUnsupportedDriver is returned by Connect for drivers other than pgx and sqlite3.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "patient", "appointment")
	Operation string // The operation that failed (e.g., "create", "update")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// PanicError carries a panic recovered from a unit of work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in unit of work: %v", e.Value)
}
