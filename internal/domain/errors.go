// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when a record reference is zero or negative.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyName is returned when a person is missing a first or last name.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrInvalidEmail is returned when an email address is malformed.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrInvalidDateRange is returned when an end date precedes its start date.
	ErrInvalidDateRange = errors.New("end date precedes start date")

	// ErrInvalidAppointmentStatus is returned for an unknown appointment status.
	ErrInvalidAppointmentStatus = errors.New("invalid appointment status")
)
