package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format,
	// such as a queue payload that cannot be decoded into a NotificationTask.
	ErrInvalidFormat = errors.New("invalid format")
)
