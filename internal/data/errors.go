package data

import "errors"

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrResultNotFound is returned when no result row exists for a key.
	ErrResultNotFound = errors.New("job result not found")
	// ErrDirectoryNotFound is returned when a directory is not found.
	ErrDirectoryNotFound = errors.New("directory not found")
	// ErrProfileNotFound is returned when no business profile exists for a customer.
	ErrProfileNotFound = errors.New("business profile not found")
	// ErrInvalidTransition is returned when a job status update violates the
	// monotonic state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")
)
