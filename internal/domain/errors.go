package domain

import "errors"

// Domain errors represent error conditions in the serialbatch domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyOpen is returned when Open() is called on an open instance.
	ErrAlreadyOpen = errors.New("serialbatch: already open")

	// ErrNotOpen is returned when Close() or Write() is called on a closed instance.
	ErrNotOpen = errors.New("serialbatch: not open")

	// ErrShutdownTimeout is returned when the delivery loop does not exit
	// within the shutdown grace period.
	ErrShutdownTimeout = errors.New("serialbatch: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("serialbatch: invalid configuration")

	// ErrPortClosed is returned by device operations after the underlying
	// port has been closed.
	ErrPortClosed = errors.New("serialbatch: port closed")
)
