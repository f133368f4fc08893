package driver

import (
	"errors"
	"fmt"
)

// Error categories. All errors returned by this package and its consumers
// wrap exactly one of these sentinels so callers can classify failures with
// errors.Is without inspecting message text.
var (
	// ErrConnection indicates the transport is absent or severed. The
	// connection manager responds by reconnecting before retrying.
	ErrConnection = errors.New("connection error")

	// ErrIO indicates a transaction-level failure on a live transport.
	// Retried in place without forcing a reconnect.
	ErrIO = errors.New("i/o error")

	// ErrValidation indicates a write to a non-writable or otherwise
	// invalid address. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown point name.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration indicates an invalid factory kind or option.
	// Fatal, surfaced immediately.
	ErrConfiguration = errors.New("configuration error")
)

// ConnectionErrorf returns an error wrapping ErrConnection.
func ConnectionErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConnection, fmt.Sprintf(format, args...))
}

// IOErrorf returns an error wrapping ErrIO.
func IOErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIO, fmt.Sprintf(format, args...))
}

// ValidationErrorf returns an error wrapping ErrValidation.
func ValidationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundErrorf returns an error wrapping ErrNotFound.
func NotFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ConfigurationErrorf returns an error wrapping ErrConfiguration.
func ConfigurationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsConnectionError reports whether err is a connectivity failure.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsIOError reports whether err is a transaction-level failure.
func IsIOError(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError reports whether err refers to an unknown point name.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
