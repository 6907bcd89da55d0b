// Package ferrors provides coded errors for the fotad services.
//
// Every failure that crosses a component boundary carries an ErrorCode so
// callers can branch on the kind of failure instead of matching message
// text. The SSH client classifies transport failures here, the rollout
// engine decides flash success on CONNECTION_CLOSED, and the HTTP layer maps
// codes to status codes.
package ferrors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of a failure.
type ErrorCode string

const (
	// ErrCodeValidation marks rejected operator input.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeConflict marks an operation refused because a job is active.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeNotFound marks a missing entity.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeUnreachable marks a router that did not answer the probe.
	ErrCodeUnreachable ErrorCode = "UNREACHABLE"
	// ErrCodeAuthFailed marks rejected SSH credentials.
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED"
	// ErrCodeConnectRefused marks a refused TCP connection.
	ErrCodeConnectRefused ErrorCode = "CONNECT_REFUSED"
	// ErrCodeTimeout marks an expired connect or command deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeConnectionClosed marks a session torn down by the remote end.
	// The flash step treats this as success; everywhere else it is an error.
	ErrCodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	// ErrCodeCommandFailed marks a remote command that exited non-zero
	// without producing stdout.
	ErrCodeCommandFailed ErrorCode = "COMMAND_FAILED"
	// ErrCodeVerifyFailed marks a firmware image the device rejected.
	ErrCodeVerifyFailed ErrorCode = "VERIFY_FAILED"
	// ErrCodeDownloadFailed marks a firmware image that never arrived.
	ErrCodeDownloadFailed ErrorCode = "DOWNLOAD_FAILED"
	// ErrCodeRebootTimeout marks a router that stayed silent after a flash.
	ErrCodeRebootTimeout ErrorCode = "REBOOT_TIMEOUT"
	// ErrCodeNoCredentials marks a router with neither per-device nor
	// global credentials.
	ErrCodeNoCredentials ErrorCode = "NO_CREDENTIALS"
	// ErrCodeUnknown marks an unclassified failure.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
	// ErrCodeInternal marks a bug or a storage failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// FotaError is the coded error type used across the daemon.
type FotaError struct {
	Code     ErrorCode
	Message  string
	Cause    error
	Metadata map[string]any
}

// Error implements the error interface.
func (e *FotaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *FotaError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FotaError with the same code. Message text
// is deliberately not compared.
func (e *FotaError) Is(target error) bool {
	var fe *FotaError
	if errors.As(target, &fe) {
		return e.Code == fe.Code
	}
	return false
}

// WithMetadata attaches a key/value pair and returns the error.
func (e *FotaError) WithMetadata(key string, value any) *FotaError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// New creates a coded error.
func New(code ErrorCode, message string) *FotaError {
	return &FotaError{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *FotaError {
	return &FotaError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. Returns nil when err is nil.
func Wrap(err error, code ErrorCode, message string) *FotaError {
	if err == nil {
		return nil
	}
	return &FotaError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a code and formatted message. Returns nil when err is nil.
func Wrapf(err error, code ErrorCode, format string, args ...any) *FotaError {
	if err == nil {
		return nil
	}
	return &FotaError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// GetCode returns the code carried by err, walking the wrap chain.
// Plain errors report ErrCodeUnknown; nil reports the empty code.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var fe *FotaError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
