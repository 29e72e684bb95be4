// Package errors provides structured error types for composerbridge.
//
// This package defines error codes and types that enable:
//   - Consistent classification of config, transport, validation and filesystem failures
//   - Machine-readable error codes for programmatic handling
//   - Explicit, enumerable policies for where failures are swallowed (see [Policy])
//
// # Error Codes
//
// The taxonomy mirrors how failures propagate through a refresh run:
//   - CONFIG_ERROR: missing or malformed configuration, fatal at startup
//   - TRANSPORT_ERROR: network or HTTP failure, degraded to an empty result
//   - MISSING_FIELD / INVALID_FIELD: malformed upstream record, record skipped
//   - MANIFEST_MISMATCH: composer.json name does not match the project, treated as absent
//   - FILESYSTEM_ERROR: cache directory or file failure, fatal for the current rebuild
//
// # Usage
//
//	err := errors.New(errors.ErrCodeConfig, "missing key %q", "apiUrl")
//	if errors.Is(err, errors.ErrCodeConfig) {
//	    // Abort startup
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeTransport, origErr, "GET %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Startup errors
	ErrCodeConfig     Code = "CONFIG_ERROR"
	ErrCodeFilesystem Code = "FILESYSTEM_ERROR"

	// Upstream errors
	ErrCodeTransport Code = "TRANSPORT_ERROR"
	ErrCodeNotFound  Code = "NOT_FOUND"

	// Validation errors
	ErrCodeMissingField     Code = "MISSING_FIELD"
	ErrCodeInvalidField     Code = "INVALID_FIELD"
	ErrCodeInvalidPath      Code = "INVALID_PATH"
	ErrCodeManifestMismatch Code = "MANIFEST_MISMATCH"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Field   string // Offending field for MISSING_FIELD / INVALID_FIELD (optional)
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// MissingField reports a required record field that is absent or null.
func MissingField(field string) *Error {
	return &Error{
		Code:    ErrCodeMissingField,
		Message: fmt.Sprintf("missing required field %q", field),
		Field:   field,
	}
}

// InvalidField reports a record field that is present but cannot be decoded.
func InvalidField(field string, cause error) *Error {
	return &Error{
		Code:    ErrCodeInvalidField,
		Message: fmt.Sprintf("invalid field %q", field),
		Field:   field,
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FieldOf returns the offending field of a MISSING_FIELD or INVALID_FIELD error.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
