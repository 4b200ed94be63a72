// Package errs defines the stable error taxonomy surfaced through the
// control plane envelope (spec §7): VALIDATION_ERROR, NOT_FOUND, CONFLICT,
// REFERENTIAL_ERROR, CONNECT_ERROR, STATE_ERROR, INTERNAL_ERROR.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error kind.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeReferenced Code = "REFERENTIAL_ERROR"
	CodeConnect    Code = "CONNECT_ERROR"
	CodeState      Code = "STATE_ERROR"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Error is a taxonomy-tagged error carrying a stable Code alongside the
// human-readable message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return newf(CodeValidation, format, args...) }
func NotFound(format string, args ...any) *Error    { return newf(CodeNotFound, format, args...) }
func Conflict(format string, args ...any) *Error    { return newf(CodeConflict, format, args...) }
func Referential(format string, args ...any) *Error { return newf(CodeReferenced, format, args...) }
func Connect(format string, args ...any) *Error     { return newf(CodeConnect, format, args...) }
func State(format string, args ...any) *Error       { return newf(CodeState, format, args...) }
func Internal(format string, args ...any) *Error    { return newf(CodeInternal, format, args...) }

// Wrap attaches a cause to a taxonomy error, preserving its Code.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, defaulting to CodeInternal otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
