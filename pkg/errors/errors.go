// Package errors provides structured error handling for the system.
//
// It defines a standard AppError type that includes:
//   - Error Code (standardized strings like STREAM_NOT_FOUND, INTERNAL)
//   - Message (human-readable description)
//   - Underlying Error (chaining)
//
// It also provides constructors for the domain-specific failure kinds the
// worker runtime needs to distinguish (config not found, stream not found,
// pool shutting down, unknown handler class, malformed payload).
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	CodeConfigNotFound  = "CONFIG_NOT_FOUND"
	CodeStreamNotFound  = "STREAM_NOT_FOUND"
	CodePoolShutDown    = "POOL_SHUT_DOWN"
	CodeUnknownClass    = "UNKNOWN_CLASS"
	CodeMalformedPaylod = "MALFORMED_PAYLOAD"
	CodeInternal        = "INTERNAL"
)

// AppError is a structured error carrying a stable code, a human-readable
// message, and an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code, message, and cause.
// cause may be nil.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches a message to an existing error without assigning a code,
// keeping the original error (and its code, if it is an *AppError) reachable
// through errors.As/errors.Unwrap.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is is the standard library's errors.Is, re-exported so callers only need
// to import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is the standard library's errors.As, re-exported so callers only need
// to import this package.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Code extracts the code of an *AppError in the chain, or "" if none.
func Code(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// ErrConfigNotFound indicates the configuration source could not be found
// or read during startup.
func ErrConfigNotFound(path string, cause error) *AppError {
	return New(CodeConfigNotFound, "config not found: "+path, cause)
}

// ErrStreamNotFound indicates a publish targeted a stream the broker does
// not know about (translated from the broker SDK's no-responders/not-found
// sentinel).
func ErrStreamNotFound(stream string) *AppError {
	return New(CodeStreamNotFound, "stream not found: "+stream, nil)
}

// ErrPoolShutDown indicates post() was called on a pool that is shutting
// down or has shut down; callers must treat this as "stop submitting", not
// as a transient failure.
func ErrPoolShutDown() *AppError {
	return New(CodePoolShutDown, "worker pool is shutting down", nil)
}

// ErrUnknownClass indicates a job envelope's class tag has no registered
// handler factory.
func ErrUnknownClass(class string) *AppError {
	return New(CodeUnknownClass, "unknown handler class: "+class, nil)
}

// ErrMalformedPayload indicates a message body failed to decode as a job
// envelope.
func ErrMalformedPayload(cause error) *AppError {
	return New(CodeMalformedPaylod, "malformed job payload", cause)
}
