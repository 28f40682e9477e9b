// Package domainerrors defines the gateway's error taxonomy. Services return
// these coded errors; transport layers translate codes into wire statuses
// without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers deciding between retrying, escalating,
// or re-submitting with a different request shape.
type Code string

const (
	// Resolution
	CodeNotFound             Code = "not_found"
	CodeAmbiguous            Code = "ambiguous"
	CodeDirectoryUnavailable Code = "directory_unavailable"

	// Encryption delegation
	CodeKeyUnavailable Code = "key_unavailable"
	CodeInvalidPayload Code = "invalid_payload"

	// Session lifecycle
	CodeSessionConflict      Code = "session_conflict"
	CodeUninitializedSession Code = "uninitialized_session"

	// Callback correlation
	CodeUnmatchedCallback Code = "unmatched_callback"
	CodeCallbackTimeout   Code = "callback_timeout"
	CodeSessionClosed     Code = "session_closed"
	CodeExchangeRejected  Code = "exchange_rejected"

	// Storage collaborator
	CodeQueueUnavailable Code = "queue_unavailable"

	// Ambient
	CodeValidation   Code = "validation"
	CodeUnauthorized Code = "unauthorized"
	CodeInternal     Code = "internal"
)

// Retryable reports whether an operation failing with this code may succeed
// on retry. Collaborator outages are retryable; cryptographic and validation
// failures are not, since retrying would not change the outcome.
func (c Code) Retryable() bool {
	switch c {
	case CodeDirectoryUnavailable, CodeQueueUnavailable, CodeCallbackTimeout:
		return true
	default:
		return false
	}
}

// Error is a coded error, optionally wrapping an underlying cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err or anything it wraps carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from err, walking the wrap chain. Uncoded errors
// report CodeInternal.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// MessageOf extracts the coded message from err, or err.Error() for uncoded
// errors.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
