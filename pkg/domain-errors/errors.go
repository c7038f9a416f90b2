// Package derrors defines the coded error type used across service boundaries.
//
// Services return these so handlers can translate them to HTTP statuses
// without inspecting error strings. Stores return pkg/platform/sentinel
// errors instead; services translate at the boundary.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and caller handling.
type Code string

const (
	// Generic codes.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal_error"

	// Validation failures: caller mistake, fix and resend, no retry loop.
	CodeInvalidAsset         Code = "invalid_asset"
	CodeIncompleteSubmission Code = "incomplete_submission"

	// Concurrency conflicts: refetch current state, then retry or abandon.
	CodeActiveRequestExists Code = "active_request_exists"
	CodeAlreadyClaimed      Code = "already_claimed"
	CodeNotClaimOwner       Code = "not_claim_owner"
	CodeStaleWrite          Code = "stale_write"

	// Attempted mutation of a terminal request. Never retried.
	CodeInvalidTransition Code = "invalid_transition"

	// External capability failure. Degrades to manual review, never blocks
	// submission.
	CodeAnalysisUnavailable Code = "analysis_unavailable"
)

// Error carries a code, a human-readable message, and an optional cause.
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

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate from this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts the message from err, or empty for foreign errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
