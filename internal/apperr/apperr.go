// Package apperr defines the business error taxonomy shared by all services.
// Business failures are values, not panics; the HTTP layer maps each kind to
// a status code and a stable error code string.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and logging.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindQuotaDenied
	KindRateLimited
	KindUpstreamTimeout
	KindPaymentVerifyFailed
)

// Code returns the stable wire code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindUnauthorized:
		return "AUTH_INVALID"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindQuotaDenied:
		return "QUOTA_DENIED"
	case KindRateLimited:
		return "RATE_LIMIT"
	case KindUpstreamTimeout:
		return "UPSTREAM_TIMEOUT"
	case KindPaymentVerifyFailed:
		return "PAYMENT_VERIFY_FAILED"
	default:
		return "INTERNAL"
	}
}

// Error is a kinded error with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	// Code overrides Kind.Code() when a more specific wire code applies
	// (e.g. CODE_INVALID for a bad verification code, still 400).
	Code string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// WireCode returns the code string sent to clients.
func (e *Error) WireCode() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.Code()
}

// New creates an error of the given kind with a client-safe message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode sets a specific wire code on the error and returns it.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Wrap attaches an underlying cause. The cause is logged server-side but
// never serialized to clients.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, err: err}
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Common constructors used across services.

func Invalid(msg string) *Error      { return New(KindInvalidArgument, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }
func QuotaDenied(msg string) *Error  { return New(KindQuotaDenied, msg) }
func RateLimited(msg string) *Error  { return New(KindRateLimited, msg) }
func Internal(err error) *Error      { return Wrap(KindInternal, "internal error", err) }
