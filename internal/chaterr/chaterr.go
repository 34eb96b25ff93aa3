// Package chaterr provides the structured error taxonomy shared by the
// websocket acknowledgment path and the REST surface. Every rejected
// operation carries a machine-checkable kind, an HTTP status class and
// a short user-facing message, so callers can render UI without
// guessing.
package chaterr

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable error kind.
type Kind string

const (
	// KindValidation is malformed input, rejected before any mutation.
	KindValidation Kind = "validation"
	// KindUnauthenticated is a missing or invalid credential.
	KindUnauthenticated Kind = "unauthenticated"
	// KindForbidden is an action the caller's role or ownership does
	// not permit.
	KindForbidden Kind = "forbidden"
	// KindModeration is a write blocked by a ban or mute flag.
	KindModeration Kind = "moderation"
	// KindNotFound is an id that does not resolve.
	KindNotFound Kind = "not_found"
	// KindInternal is an unexpected failure, including a temporarily
	// unavailable store. The server does not retry; retry policy is
	// the caller's.
	KindInternal Kind = "internal"
)

// Error is a classified chat error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to its HTTP status class.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden, KindModeration:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Canonical rejections. The messages are deliberately short and
// specific: clients distinguish "not your message", "banned", "muted"
// and "not found" without parsing.
var (
	ErrNotYourMessage = New(KindForbidden, "not your message")
	ErrBanned         = New(KindModeration, "banned")
	ErrMuted          = New(KindModeration, "muted")
	ErrNotFound       = New(KindNotFound, "not found")
	ErrInsufficient   = New(KindForbidden, "insufficient role")
)

// KindOf extracts the kind from err, or KindInternal for unclassified
// errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// UserMessage returns the short user-facing message for err, falling
// back to a generic one for unclassified errors.
func UserMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "internal error"
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.HTTPStatus()
	}
	return http.StatusInternalServerError
}
