// Package kernelerr defines the typed error taxonomy carried by result
// envelopes and the audit log (spec.md §7): BadArgument, NotFound, Conflict,
// Unauthorized, Timeout, Upstream, Internal, Degraded.
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind is one of the eight error taxonomy members.
type Kind string

const (
	BadArgument  Kind = "bad_argument"
	NotFound     Kind = "not_found"
	Conflict     Kind = "conflict"
	Unauthorized Kind = "unauthorized"
	Timeout      Kind = "timeout"
	Upstream     Kind = "upstream"
	Internal     Kind = "internal"
	Degraded     Kind = "degraded"
)

// Error wraps an underlying cause with a taxonomy Kind, a one-line
// user-visible Message, and an optional Suggestion ("what to do next").
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Attempted  string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, kernelerr.NotFound) work by comparing Kind via a
// sentinel wrapper — see the Kind-comparison helpers below instead; Kind
// itself isn't an error. Use KindOf/Is.
func Is(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or Internal if err is not a *Error.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) WithAttempted(a string) *Error {
	e.Attempted = a
	return e
}
