// Package errs defines the error kinds returned by the note services.
//
// Every error produced by the core carries one Kind so callers can map it to
// a status code without parsing messages:
//
//	if errors.Is(err, errs.NotFound) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error. Kinds are themselves errors so they can be used
// as errors.Is targets.
type Kind string

const (
	NotFound       Kind = "not found"
	Authorization  Kind = "forbidden"
	Authentication Kind = "unauthenticated"
	Invariant      Kind = "invariant violated"
	Persistence    Kind = "persistence failure"
	Dispatch       Kind = "dispatch failure"
)

func (k Kind) Error() string {
	return string(k)
}

// Error is a classified error with a user-facing message and an optional
// underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFoundf(format string, args ...any) error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return New(Authorization, fmt.Sprintf(format, args...))
}

func Invariantf(format string, args ...any) error {
	return New(Invariant, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first classified error in err's chain, or
// the empty Kind when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Message returns the user-facing message of a classified error, falling
// back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
