// Package apperr defines the error kinds surfaced by the marketplace services.
//
// Services return *Error values (optionally wrapping a cause) so transport layers
// can map them to status codes without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	NotFound          Kind = "not_found"
	InvalidState      Kind = "invalid_state"
	InsufficientStock Kind = "insufficient_stock"
	Unauthorized      Kind = "unauthorized"
	Unauthenticated   Kind = "unauthenticated"
	Validation        Kind = "validation_error"
	AlreadyExists     Kind = "already_exists"
	Internal          Kind = "internal_error"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message, hiding internal causes.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal server error"
}
