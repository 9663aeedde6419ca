package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindBadRequest Kind = "bad_request"
	KindConfig     Kind = "config"
	KindUpstream   Kind = "upstream"
	KindExecution  Kind = "execution"
	KindParse      Kind = "parse"
	KindTransport  Kind = "transport"
	KindStorage    Kind = "storage"
	KindBootstrap  Kind = "bootstrap"
	KindUnknown    Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	// Details carries diagnostic text for the caller (stderr, raw reply, missing setting).
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetails attaches diagnostic text and returns the same error.
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	e.Details = details
	return e
}

func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether any error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first typed error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target.Kind
	}
	return KindUnknown
}

// As is re-exported so callers do not need to import both errors packages.
func As(err error, target any) bool {
	return errors.As(err, target)
}
