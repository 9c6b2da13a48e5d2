package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindBadRequest        Kind = "BadRequest"
	KindUnauthorized      Kind = "Unauthorized"
	KindForbidden         Kind = "Forbidden"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindInsufficientStock Kind = "InsufficientStock"
	KindInvalidState      Kind = "InvalidState"
	KindInternal          Kind = "Internal"
)

// Error is the typed failure surfaced by the service layer. Message is safe
// for display; Details carries offending field names and similar hints.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithField(name string) *Error {
	return e.WithDetail("field", name)
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return Errorf(KindBadRequest, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return Errorf(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Errorf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Errorf(KindConflict, format, args...)
}

func InsufficientStock(format string, args ...any) *Error {
	return Errorf(KindInsufficientStock, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return Errorf(KindInvalidState, format, args...)
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf reports the kind of err; untyped errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
