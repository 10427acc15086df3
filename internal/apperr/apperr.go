// Package apperr holds the error taxonomy shared by the order and stock services.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindUnavailable       Kind = "SERVICE_UNAVAILABLE"
	KindConflict          Kind = "CONCURRENCY_CONFLICT"
	KindInvalid           Kind = "INVALID_ARGUMENT"
	KindInvalidState      Kind = "INVALID_STATE"
	KindInternal          Kind = "INTERNAL"
)

// Error membawa kind + pesan yang aman ditampilkan ke client.
// Err (kalau ada) adalah penyebab aslinya, hanya untuk log.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func InsufficientStock(format string, args ...any) *Error {
	return New(KindInsufficientStock, format, args...)
}

func Invalid(format string, args ...any) *Error { return New(KindInvalid, format, args...) }

func Conflict(format string, args ...any) *Error { return New(KindConflict, format, args...) }

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// IsDomain reports whether err is a business rejection from the callee,
// i.e. something a retry would not change.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInsufficientStock, KindInvalid, KindInvalidState, KindConflict:
		return true
	}
	return false
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
