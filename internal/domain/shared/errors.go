package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors raised to callers of the accounting services.
type ErrorKind string

const (
	KindBadRequest          ErrorKind = "BadRequest"
	KindUnauthorized        ErrorKind = "Unauthorized"
	KindForbidden           ErrorKind = "Forbidden"
	KindNotFound            ErrorKind = "NotFound"
	KindInvalidTransition   ErrorKind = "InvalidTransition"
	KindInsufficientBalance ErrorKind = "InsufficientBalance"
	KindNoTrustPath         ErrorKind = "NoTrustPath"
	KindTransactionExpired  ErrorKind = "TransactionExpired"
	KindSettlementError     ErrorKind = "SettlementError"
	KindInternal            ErrorKind = "InternalError"
)

// Error is a classified error carrying a human readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind implements the classifier used by KindOf.
func (e *Error) ErrorKind() ErrorKind {
	return e.Kind
}

// Is matches the kind sentinels below, so errors.Is(err, shared.ErrForbidden) holds
// for any forbidden error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrBadRequest   = &Error{Kind: KindBadRequest}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInternal     = &Error{Kind: KindInternal}
)

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

type classified interface {
	ErrorKind() ErrorKind
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	return KindInternal
}
