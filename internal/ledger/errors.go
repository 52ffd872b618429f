package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures so callers can map them to a
// transport status without inspecting messages.
type ErrorKind string

const (
	KindValidationFailed     ErrorKind = "ValidationFailed"
	KindDuplicateOperationID ErrorKind = "DuplicateOperationId"
	KindNotFound             ErrorKind = "NotFound"
	KindUserNotFound         ErrorKind = "UserNotFound"
	KindStockNotFound        ErrorKind = "StockNotFound"
	KindPortfolioNotFound    ErrorKind = "PortfolioNotFound"
	KindConcurrencyConflict  ErrorKind = "ConcurrencyConflict"
	KindDatabaseError        ErrorKind = "DatabaseError"
)

// Error is the error type returned by every ledger operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func databaseError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindDatabaseError, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of a ledger error. Errors that did not come
// from the ledger are reported as KindDatabaseError.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindDatabaseError
}

// IsNotFound reports whether err is any of the not-found kinds.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindUserNotFound, KindStockNotFound, KindPortfolioNotFound:
		return true
	}
	return false
}
