// Package domainerrors defines the coded error type services return and the
// HTTP layer translates. Stores wrap storage sentinels into these codes so
// callers switch on codes, never on driver errors.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidPollState Code = "INVALID_POLL_STATE"
	CodeDuplicateVote    Code = "DUPLICATE_VOTE"
	CodeFraudRejected    Code = "FRAUD_REJECTED"
	CodeGeoRestricted    Code = "GEO_RESTRICTED"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeTransientStorage Code = "TRANSIENT_STORAGE"
	CodeInternal         Code = "INTERNAL"
)

// Error carries a stable machine code alongside a human message. The wrapped
// cause stays available to errors.Is/As but is never serialized to clients.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err is a coded error with the given code. Only the
// outermost coded error counts; wrapping a NOT_FOUND inside an INTERNAL is a
// deliberate reclassification.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the code from err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// MessageOf extracts the client-safe message from err. Uncoded errors map to
// a generic message so internals never leak to responses.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal error"
}
