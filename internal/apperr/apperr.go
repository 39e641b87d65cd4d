// Package apperr defines the coded errors returned by the catalog core.
//
// Errors compare by code, so a wrapped or decorated error still matches the
// package sentinels through errors.Is.
package apperr

import "errors"

type Code string

const (
	CodeFilterConflict      Code = "FILTER_CONFLICT"
	CodeInvalidRange        Code = "INVALID_RANGE"
	CodeUnknownCategory     Code = "UNKNOWN_CATEGORY"
	CodeAmountExceeded      Code = "AMOUNT_EXCEEDED"
	CodeInvalidSubmission   Code = "INVALID_SUBMISSION"
	CodeDuplicateSubmission Code = "DUPLICATE_SUBMISSION"
	CodeAlreadyResolved     Code = "ALREADY_RESOLVED"
	CodeEntryNotFound       Code = "ENTRY_NOT_FOUND"
	CodeJokeNotFound        Code = "JOKE_NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// Kind groups codes by how a caller should react to them.
type Kind string

const (
	KindUserInput          Kind = "user_input"
	KindValidationFailure  Kind = "validation_failure"
	KindStateConflict      Kind = "state_conflict"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

func (c Code) Kind() Kind {
	switch c {
	case CodeFilterConflict, CodeInvalidRange, CodeUnknownCategory:
		return KindUserInput
	case CodeInvalidSubmission, CodeDuplicateSubmission:
		return KindValidationFailure
	case CodeAlreadyResolved:
		return KindStateConflict
	case CodeAmountExceeded:
		return KindResourceExhaustion
	case CodeEntryNotFound, CodeJokeNotFound:
		return KindNotFound
	default:
		return KindInternal
	}
}

type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

var (
	ErrFilterConflict      = New(CodeFilterConflict, "filter conflict")
	ErrInvalidRange        = New(CodeInvalidRange, "invalid id range")
	ErrUnknownCategory     = New(CodeUnknownCategory, "unknown category")
	ErrAmountExceeded      = New(CodeAmountExceeded, "requested amount exceeds maximum")
	ErrInvalidSubmission   = New(CodeInvalidSubmission, "submission is invalid")
	ErrDuplicateSubmission = New(CodeDuplicateSubmission, "duplicate submission")
	ErrAlreadyResolved     = New(CodeAlreadyResolved, "entry already resolved")
	ErrEntryNotFound       = New(CodeEntryNotFound, "cache entry not found")
	ErrJokeNotFound        = New(CodeJokeNotFound, "joke not found")
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if err == nil {
		return ""
	}
	return CodeInternal
}

// KindOf returns the taxonomy kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return CodeOf(err).Kind()
}
