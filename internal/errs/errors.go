package errs

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies a failure reported to callers of the fulfillment engine.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeInsufficientStock      Code = "INSUFFICIENT_STOCK"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeIllegalPaymentState    Code = "ILLEGAL_PAYMENT_STATE"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Metadata describes how a code is surfaced over HTTP and whether a caller may retry.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:             {HTTPStatus: http.StatusBadRequest},
	CodeInsufficientStock:      {HTTPStatus: http.StatusConflict},
	CodeInvalidTransition:      {HTTPStatus: http.StatusUnprocessableEntity},
	CodeUnauthorized:           {HTTPStatus: http.StatusForbidden},
	CodeConcurrentModification: {HTTPStatus: http.StatusConflict, Retryable: true},
	CodeIllegalPaymentState:    {HTTPStatus: http.StatusUnprocessableEntity},
	CodeNotFound:               {HTTPStatus: http.StatusNotFound},
	CodeInternal:               {HTTPStatus: http.StatusInternalServerError, Retryable: true},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded, recoverable-by-caller failure.
type Error struct {
	code    Code
	message string
	details map[string]any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// With attaches a context value (order id, attempted transition, current status...).
func (e *Error) With(key string, value any) *Error {
	if e == nil {
		return nil
	}
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code, so errors.Is(err, errs.ErrInvalidTransition) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation             = New(CodeValidation, "validation failed")
	ErrInsufficientStock      = New(CodeInsufficientStock, "insufficient stock")
	ErrInvalidTransition      = New(CodeInvalidTransition, "invalid transition")
	ErrUnauthorized           = New(CodeUnauthorized, "unauthorized")
	ErrConcurrentModification = New(CodeConcurrentModification, "concurrent modification")
	ErrIllegalPaymentState    = New(CodeIllegalPaymentState, "illegal payment state")
	ErrNotFound               = New(CodeNotFound, "not found")
)

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

func IsRetryable(err error) bool {
	return MetadataFor(CodeOf(err)).Retryable
}
