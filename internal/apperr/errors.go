// Package apperr carries request failures from the transcription pipeline
// to the HTTP boundary with a machine-readable code and a status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeMissingField       Code = "MISSING_FIELD"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeInferenceFailed    Code = "INFERENCE_FAILED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeTimeout            Code = "TIMEOUT"
	CodeInternal           Code = "INTERNAL_ERROR"
)

var retryableCodes = map[Code]bool{
	CodeServiceUnavailable: true,
	CodeTimeout:            true,
}

// Error is the pipeline's failure type. Message is safe to show clients.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with retryability derived from the code.
func New(code Code, message string, httpStatus int) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  retryableCodes[code],
	}
}

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func MissingField(field string) *Error {
	return New(CodeMissingField, fmt.Sprintf("missing required field: %s", field), http.StatusBadRequest)
}

func InvalidInput(reason string) *Error {
	return New(CodeInvalidInput, reason, http.StatusBadRequest)
}

func PayloadTooLarge(limit int64) *Error {
	return New(CodePayloadTooLarge, fmt.Sprintf("upload exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

// InferenceFailed keeps the engine's own message so clients see what broke.
func InferenceFailed(cause error) *Error {
	message := "inference failed"
	if cause != nil {
		message = cause.Error()
	}
	return New(CodeInferenceFailed, message, http.StatusInternalServerError).WithCause(cause)
}

func Unavailable(reason string, cause error) *Error {
	return New(CodeServiceUnavailable, reason, http.StatusServiceUnavailable).WithCause(cause)
}

func Timeout(operation string, cause error) *Error {
	return New(CodeTimeout, fmt.Sprintf("%s timed out", operation), http.StatusGatewayTimeout).WithCause(cause)
}

func Internal(cause error) *Error {
	return New(CodeInternal, "an unexpected error occurred", http.StatusInternalServerError).WithCause(cause)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From returns err as an *Error, treating anything untyped as internal.
func From(err error) *Error {
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err)
}

// IsInference reports whether err originated in the engine call.
func IsInference(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == CodeInferenceFailed
}
