// Package apperr defines the error type the HTTP layer renders. Handlers and
// services return *Error when they know the status and machine code a client
// should see; everything else is treated as an internal error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a client-facing error with an HTTP status and a stable code.
type Error struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// New creates an error with the given status, code and message.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// BadRequest is returned for malformed input (bad JSON, bad query values).
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "bad_request", message)
}

// Validation reports per-field validation failures.
func Validation(fields map[string]string) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    "validation_failed",
		Message: "the given data was invalid",
		Fields:  fields,
	}
}

// Unprocessable reports a business rule violation with its own code.
func Unprocessable(code, message string) *Error {
	return New(http.StatusUnprocessableEntity, code, message)
}

// NotFound reports a missing entity.
func NotFound(entity string) *Error {
	return New(http.StatusNotFound, "not_found", entity+" not found")
}

// Conflict reports a uniqueness or state conflict.
func Conflict(message string) *Error {
	return New(http.StatusConflict, "conflict", message)
}

// Unauthorized reports missing or invalid credentials.
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "unauthenticated", message)
}

// Forbidden reports a permission failure.
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "forbidden", message)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
