// Package apperror defines the application's error kinds.
//
// Every error a service returns to a handler is either an *AppError wrapping
// one of the sentinel kinds below, or an unexpected error. Callers decide
// what to do by checking the KIND with errors.Is, never by reading the
// message text:
//
//	if errors.Is(err, apperror.ErrUnavailable) { ... 503 ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("service unavailable")
	ErrUpstream     = errors.New("upstream error")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type AppError struct {
	Err     error        // error kind (one of the sentinels above)
	Message string       // safe, human-readable message
	Fields  []FieldError // optional per-field validation failures
	Cause   error        // underlying failure, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// NotFound is used for both "does not exist" and "not owned by caller" so the
// response never reveals whether someone else's snippet exists.
func NotFound(resource string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// Invalid bundles several field failures into one validation error.
func Invalid(fields []FieldError) *AppError {
	msg := "validation failed"
	if len(fields) == 1 {
		msg = fields[0].Message
	}
	return &AppError{
		Err:     ErrValidation,
		Message: msg,
		Fields:  fields,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable marks an optional feature whose backing service is not configured.
// HTTP handlers map this to 503.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}

// Upstream marks a failed call to an external service. The cause is kept for
// logging; only message reaches the client.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
		Cause:   cause,
	}
}
