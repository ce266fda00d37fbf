package model

import (
	"errors"
	"fmt"
)

// Client-facing error codes. NotFound, Expired, InvalidState and
// ValidationError must stay distinguishable all the way to the HTTP layer.
const (
	ErrNotFound          = "NOT_FOUND"
	ErrExpired           = "EXPIRED"
	ErrInvalidState      = "INVALID_STATE"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrDependencyFailure = "DEPENDENCY_FAILURE"
)

// Transport and infrastructure error codes.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrForbidden     = "FORBIDDEN"
	ErrConflict      = "CONFLICT"
	ErrInternalError = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard error returned by services and rendered by
// the transport layer. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewExpiredError returns an EXPIRED error.
func NewExpiredError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrExpired, Message: msg}
}

// NewInvalidStateError returns an INVALID_STATE error.
func NewInvalidStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidState, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewFieldValidationError is shorthand for a single-field VALIDATION_ERROR.
func NewFieldValidationError(field, code, msg string) *ErrorEnvelope {
	return NewValidationError([]FieldError{{Field: field, Code: code, Message: msg}})
}

// NewDependencyFailureError returns a DEPENDENCY_FAILURE naming the
// collaborator that failed.
func NewDependencyFailureError(dependency string, cause error) *ErrorEnvelope {
	msg := dependency + " is unavailable"
	if cause != nil {
		msg = fmt.Sprintf("%s failed: %v", dependency, cause)
	}
	return &ErrorEnvelope{Code: ErrDependencyFailure, Message: msg}
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewConflictError returns a CONFLICT error. Stores use it to report a lost
// optimistic-lock race; services retry on it rather than surfacing it.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// CodeOf returns the envelope code carried by err, or "" if err does not
// wrap an *ErrorEnvelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsCode reports whether err wraps an *ErrorEnvelope with the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
