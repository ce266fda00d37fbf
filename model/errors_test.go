package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "contract link not found"}
	want := "NOT_FOUND: contract link not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestConstructors_codes(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrorEnvelope
		want string
	}{
		{"not found", NewNotFoundError("x"), ErrNotFound},
		{"expired", NewExpiredError("x"), ErrExpired},
		{"invalid state", NewInvalidStateError("x"), ErrInvalidState},
		{"validation", NewValidationError(nil), ErrValidationError},
		{"field validation", NewFieldValidationError("f", "REQUIRED", "x"), ErrValidationError},
		{"dependency", NewDependencyFailureError("mailer", nil), ErrDependencyFailure},
		{"bad request", NewBadRequestError("x"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("x"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("x"), ErrForbidden},
		{"conflict", NewConflictError("x"), ErrConflict},
		{"internal", NewInternalError(), ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.want {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.want)
			}
		})
	}
}

func TestNewValidationError_details(t *testing.T) {
	details := []FieldError{
		{Field: "email", Code: "REQUIRED", Message: "Email is required"},
	}
	e := NewValidationError(details)
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "email" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "email")
	}
}

func TestNewDependencyFailureError_message(t *testing.T) {
	e := NewDependencyFailureError("credential provider", errors.New("timeout"))
	want := "credential provider failed: timeout"
	if e.Message != want {
		t.Errorf("Message = %q, want %q", e.Message, want)
	}
}

func TestIsCode_wrapped(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NewExpiredError("link expired"))
	if !IsCode(err, ErrExpired) {
		t.Error("IsCode(wrapped expired, EXPIRED) = false, want true")
	}
	if IsCode(err, ErrNotFound) {
		t.Error("IsCode(wrapped expired, NOT_FOUND) = true, want false")
	}
}

func TestCodeOf_plainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if IsCode(nil, ErrNotFound) {
		t.Error("IsCode(nil) = true, want false")
	}
}
