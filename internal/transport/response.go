// Package transport contains the HTTP router, middleware chain, and request
// handlers for the admin and public signing APIs.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/onboard/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrForbidden:         http.StatusForbidden,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrExpired:           http.StatusGone,
	model.ErrInvalidState:      http.StatusConflict,
	model.ErrConflict:          http.StatusConflict,
	model.ErrValidationError:   http.StatusUnprocessableEntity,
	model.ErrDependencyFailure: http.StatusBadGateway,
	model.ErrInternalError:     http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for err. Errors that do not carry an
// ErrorEnvelope map to 500.
func StatusFor(err error) int {
	if status, ok := statusForCode[model.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as a JSON ErrorEnvelope with the matching status
// code. Errors that are not envelopes are rendered as a generic 500 so
// internal details never reach the client.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, err, "")
}

func writeError(w http.ResponseWriter, err error, traceID string) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	out := *ee
	if traceID != "" {
		out.TraceID = traceID
	}
	WriteJSON(w, status, errorResponse{Error: &out})
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}
