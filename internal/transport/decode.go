package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/onboard/internal/onboarding"
	"github.com/pitabwire/onboard/model"
)

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected as VALIDATION_ERROR; malformed bodies are BAD_REQUEST.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return model.NewBadRequestError("Request body must contain a single JSON object")
	}
	return nil
}

// decodeValid decodes dst and then checks its validate tags.
func decodeValid(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return onboarding.Validate(dst)
}

func decodeError(err error) error {
	var (
		maxErr   *http.MaxBytesError
		syntax   *json.SyntaxError
		typeErr  *json.UnmarshalTypeError
		parseErr *time.ParseError
	)
	switch {
	case errors.As(err, &maxErr):
		return model.NewBadRequestError(fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
	case errors.Is(err, io.EOF):
		return model.NewBadRequestError("Request body is empty")
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return model.NewBadRequestError("Request body is not valid JSON")
	case errors.As(err, &typeErr):
		return model.NewFieldValidationError(typeErr.Field, "type", "must be a "+typeErr.Type.String())
	case errors.As(err, &parseErr):
		return model.NewBadRequestError("Dates must be RFC 3339 timestamps")
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		field = strings.Trim(field, `"`)
		return model.NewFieldValidationError(field, "unknown", field+" is not a recognized field")
	}
	return model.NewBadRequestError("Invalid JSON body")
}
