package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// Validate is the shared payload validator.
var Validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError describes one invalid payload field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// DecodeJSON decodes the request body into dst and runs struct validation.
// Unknown fields are rejected. The returned AppError carries a 400 status for
// malformed bodies and 422 for failed validation rules.
func DecodeJSON(r *http.Request, dst any) *AppError {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return NewAppError(CodeBadRequest, "request body is required", http.StatusBadRequest, err)
		}
		return NewAppError(CodeBadRequest, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest, err)
	}
	if err := Validate.Struct(dst); err != nil {
		return ValidationAppError(err)
	}
	return nil
}

// ValidationAppError converts validator errors into the canonical 422 error.
func ValidationAppError(err error) *AppError {
	appErr := NewAppError(CodeValidation, "payload failed validation", http.StatusUnprocessableEntity, err)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: lowerFirst(fe.Field()), Rule: fe.Tag()})
		}
		appErr.Details = map[string]any{"fields": fields}
	}
	return appErr
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
