package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNetwork         = errors.New("network failure")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidPageSize = errors.New("page size must be positive")
)

// FieldError describes one rejected field in a validation response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned for every non-2xx response. It unwraps to the
// sentinel matching its status, so callers can use errors.Is.
type APIError struct {
	Status      int
	Method      string
	Path        string
	Message     string
	FieldErrors []FieldError
	kind        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: status %d", e.Method, e.Path, e.Status)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, fe := range e.FieldErrors {
		fmt.Fprintf(&b, "; %s: %s", fe.Field, fe.Message)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.kind }

// errorBody covers the error shapes the backends emit: echo's
// {"message": ...} and the validation form with an errors array.
type errorBody struct {
	Message string       `json:"message"`
	Error   string       `json:"error"`
	Errors  []FieldError `json:"errors"`
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{Status: status, Method: method, Path: path}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		e.Message = eb.Message
		if e.Message == "" {
			e.Message = eb.Error
		}
		e.FieldErrors = eb.Errors
	} else if len(body) > 0 {
		e.Message = strings.TrimSpace(string(body))
	}
	e.kind = classify(status, len(e.FieldErrors) > 0)
	return e
}

func classify(status int, hasFieldErrors bool) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	}
	if status >= 400 && status < 500 && hasFieldErrors {
		return ErrValidation
	}
	return nil
}
