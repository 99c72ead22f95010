// Package errors turns service and optimization errors into HTTP responses.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/copyleftdev/autopeq/internal/optimization"
)

// Sentinel errors of the job API.
var (
	ErrNotFound    = stderrors.New("optimization not found")
	ErrConflict    = stderrors.New("optimization already finished")
	ErrBadRequest  = stderrors.New("bad request")
	ErrUnavailable = stderrors.New("service shutting down")
)

var internalText = http.StatusText(http.StatusInternalServerError)

// Error is the JSON body of every failed REST response.
type Error struct {
	// Status is the HTTP status code, not serialized
	Status int `json:"-"`
	// Code is a stable machine-readable classification
	Code string `json:"code"`
	// Message is the human-readable error text
	Message string `json:"error"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// BadRequestf builds a 400 error for malformed requests.
func BadRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// From classifies err into an HTTP status and code. Optimization errors keep
// their Kind as the code; internal details are not leaked for 5xx errors.
func From(err error) *Error {
	var apiErr *Error
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case err == nil:
		return &Error{Status: http.StatusInternalServerError, Code: "internal", Message: internalText}
	case stderrors.Is(err, ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: "not_found", Message: err.Error()}
	case stderrors.Is(err, ErrConflict):
		return &Error{Status: http.StatusConflict, Code: "conflict", Message: err.Error()}
	case stderrors.Is(err, ErrBadRequest):
		return &Error{Status: http.StatusBadRequest, Code: "bad_request", Message: err.Error()}
	case stderrors.Is(err, ErrUnavailable):
		return &Error{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: err.Error()}
	}

	var optErr *optimization.Error
	if stderrors.As(err, &optErr) {
		switch optErr.Kind {
		case optimization.KindInvalidConfig, optimization.KindEmptyInput:
			return &Error{Status: http.StatusBadRequest, Code: string(optErr.Kind), Message: optErr.Error()}
		}
	}
	return &Error{Status: http.StatusInternalServerError, Code: "internal", Message: internalText}
}

// Write sends err as a JSON error body with its mapped status code.
func Write(w http.ResponseWriter, err error) *Error {
	e := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
	return e
}
