// Package httputil keeps JSON response writing consistent across handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"tracient/pkg/platform/sentinel"
)

// ErrorResponse is the wire shape for every handler failure. Operators get a
// stable machine-readable code plus a human description; internal errors omit
// the description so no stack detail leaks.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps sentinel errors onto HTTP statuses and writes a structured
// error body. Unknown errors become an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", ErrorDescription: err.Error()})
	case errors.Is(err, sentinel.ErrInvalidState):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: "invalid_state", ErrorDescription: err.Error()})
	case errors.Is(err, sentinel.ErrConflict):
		WriteJSON(w, http.StatusConflict, ErrorResponse{Error: "conflict", ErrorDescription: err.Error()})
	case errors.Is(err, sentinel.ErrUnavailable):
		WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "unavailable", ErrorDescription: err.Error()})
	default:
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}

// WriteBadRequest reports a request parsing or validation failure.
func WriteBadRequest(w http.ResponseWriter, description string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", ErrorDescription: description})
}
