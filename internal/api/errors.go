package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-reporter/internal/actuator"
	"github.com/nerrad567/gray-logic-reporter/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeRejected    = "command_rejected"
	ErrCodeConflict    = "conflict"
	ErrCodeUnavailable = "unavailable"
	ErrCodeInternal    = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorStatus maps the device error taxonomy to an HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, device.ErrCommandRejected):
		return http.StatusBadRequest, ErrCodeRejected
	case errors.Is(err, actuator.ErrClosed):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, device.ErrTimeout), errors.Is(err, device.ErrConnectivity):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
