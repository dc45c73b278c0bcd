package httpapi

import (
	"encoding/json"
	"net/http"

	"perfd/internal/adaptive"
	"perfd/internal/device"
	"perfd/internal/engine"
	"perfd/internal/manager"
	"perfd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case manager.IsInsufficientMemory(err):
		return http.StatusInsufficientStorage
	case manager.IsComplexityTooHigh(err):
		return http.StatusUnprocessableEntity
	case manager.IsLoaderFailure(err):
		return http.StatusBadGateway
	case adaptive.IsNotInitialized(err), device.IsProbeUnavailable(err):
		return http.StatusServiceUnavailable
	case engine.IsTooBusy(err):
		return http.StatusTooManyRequests
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
