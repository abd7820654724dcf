package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/obsrelay/internal/bridge"
)

// Error represents a structured error response. Error repeats Message for
// clients that only read the error field.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeOBSUnavailable = "obs_unavailable"
	ErrCodeUnknownInput   = "unknown_input"
	ErrCodeTimeout        = "timeout"
	ErrCodeProtocol       = "protocol_error"
	ErrCodeStopped        = "bridge_stopped"
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
		Error:   message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeIntentError maps a bridge failure onto a status and code.
func writeIntentError(w http.ResponseWriter, err error, message string) {
	status, code := intentStatus(bridge.ReasonOf(err))
	writeError(w, status, code, message)
}

// intentStatus returns the HTTP status and error code for a bridge reason.
func intentStatus(reason bridge.Reason) (int, string) {
	switch reason {
	case bridge.ReasonUnavailable:
		return http.StatusServiceUnavailable, ErrCodeOBSUnavailable
	case bridge.ReasonUnknownInput:
		return http.StatusNotFound, ErrCodeUnknownInput
	case bridge.ReasonTimeout:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case bridge.ReasonProtocol:
		return http.StatusBadGateway, ErrCodeProtocol
	case bridge.ReasonStopped:
		return http.StatusServiceUnavailable, ErrCodeStopped
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
