package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tmcalister/rampart/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteJSON writes a JSON success response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteDomainError maps sentinel errors from the models package onto
// HTTP responses. Unknown errors become an opaque 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Resource conflict")
	case errors.Is(err, models.ErrSelfActionForbidden):
		WriteForbidden(w, "Action not permitted")
	case errors.Is(err, models.ErrAccountLocked):
		WriteForbidden(w, "Account is locked")
	case errors.Is(err, models.ErrSecondFactorNotEnabled):
		WriteBadRequest(w, "Second factor is not enabled for this account")
	case errors.Is(err, models.ErrAlertNotActive):
		WriteConflict(w, "Alert is not in a state that allows this action")
	default:
		WriteInternalError(w, "Internal server error")
	}
}
