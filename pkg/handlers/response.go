// Package handlers contains the HTTP surface of adpilot-engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adpilot-io/adpilot-engine/pkg/ads"
	"github.com/adpilot-io/adpilot-engine/pkg/apperrors"
)

// TenantMiddleware wires a tenant-scoped DB connection into the
// request context. Defined here so handlers don't import the database
// package directly.
type TenantMiddleware func(http.HandlerFunc) http.HandlerFunc

// ApiResponse is the standard response envelope.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// statusForError maps service errors to HTTP status and error code.
// Guardrail violations are 422: the request was well-formed, the
// proposed change is not allowed. Platform failures are 502.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrUnsupportedOperation):
		return http.StatusBadRequest, "unsupported_operation"
	case errors.Is(err, apperrors.ErrPreconditionFailed):
		return http.StatusBadRequest, "precondition_failed"
	case errors.Is(err, apperrors.ErrNoActiveAccount):
		return http.StatusBadRequest, "no_active_account"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrGuardrailViolation):
		return http.StatusUnprocessableEntity, "guardrail_violation"
	}

	var gwErr *ads.GatewayError
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway, "ads_gateway_error"
	}

	return http.StatusInternalServerError, "internal_error"
}
