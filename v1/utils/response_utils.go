package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/admitpath/portal-backend/v1/models"
)

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error": message,
		"code":  http.StatusText(statusCode),
	}

	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode success response", "error", err)
	}
}

// RespondWithServiceError maps service-layer sentinel errors onto HTTP status
// codes and writes the error response. Unrecognised errors become a 500 with
// a generic message so internal details never leak to clients.
func RespondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrForbidden):
		RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict):
		RespondWithError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Unhandled service error", "error", err)
		RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
