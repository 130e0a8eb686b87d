package api

import (
	"errors"
	"net/http"

	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/models"
	"github.com/tripletake/tripletake/internal/validation"
)

// errorBody is the JSON envelope for every error response.
type errorBody struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Violations []validation.Violation `json:"violations,omitempty"`
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message},
	})
}

// respondDomainError maps domain sentinel errors to HTTP status codes and
// stable error codes. Unrecognized errors become 500 with a generic message;
// the full error is only logged server-side.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		respondJSON(w, http.StatusBadRequest, map[string]errorBody{
			"error": {
				Code:       models.CodeValidationFailed,
				Message:    "request validation failed",
				Violations: verrs,
			},
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidMetadata):
		respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, err.Error())
	case errors.Is(err, models.ErrIndexOutOfRange):
		respondError(w, http.StatusBadRequest, models.CodeIndexOutOfRange, err.Error())
	case errors.Is(err, models.ErrInvalidState):
		respondError(w, http.StatusConflict, models.CodeInvalidState, err.Error())
	case errors.Is(err, models.ErrIncomplete):
		respondError(w, http.StatusConflict, models.CodeIncomplete, err.Error())
	case errors.Is(err, models.ErrIntegrity):
		respondError(w, http.StatusUnprocessableEntity, models.CodeIntegrityError, err.Error())
	case errors.Is(err, models.ErrAccessDenied):
		respondError(w, http.StatusForbidden, models.CodeAccessDenied, "access denied")
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, models.CodeNotFound, "not found")
	default:
		logger.Ctx(r.Context()).Error("request failed", "error", err, "path", r.URL.Path)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
