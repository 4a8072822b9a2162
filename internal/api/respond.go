package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
)

// envelope is the {success, message, ...} shape the browser endpoints return.
type envelope map[string]interface{}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{"success": false, "message": message})
}

// writeError maps err onto a status code and a message safe to show a visitor.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *apperrors.ValidationError
	switch {
	case apperrors.Is(err, apperrors.ErrAuthRequired):
		writeFailure(w, http.StatusUnauthorized, "Authentication required")
	case apperrors.As(err, &validationErr):
		writeFailure(w, http.StatusBadRequest, validationErr.Message)
	case apperrors.Is(err, apperrors.ErrNotConfigured):
		writeFailure(w, http.StatusServiceUnavailable, "Dynamics 365 connection is not configured")
	case apperrors.IsUpstream(err):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Upstream request failed")
		writeFailure(w, http.StatusBadGateway, "Unable to reach Dynamics 365. Please try again later.")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeFailure(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
