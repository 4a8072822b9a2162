package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	"github.com/fuomag9/dynamics-sync-lite/internal/dynamics"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/settings"
)

// HandleGetSettings returns the settings record with secrets masked
func HandleGetSettings(svc *settings.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.View(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleUpdateSettings applies a partial settings update
func HandleUpdateSettings(svc *settings.Service, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settings.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFormBytes)).Decode(&req); err != nil {
			writeFailure(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		view, err := svc.Apply(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		recorder.Info(r.Context(), "Settings updated", activity.Fields{
			"client_id":       view.ClientID,
			"tenant_id":       view.TenantID,
			"resource_url":    view.ResourceURL,
			"api_version":     view.APIVersion,
			"logging_enabled": view.LoggingEnabled,
		})
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleTestConnection runs the smallest authenticated Dynamics query
func HandleTestConnection(contacts dynamics.ContactAPI, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
		defer cancel()

		if err := contacts.TestConnection(ctx); err != nil {
			recorder.Error(r.Context(), "Connection test failed", activity.Fields{"error": err.Error()})
			writeJSON(w, http.StatusOK, envelope{"success": false, "message": connectionFailureMessage(err)})
			return
		}

		recorder.Success(r.Context(), "Connection test successful", nil)
		writeJSON(w, http.StatusOK, envelope{"success": true, "message": "Connection successful!"})
	}
}

func connectionFailureMessage(err error) string {
	var apiErr *apperrors.APIError
	switch {
	case apperrors.Is(err, apperrors.ErrNotConfigured):
		return "Dynamics 365 connection is not configured"
	case apperrors.As(err, &apiErr):
		return "Dynamics 365 rejected the request: " + apiErr.Message
	case apperrors.AuthReason(err) != "":
		return "Failed to obtain an access token: " + err.Error()
	default:
		return "Connection failed: " + err.Error()
	}
}
