package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	"github.com/fuomag9/dynamics-sync-lite/internal/identity"
)

// WebhookSecretHeader carries the shared webhook secret.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecretSource returns the configured webhook secret.
type WebhookSecretSource interface {
	WebhookSecret(ctx context.Context) (string, error)
}

type webhookPayload struct {
	Email     string `json:"emailaddress1"`
	ContactID string `json:"contactid"`
}

// HandleWebhook records a Dynamics contact id against the matching local identity.
// The response never reveals whether the email matched.
func HandleWebhook(secrets WebhookSecretSource, identities identity.Store, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		secret, err := secrets.WebhookSecret(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if secret == "" {
			writeFailure(w, http.StatusInternalServerError, "Webhook secret not configured")
			return
		}

		provided := r.Header.Get(WebhookSecretHeader)
		if provided == "" {
			recorder.Error(ctx, "Webhook request missing secret header", nil)
			writeFailure(w, http.StatusForbidden, "Forbidden")
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			recorder.Error(ctx, "Webhook secret mismatch", nil)
			writeFailure(w, http.StatusForbidden, "Forbidden")
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
		if err != nil {
			writeFailure(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		raw = bytes.TrimSpace(raw)

		var payload webhookPayload
		if len(raw) == 0 || string(raw) == "{}" || json.Unmarshal(raw, &payload) != nil {
			recorder.Error(ctx, "Webhook received empty payload", nil)
			writeFailure(w, http.StatusBadRequest, "Empty payload")
			return
		}

		email := identity.NormalizeEmail(payload.Email)
		if email == "" || !strings.Contains(email, "@") {
			recorder.Error(ctx, "Webhook missing email address", nil)
			writeFailure(w, http.StatusBadRequest, "Missing email address")
			return
		}

		contactID := strings.TrimSpace(payload.ContactID)
		matched, err := identities.LinkContact(ctx, email, contactID)
		if err != nil {
			log.Error().Err(err).Msg("Webhook: Failed to record contact id")
			writeFailure(w, http.StatusInternalServerError, "An unexpected error occurred")
			return
		}

		if matched {
			recorder.Success(ctx, "Webhook processed", activity.Fields{"contact_id": contactID})
		} else {
			recorder.Info(ctx, "Webhook received for unknown identity", nil)
		}

		writeJSON(w, http.StatusOK, envelope{"success": true, "message": "Webhook processed"})
	}
}
