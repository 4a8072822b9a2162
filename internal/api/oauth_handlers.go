package api

import (
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/identity"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
	"github.com/fuomag9/dynamics-sync-lite/internal/session"
)

// Failure reasons that do not come from the OAuth flow itself.
const (
	reasonNotConfigured = "not_configured"
	reasonServerError   = "server_error"
)

// RedirectTargets are where the browser lands after the callback.
type RedirectTargets struct {
	PostLogin string
	Failure   string
}

// HandleOAuthAuthorize redirects the visitor to the identity provider
func HandleOAuthAuthorize(provider oauth.Provider, targets RedirectTargets, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := provider.AuthorizationURL(r.Context())
		if err != nil {
			reason := reasonServerError
			if apperrors.Is(err, apperrors.ErrNotConfigured) {
				reason = reasonNotConfigured
			}
			log.Error().Err(err).Msg("OAuth: Failed to build authorization URL")
			recorder.Error(r.Context(), "OAuth login could not start", activity.Fields{"reason": reason})
			http.Redirect(w, r, withQuery(targets.Failure, "oauth_error", reason), http.StatusFound)
			return
		}

		log.Debug().Msg("OAuth: Redirecting to authorization URL")
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// HandleOAuthCallback completes the sign-in and establishes the visitor session
func HandleOAuthCallback(provider oauth.Provider, sessions *session.Manager, identities identity.Store, targets RedirectTargets, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		result, err := provider.HandleCallback(ctx, r.URL.Query())
		if err != nil {
			reason := apperrors.AuthReason(err)
			if reason == "" {
				reason = reasonServerError
			}
			log.Warn().Err(err).Str("reason", reason).Msg("OAuth: Callback failed")
			recorder.Error(ctx, "OAuth login failed", activity.Fields{"reason": reason, "error": err.Error()})
			http.Redirect(w, r, withQuery(targets.Failure, "oauth_error", reason), http.StatusFound)
			return
		}

		sess, err := sessions.Establish(ctx, w, result.Profile, result.AccessToken, result.ExpiresIn)
		if err != nil {
			log.Error().Err(err).Msg("OAuth: Failed to establish session")
			recorder.Error(ctx, "OAuth login failed", activity.Fields{"reason": reasonServerError})
			http.Redirect(w, r, withQuery(targets.Failure, "oauth_error", reasonServerError), http.StatusFound)
			return
		}

		if err := identities.RecordLogin(ctx, result.Profile); err != nil {
			log.Warn().Err(err).Msg("OAuth: Failed to record identity")
		}

		ctx = activity.WithRequestInfo(ctx, sess.Email, clientIP(r))
		recorder.Success(ctx, "OAuth login successful", activity.Fields{"display_name": sess.DisplayName})

		http.Redirect(w, r, targets.PostLogin, http.StatusFound)
	}
}

// withQuery appends key=value to target, keeping any query it already has.
func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "/?" + url.Values{key: {value}}.Encode()
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
