package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	"github.com/fuomag9/dynamics-sync-lite/internal/config"
	"github.com/fuomag9/dynamics-sync-lite/internal/dynamics"
	"github.com/fuomag9/dynamics-sync-lite/internal/identity"
	"github.com/fuomag9/dynamics-sync-lite/internal/logging"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
	"github.com/fuomag9/dynamics-sync-lite/internal/profile"
	"github.com/fuomag9/dynamics-sync-lite/internal/session"
	"github.com/fuomag9/dynamics-sync-lite/internal/settings"
)

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	Config     *config.Config
	Provider   oauth.Provider
	Sessions   *session.Manager
	Profiles   *profile.Service
	Contacts   dynamics.ContactAPI
	Settings   *settings.Service
	Identities identity.Store
	Activity   *activity.Recorder
	// WebhookLimiter throttles /webhook per source IP when set.
	WebhookLimiter *RateLimiter
	// Health reports backing store readiness; nil means always healthy.
	Health func(ctx context.Context) error
}

// Targets derives the post-login and failure redirects from cfg.
func Targets(cfg *config.Config) RedirectTargets {
	t := RedirectTargets{PostLogin: cfg.OAuth.PostLoginURL, Failure: cfg.OAuth.FailureURL}
	if t.PostLogin == "" {
		t.PostLogin = "/"
	}
	if t.Failure == "" {
		t.Failure = t.PostLogin
	}
	return t
}

// NewRouter creates a new HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	targets := Targets(cfg)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", WebhookSecretHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(deps.Sessions.Middleware)
	r.Use(RequestInfoMiddleware)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", HandleOAuthAuthorize(deps.Provider, targets, deps.Activity))
		r.Get("/callback", HandleOAuthCallback(deps.Provider, deps.Sessions, deps.Identities, targets, deps.Activity))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", HandleSessionStatus())
		r.Post("/logout", HandleLogout(deps.Sessions, targets.PostLogin, deps.Activity))

		// Visitor routes
		r.Group(func(r chi.Router) {
			r.Use(RequireSession)
			r.Post("/profile/get", HandleGetProfile(deps.Profiles, deps.Activity))
			r.Post("/profile/update", HandleUpdateProfile(deps.Profiles, deps.Activity))
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Get("/settings", HandleGetSettings(deps.Settings))
			r.Put("/settings", HandleUpdateSettings(deps.Settings, deps.Activity))
			r.Post("/test-connection", HandleTestConnection(deps.Contacts, deps.Activity))
			r.Get("/logs", HandleGetLogs(deps.Activity))
			r.Get("/logs/stats", HandleGetLogStats(deps.Activity))
			r.Delete("/logs", HandleClearLogs(deps.Activity))
		})
	})

	r.Group(func(r chi.Router) {
		if deps.WebhookLimiter != nil {
			r.Use(RateLimitMiddleware(deps.WebhookLimiter))
		}
		r.Post("/webhook", HandleWebhook(deps.Settings, deps.Identities, deps.Activity))
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, envelope{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, envelope{"status": "ok", "demo_mode": cfg.DemoMode})
	})

	return r
}
