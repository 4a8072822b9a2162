// Package settings owns the configuration record shared by the OAuth and Dynamics clients.
package settings

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/config"
	"github.com/fuomag9/dynamics-sync-lite/internal/dynamics"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
	"github.com/fuomag9/dynamics-sync-lite/internal/secure"
)

const (
	cacheTTL   = 30 * time.Second
	maskedText = "********"
)

// Update is a partial settings change. Nil fields are kept; an empty secret keeps the
// stored one.
type Update struct {
	ClientID       *string `json:"client_id"`
	ClientSecret   *string `json:"client_secret"`
	TenantID       *string `json:"tenant_id"`
	ResourceURL    *string `json:"resource_url"`
	APIVersion     *string `json:"api_version"`
	RedirectURL    *string `json:"redirect_url"`
	LoggingEnabled *bool   `json:"logging_enabled"`
	WebhookSecret  *string `json:"webhook_secret"`
}

// View is the admin representation with secrets masked.
type View struct {
	ClientID         string    `json:"client_id"`
	ClientSecret     string    `json:"client_secret"`
	ClientSecretSet  bool      `json:"client_secret_set"`
	TenantID         string    `json:"tenant_id"`
	ResourceURL      string    `json:"resource_url"`
	APIVersion       string    `json:"api_version"`
	RedirectURL      string    `json:"redirect_url"`
	LoggingEnabled   bool      `json:"logging_enabled"`
	WebhookSecret    string    `json:"webhook_secret"`
	WebhookSecretSet bool      `json:"webhook_secret_set"`
	Configured       bool      `json:"configured"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Service reads and writes settings, sealing secrets at rest.
type Service struct {
	repo   Repository
	sealer *secure.Sealer
	now    func() time.Time

	// AllowPrivateHosts lets the admin point the resource URL at internal
	// addresses. Set before first use.
	AllowPrivateHosts bool

	mu       sync.RWMutex
	cached   *models.Settings // secrets opened
	loadedAt time.Time
}

var (
	_ oauth.CredentialsSource = (*Service)(nil)
	_ dynamics.EndpointSource = (*Service)(nil)
)

// NewService creates a Service.
func NewService(repo Repository, sealer *secure.Sealer) *Service {
	return &Service{repo: repo, sealer: sealer, now: time.Now}
}

// Seed writes the initial record from cfg when none exists yet.
func (s *Service) Seed(ctx context.Context, cfg *config.Config) error {
	_, err := s.repo.Get(ctx)
	if err == nil {
		return nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	record := &models.Settings{
		ClientID:       cfg.OAuth.ClientID,
		TenantID:       cfg.OAuth.TenantID,
		ResourceURL:    normalizeResourceURL(cfg.Dynamics.ResourceURL),
		APIVersion:     cfg.Dynamics.APIVersion,
		RedirectURL:    cfg.CallbackURL(),
		LoggingEnabled: cfg.ActivityLog.Enabled,
	}
	if record.APIVersion == "" {
		record.APIVersion = "9.2"
	}
	if record.ClientSecret, err = s.sealer.Seal(cfg.OAuth.ClientSecret); err != nil {
		return err
	}
	if record.WebhookSecret, err = s.sealer.Seal(cfg.Webhook.Secret); err != nil {
		return err
	}

	if err := s.repo.Save(ctx, record); err != nil {
		return err
	}
	log.Info().Bool("configured", cfg.OAuth.ClientID != "" && cfg.Dynamics.ResourceURL != "").Msg("Settings: Seeded from environment")
	return nil
}

// Current returns the settings with secrets in clear text. The result is a copy.
func (s *Service) Current(ctx context.Context) (*models.Settings, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.loadedAt) < cacheTTL {
		c := *s.cached
		s.mu.RUnlock()
		return &c, nil
	}
	s.mu.RUnlock()

	stored, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	opened, err := s.open(stored)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = opened
	s.loadedAt = s.now()
	s.mu.Unlock()

	c := *opened
	return &c, nil
}

func (s *Service) open(stored *models.Settings) (*models.Settings, error) {
	opened := *stored
	var err error
	if opened.ClientSecret, err = s.sealer.Open(stored.ClientSecret); err != nil {
		return nil, apperrors.Wrapf(err, "client secret")
	}
	if opened.WebhookSecret, err = s.sealer.Open(stored.WebhookSecret); err != nil {
		return nil, apperrors.Wrapf(err, "webhook secret")
	}
	return &opened, nil
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Credentials implements oauth.CredentialsSource.
func (s *Service) Credentials(ctx context.Context) (oauth.Credentials, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return oauth.Credentials{}, err
	}
	return oauth.Credentials{
		ClientID:     cur.ClientID,
		ClientSecret: cur.ClientSecret,
		TenantID:     cur.TenantID,
		ResourceURL:  cur.ResourceURL,
		RedirectURL:  cur.RedirectURL,
	}, nil
}

// Endpoint implements dynamics.EndpointSource.
func (s *Service) Endpoint(ctx context.Context) (dynamics.Endpoint, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return dynamics.Endpoint{}, err
	}
	return dynamics.Endpoint{ResourceURL: cur.ResourceURL, APIVersion: cur.APIVersion}, nil
}

// WebhookSecret returns the shared webhook secret, "" when unset.
func (s *Service) WebhookSecret(ctx context.Context) (string, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	return cur.WebhookSecret, nil
}

// LoggingEnabled reports whether activity should be persisted. Unreadable settings
// count as enabled.
func (s *Service) LoggingEnabled(ctx context.Context) bool {
	cur, err := s.Current(ctx)
	if err != nil {
		return true
	}
	return cur.LoggingEnabled
}

// View returns the masked settings.
func (s *Service) View(ctx context.Context) (*View, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return toView(cur), nil
}

// Apply validates and stores u, returning the masked result.
func (s *Service) Apply(ctx context.Context, u Update) (*View, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}

	next := *cur
	setTrimmed(&next.ClientID, u.ClientID)
	setTrimmed(&next.TenantID, u.TenantID)
	setTrimmed(&next.APIVersion, u.APIVersion)
	setTrimmed(&next.RedirectURL, u.RedirectURL)
	if u.ResourceURL != nil {
		next.ResourceURL = normalizeResourceURL(*u.ResourceURL)
	}
	if u.LoggingEnabled != nil {
		next.LoggingEnabled = *u.LoggingEnabled
	}
	if u.ClientSecret != nil && strings.TrimSpace(*u.ClientSecret) != "" {
		next.ClientSecret = strings.TrimSpace(*u.ClientSecret)
	}
	if u.WebhookSecret != nil && strings.TrimSpace(*u.WebhookSecret) != "" {
		next.WebhookSecret = strings.TrimSpace(*u.WebhookSecret)
	}

	if err := next.Validate(); err != nil {
		return nil, apperrors.NewValidationError("settings", err.Error())
	}
	if next.ResourceURL != "" && next.ResourceURL != cur.ResourceURL {
		if err := CheckUpstreamHost(next.ResourceURL, s.AllowPrivateHosts); err != nil {
			return nil, apperrors.NewValidationError("resource_url", err.Error())
		}
	}

	sealed := next
	if sealed.ClientSecret, err = s.sealer.Seal(next.ClientSecret); err != nil {
		return nil, err
	}
	if sealed.WebhookSecret, err = s.sealer.Seal(next.WebhookSecret); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, &sealed); err != nil {
		return nil, err
	}
	s.invalidate()

	next.UpdatedAt = sealed.UpdatedAt
	return toView(&next), nil
}

func toView(cur *models.Settings) *View {
	return &View{
		ClientID:         cur.ClientID,
		ClientSecret:     mask(cur.ClientSecret),
		ClientSecretSet:  cur.ClientSecret != "",
		TenantID:         cur.TenantID,
		ResourceURL:      cur.ResourceURL,
		APIVersion:       cur.APIVersion,
		RedirectURL:      cur.RedirectURL,
		LoggingEnabled:   cur.LoggingEnabled,
		WebhookSecret:    mask(cur.WebhookSecret),
		WebhookSecretSet: cur.WebhookSecret != "",
		Configured:       cur.ClientID != "" && cur.ClientSecret != "" && cur.TenantID != "" && cur.ResourceURL != "",
		UpdatedAt:        cur.UpdatedAt,
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return maskedText
}

func setTrimmed(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

// normalizeResourceURL trims whitespace and guarantees a trailing slash.
func normalizeResourceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.TrimRight(raw, "/") + "/"
}
