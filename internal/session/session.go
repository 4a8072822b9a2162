// Package session keeps the post-login identity of an anonymous visitor.
//
// The record lives in the ephemeral cache store under session:<id>; the browser only
// holds an HS256-signed cookie naming that id.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/cache"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
	"github.com/fuomag9/dynamics-sync-lite/internal/secure"
)

const keyPrefix = "session:"

// DefaultCookieName is used when Options.CookieName is empty.
const DefaultCookieName = "dsl_session"

// Session is a visitor's authenticated identity.
type Session struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DisplayName string    `json:"display_name"`
	ExternalID  string    `json:"external_id"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsAuthenticated reports whether the session carries a token and an email and has
// not expired. A zero ExpiresAt never expires.
func (s *Session) IsAuthenticated(now time.Time) bool {
	if s == nil || s.AccessToken == "" || s.Email == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || s.ExpiresAt.After(now)
}

// record is the stored form; the access token is sealed.
type record struct {
	Session
	SealedToken string `json:"sealed_token"`
}

// Options configures a Manager.
type Options struct {
	Secret     string
	CookieName string
	// Secure marks the cookie HTTPS-only.
	Secure     bool
	DefaultTTL time.Duration
	Now        func() time.Time
}

// Manager establishes, reads and destroys sessions.
type Manager struct {
	store      cache.Store
	sealer     *secure.Sealer
	signingKey []byte
	cookieName string
	secure     bool
	defaultTTL time.Duration
	now        func() time.Time
}

// NewManager creates a Manager backed by store.
func NewManager(store cache.Store, opts Options) (*Manager, error) {
	sealer, err := secure.NewSealer(opts.Secret, "session")
	if err != nil {
		return nil, err
	}
	m := &Manager{
		store:      store,
		sealer:     sealer,
		signingKey: []byte(opts.Secret),
		cookieName: opts.CookieName,
		secure:     opts.Secure,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Now,
	}
	if m.cookieName == "" {
		m.cookieName = DefaultCookieName
	}
	if m.defaultTTL <= 0 {
		m.defaultTTL = time.Hour
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string { return m.cookieName }

// Establish stores a new session for profile and sets the cookie on w. A non-positive
// expiresIn falls back to the default lifetime.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, profile oauth.Profile, accessToken string, expiresIn int) (*Session, error) {
	if profile.Email == "" {
		return nil, apperrors.NewValidationError("email", "is required")
	}
	if accessToken == "" {
		return nil, apperrors.NewValidationError("access_token", "is required")
	}

	ttl := time.Duration(expiresIn) * time.Second
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.now()
	sess := Session{
		ID:          uuid.NewString(),
		Email:       profile.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		DisplayName: profile.DisplayName,
		ExternalID:  profile.ExternalID,
		AccessToken: accessToken,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}

	sealed, err := m.sealer.Seal(accessToken)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(record{Session: sess, SealedToken: sealed})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, keyPrefix+sess.ID, raw, ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	cookie, err := m.signCookie(sess.ID, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    cookie,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return &sess, nil
}

// Current returns the request's session, or ErrAuthRequired when there is no valid one.
func (m *Manager) Current(ctx context.Context, r *http.Request) (*Session, error) {
	id, ok := m.sessionID(r)
	if !ok {
		return nil, apperrors.ErrAuthRequired
	}

	raw, found, err := m.store.Get(ctx, keyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !found {
		return nil, apperrors.ErrAuthRequired
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Warn().Err(err).Msg("Session: Discarding unreadable record")
		return nil, apperrors.ErrAuthRequired
	}
	token, err := m.sealer.Open(rec.SealedToken)
	if err != nil {
		log.Warn().Msg("Session: Stored token cannot be opened, secret rotated?")
		return nil, apperrors.ErrAuthRequired
	}

	sess := rec.Session
	sess.AccessToken = token
	if !sess.IsAuthenticated(m.now()) {
		return nil, apperrors.ErrAuthRequired
	}
	return &sess, nil
}

// IsAuthenticated reports whether r carries a valid session.
func (m *Manager) IsAuthenticated(ctx context.Context, r *http.Request) bool {
	sess, err := m.Current(ctx, r)
	return err == nil && sess != nil
}

// Destroy removes the session record and expires the cookie. It is safe to call
// without a session.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	id, ok := m.sessionID(r)
	if !ok {
		return nil
	}
	return m.store.Delete(ctx, keyPrefix+id)
}

func (m *Manager) signCookie(id string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        id,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(m.now()),
	})
	return token.SignedString(m.signingKey)
}

// sessionID extracts the session id from a valid cookie.
func (m *Manager) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			log.Debug().Err(err).Msg("Session: Rejected cookie")
		}
		return "", false
	}
	if claims.ID == "" {
		return "", false
	}
	return claims.ID, true
}
