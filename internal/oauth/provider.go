package oauth

import (
	"context"
	"net/url"
)

// LoginScopes are requested on the visitor sign-in redirect.
var LoginScopes = []string{"openid", "profile", "email", "User.Read"}

// Credentials are the app registration values needed by both grants.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	// ResourceURL is the Dynamics organisation URL; the client-credentials scope is derived from it.
	ResourceURL string
	// RedirectURL overrides the callback URL the client was built with.
	RedirectURL string
}

// CredentialsSource yields the current credentials. Settings may change at runtime,
// so callers ask on every flow instead of capturing values at construction.
type CredentialsSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Profile is the normalised identity of a signed-in visitor.
type Profile struct {
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	ExternalID  string `json:"external_id"`
}

// CallbackResult is produced by a successful callback.
type CallbackResult struct {
	Profile     Profile
	AccessToken string
	// ExpiresIn is the issuer-assigned lifetime in seconds.
	ExpiresIn int
}

// Provider runs the visitor sign-in flow. Live talks to the Microsoft identity
// platform; Demo short-circuits it with a fixed identity.
type Provider interface {
	AuthorizationURL(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, query url.Values) (*CallbackResult, error)
}
