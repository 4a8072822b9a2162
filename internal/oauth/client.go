package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/logging"
)

// DefaultGraphURL is the Microsoft Graph v1.0 base.
const DefaultGraphURL = "https://graph.microsoft.com/v1.0"

// ClientOptions configures a live Client.
type ClientOptions struct {
	// RedirectURL is the fixed callback URL registered for the app.
	RedirectURL string
	// AuthorityURL overrides https://login.microsoftonline.com (sovereign clouds, tests).
	AuthorityURL string
	GraphURL     string
	Timeout      time.Duration
}

// Client handles the Microsoft identity platform grants
type Client struct {
	creds        CredentialsSource
	states       *StateStore
	tokens       *TokenCache
	httpClient   *http.Client
	redirectURL  string
	authorityURL string
	graphURL     string
}

var _ Provider = (*Client)(nil)

// NewClient creates a live OAuth client
func NewClient(creds CredentialsSource, states *StateStore, tokens *TokenCache, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	graphURL := strings.TrimRight(opts.GraphURL, "/")
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}

	return &Client{
		creds:        creds,
		states:       states,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: timeout},
		redirectURL:  opts.RedirectURL,
		authorityURL: strings.TrimRight(opts.AuthorityURL, "/"),
		graphURL:     graphURL,
	}
}

func (c *Client) endpoint(tenant string) oauth2.Endpoint {
	ep := microsoft.AzureADEndpoint(tenant)
	if c.authorityURL != "" {
		ep.AuthURL = c.authorityURL + "/" + tenant + "/oauth2/v2.0/authorize"
		ep.TokenURL = c.authorityURL + "/" + tenant + "/oauth2/v2.0/token"
	}
	// client_secret travels in the form body, as the v2.0 endpoint expects.
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

func (c *Client) loginConfig(creds Credentials) *oauth2.Config {
	redirectURL := c.redirectURL
	if creds.RedirectURL != "" {
		redirectURL = creds.RedirectURL
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     c.endpoint(creds.TenantID),
		RedirectURL:  redirectURL,
		Scopes:       LoginScopes,
	}
}

// withHTTPClient makes x/oauth2 use our timeout-bound client.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizationURL issues a fresh state and returns the authorize endpoint URL.
func (c *Client) AuthorizationURL(ctx context.Context) (string, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return "", err
	}
	if creds.ClientID == "" || creds.TenantID == "" {
		return "", apperrors.ErrNotConfigured
	}

	state, err := c.states.Issue(ctx)
	if err != nil {
		return "", err
	}

	return c.loginConfig(creds).AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query")), nil
}

// HandleCallback validates the redirect, exchanges the code and fetches the visitor profile.
func (c *Client) HandleCallback(ctx context.Context, query url.Values) (*CallbackResult, error) {
	code, err := checkCallback(ctx, c.states, query)
	if err != nil {
		return nil, err
	}

	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, apperrors.NewAuthError(apperrors.ReasonTokenExchangeFailed, "credentials unavailable", err)
	}

	token, err := c.loginConfig(creds).Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, tokenExchangeError(err)
	}

	log.Debug().Str("token", logging.Fingerprint(token.AccessToken)).Msg("OAuth: Authorization code exchanged")

	profile, err := c.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &CallbackResult{
		Profile:     *profile,
		AccessToken: token.AccessToken,
		ExpiresIn:   expiresInSeconds(token),
	}, nil
}

// AppToken returns a client-credentials bearer token for the Dynamics resource,
// served from the token cache while valid.
func (c *Client) AppToken(ctx context.Context) (string, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return "", err
	}
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.TenantID == "" || creds.ResourceURL == "" {
		return "", apperrors.ErrNotConfigured
	}

	scope := strings.TrimRight(creds.ResourceURL, "/") + "/.default"
	if token, ok := c.tokens.Get(ctx, creds.TenantID, creds.ClientID, creds.ClientSecret, scope); ok {
		return token, nil
	}

	ep := c.endpoint(creds.TenantID)
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     ep.TokenURL,
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	token, err := cc.Token(c.withHTTPClient(ctx))
	if err != nil {
		return "", tokenExchangeError(err)
	}

	expiresIn := expiresInSeconds(token)
	if err := c.tokens.Store(ctx, creds.TenantID, creds.ClientID, creds.ClientSecret, scope, token.AccessToken, expiresIn); err != nil {
		log.Warn().Err(err).Msg("OAuth: Failed to cache application token")
	}

	log.Info().Int("expires_in", expiresIn).Msg("OAuth: Application token obtained")
	return token.AccessToken, nil
}

// graphUser is the subset of the Graph /me response we read.
type graphUser struct {
	ID                string  `json:"id"`
	DisplayName       string  `json:"displayName"`
	GivenName         string  `json:"givenName"`
	Surname           string  `json:"surname"`
	Mail              *string `json:"mail"`
	UserPrincipalName *string `json:"userPrincipalName"`
}

// fetchProfile fetches the signed-in user from the Graph /me endpoint.
func (c *Client) fetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL+"/me", http.NoBody)
	if err != nil {
		return nil, apperrors.NewAuthError(apperrors.ReasonProfileFetchFailed, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewAuthError(apperrors.ReasonProfileFetchFailed, "",
			&apperrors.TransportError{Op: "GET /me", Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewAuthError(apperrors.ReasonProfileFetchFailed, "",
			&apperrors.TransportError{Op: "GET /me", Err: err})
	}

	var user graphUser
	if err := json.Unmarshal(body, &user); err != nil {
		log.Warn().Int("status", resp.StatusCode).Msg("OAuth: Profile response is not JSON")
	}

	email := firstNonEmpty(user.Mail, user.UserPrincipalName)
	if email == "" {
		return nil, apperrors.NewAuthError(apperrors.ReasonNoEmail,
			fmt.Sprintf("profile response (status %d) has neither mail nor userPrincipalName", resp.StatusCode), nil)
	}

	return &Profile{
		Email:       email,
		FirstName:   user.GivenName,
		LastName:    user.Surname,
		DisplayName: user.DisplayName,
		ExternalID:  user.ID,
	}, nil
}

// checkCallback applies the redirect checks shared by the live and demo providers.
// The state is consumed before anything else so it can never be replayed.
func checkCallback(ctx context.Context, states *StateStore, query url.Values) (string, error) {
	stateValid, err := states.Consume(ctx, query.Get("state"))
	if err != nil {
		return "", apperrors.NewAuthError(apperrors.ReasonInvalidState, "state store unavailable", err)
	}

	if providerErr := query.Get("error"); providerErr != "" {
		desc := query.Get("error_description")
		if desc == "" {
			desc = "Authentication failed"
		}
		return "", apperrors.NewAuthError(apperrors.ReasonProviderError, providerErr+": "+desc, nil)
	}

	code := query.Get("code")
	if code == "" {
		return "", apperrors.NewAuthError(apperrors.ReasonMissingCode, "", nil)
	}

	if !stateValid {
		return "", apperrors.NewAuthError(apperrors.ReasonInvalidState, "", nil)
	}

	return code, nil
}

// tokenExchangeError maps any token endpoint failure to token_exchange_failed,
// keeping the upstream error code and description.
func tokenExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		desc := strings.TrimSpace(retrieveErr.ErrorCode + ": " + retrieveErr.ErrorDescription)
		if retrieveErr.ErrorCode == "" {
			desc = strings.TrimSpace(string(retrieveErr.Body))
		}
		return apperrors.NewAuthError(apperrors.ReasonTokenExchangeFailed,
			fmt.Sprintf("token endpoint returned %d: %s", status, desc), nil)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperrors.NewAuthError(apperrors.ReasonTokenExchangeFailed, "",
			&apperrors.TransportError{Op: "POST token", Err: urlErr})
	}

	return apperrors.NewAuthError(apperrors.ReasonTokenExchangeFailed, "", err)
}

// expiresInSeconds reads the raw expires_in value, falling back to the parsed expiry.
func expiresInSeconds(token *oauth2.Token) int {
	switch v := token.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if !token.Expiry.IsZero() {
		return int(time.Until(token.Expiry).Seconds())
	}
	return 0
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
