package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/dynamics-sync-lite/internal/cache"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
)

const (
	testTenant       = "contoso-tenant"
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testResource     = "https://contoso.crm.dynamics.com/"
	testRedirect     = "https://portal.example.com/oauth/callback"
)

type staticCreds Credentials

func (s staticCreds) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

func testCreds() staticCreds {
	return staticCreds{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		TenantID:     testTenant,
		ResourceURL:  testResource,
	}
}

// fakeIdentityProvider serves the v2.0 token endpoint and Graph /me.
type fakeIdentityProvider struct {
	server        *httptest.Server
	tokenCalls    atomic.Int32
	tokenStatus   int
	tokenBody     string
	meStatus      int
	meBody        string
	lastTokenForm url.Values
	lastMeAuth    string
}

func newFakeIdentityProvider(t *testing.T) *fakeIdentityProvider {
	t.Helper()
	f := &fakeIdentityProvider{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"user-access-token","token_type":"Bearer","expires_in":3600}`,
		meStatus:    http.StatusOK,
		meBody:      `{"id":"graph-id-1","displayName":"Ada Lovelace","givenName":"Ada","surname":"Lovelace","mail":"ada@example.com","userPrincipalName":"ada@contoso.onmicrosoft.com"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+testTenant+"/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		f.lastTokenForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = w.Write([]byte(f.tokenBody))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		f.lastMeAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.meStatus)
		_, _ = w.Write([]byte(f.meBody))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type testHarness struct {
	idp    *fakeIdentityProvider
	store  *cache.MemoryStore
	states *StateStore
	client *Client
	now    time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	h.idp = newFakeIdentityProvider(t)
	h.store = cache.NewMemoryStore(clock)
	h.states = NewStateStore(h.store, clock)
	h.client = NewClient(testCreds(), h.states, NewTokenCache(h.store, clock), ClientOptions{
		RedirectURL:  testRedirect,
		AuthorityURL: h.idp.server.URL,
		GraphURL:     h.idp.server.URL,
		Timeout:      5 * time.Second,
	})
	return h
}

func (h *testHarness) issueState(t *testing.T) string {
	t.Helper()
	state, err := h.states.Issue(context.Background())
	require.NoError(t, err)
	return state
}

func TestClient_AuthorizationURL(t *testing.T) {
	h := newHarness(t)

	raw, err := h.client.AuthorizationURL(context.Background())
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "/"+testTenant+"/oauth2/v2.0/authorize", parsed.Path)
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, testRedirect, q.Get("redirect_uri"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, "openid profile email User.Read", q.Get("scope"))
	require.NotEmpty(t, q.Get("state"))

	ok, err := h.states.Consume(context.Background(), q.Get("state"))
	require.NoError(t, err)
	assert.True(t, ok, "state from the URL must be redeemable")
}

func TestClient_AuthorizationURL_DefaultAuthority(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	client := NewClient(testCreds(), NewStateStore(store, nil), NewTokenCache(store, nil), ClientOptions{RedirectURL: testRedirect})

	raw, err := client.AuthorizationURL(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://login.microsoftonline.com/"+testTenant+"/oauth2/v2.0/authorize?"))
}

func TestClient_AuthorizationURL_NotConfigured(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	client := NewClient(staticCreds{}, NewStateStore(store, nil), NewTokenCache(store, nil), ClientOptions{})

	_, err := client.AuthorizationURL(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)
}

func TestClient_HandleCallback_Success(t *testing.T) {
	h := newHarness(t)
	state := h.issueState(t)

	result, err := h.client.HandleCallback(context.Background(), url.Values{
		"code":  {"auth-code-1"},
		"state": {state},
	})
	require.NoError(t, err)

	assert.Equal(t, "user-access-token", result.AccessToken)
	assert.Equal(t, 3600, result.ExpiresIn)
	assert.Equal(t, Profile{
		Email:       "ada@example.com",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DisplayName: "Ada Lovelace",
		ExternalID:  "graph-id-1",
	}, result.Profile)

	form := h.idp.lastTokenForm
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code-1", form.Get("code"))
	assert.Equal(t, testRedirect, form.Get("redirect_uri"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, testClientSecret, form.Get("client_secret"))
	assert.Equal(t, "Bearer user-access-token", h.idp.lastMeAuth)
}

func TestClient_HandleCallback_UserPrincipalNameFallback(t *testing.T) {
	h := newHarness(t)
	h.idp.meBody = `{"id":"g2","displayName":"Grace","mail":null,"userPrincipalName":"grace@contoso.onmicrosoft.com"}`

	result, err := h.client.HandleCallback(context.Background(), url.Values{
		"code":  {"c"},
		"state": {h.issueState(t)},
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@contoso.onmicrosoft.com", result.Profile.Email)
}

func TestClient_HandleCallback_Failures(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(h *testHarness)
		query         func(h *testHarness, t *testing.T) url.Values
		reason        string
		messageSubstr string
		tokenCalls    int32
	}{
		{
			name: "provider error",
			query: func(h *testHarness, t *testing.T) url.Values {
				return url.Values{"error": {"access_denied"}, "error_description": {"User cancelled"}, "state": {h.issueState(t)}}
			},
			reason:        apperrors.ReasonProviderError,
			messageSubstr: "User cancelled",
		},
		{
			name: "missing code",
			query: func(h *testHarness, t *testing.T) url.Values {
				return url.Values{"state": {h.issueState(t)}}
			},
			reason: apperrors.ReasonMissingCode,
		},
		{
			name: "unknown state",
			query: func(h *testHarness, t *testing.T) url.Values {
				return url.Values{"code": {"c"}, "state": {"forged"}}
			},
			reason: apperrors.ReasonInvalidState,
		},
		{
			name: "expired state",
			query: func(h *testHarness, t *testing.T) url.Values {
				state := h.issueState(t)
				h.now = h.now.Add(StateTTL + time.Second)
				return url.Values{"code": {"c"}, "state": {state}}
			},
			reason: apperrors.ReasonInvalidState,
		},
		{
			name: "token endpoint rejects client",
			setup: func(h *testHarness) {
				h.idp.tokenStatus = http.StatusBadRequest
				h.idp.tokenBody = `{"error":"invalid_client","error_description":"AADSTS7000215: Invalid client secret provided."}`
			},
			query: func(h *testHarness, t *testing.T) url.Values {
				return url.Values{"code": {"c"}, "state": {h.issueState(t)}}
			},
			reason:        apperrors.ReasonTokenExchangeFailed,
			messageSubstr: "invalid_client",
			tokenCalls:    1,
		},
		{
			name: "token response without access token",
			setup: func(h *testHarness) {
				h.idp.tokenBody = `{"token_type":"Bearer"}`
			},
			query: func(h *testHarness, t *testing.T) url.Values {
				return url.Values{"code": {"c"}, "state": {h.issueState(t)}}
			},
			reason:     apperrors.ReasonTokenExchangeFailed,
			tokenCalls: 1,
		},
		{
			name: "profile without email",
			setup: func(h *testHarness) {
				h.idp.meBody = `{"id":"g3","displayName":"No Mail"}`
			},
			query: func(h *testHarness, t *testing.T) url.Values {
				return url.Values{"code": {"c"}, "state": {h.issueState(t)}}
			},
			reason:     apperrors.ReasonNoEmail,
			tokenCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			_, err := h.client.HandleCallback(context.Background(), tt.query(h, t))
			require.Error(t, err)

			var authErr *apperrors.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.reason, authErr.Reason)
			if tt.messageSubstr != "" {
				assert.Contains(t, err.Error(), tt.messageSubstr)
			}
			assert.Equal(t, tt.tokenCalls, h.idp.tokenCalls.Load())
		})
	}
}

func TestClient_HandleCallback_StateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	state := h.issueState(t)
	query := url.Values{"code": {"c"}, "state": {state}}

	_, err := h.client.HandleCallback(context.Background(), query)
	require.NoError(t, err)

	_, err = h.client.HandleCallback(context.Background(), query)
	require.Error(t, err)
	assert.Equal(t, apperrors.ReasonInvalidState, apperrors.AuthReason(err))
}

func TestClient_HandleCallback_StateConsumedOnFailure(t *testing.T) {
	h := newHarness(t)
	h.idp.tokenStatus = http.StatusBadRequest
	h.idp.tokenBody = `{"error":"invalid_grant"}`
	state := h.issueState(t)

	_, err := h.client.HandleCallback(context.Background(), url.Values{"code": {"c"}, "state": {state}})
	require.Error(t, err)

	ok, err := h.states.Consume(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_HandleCallback_TokenEndpointUnreachable(t *testing.T) {
	h := newHarness(t)
	h.idp.server.Close()

	_, err := h.client.HandleCallback(context.Background(), url.Values{"code": {"c"}, "state": {h.issueState(t)}})
	require.Error(t, err)

	assert.Equal(t, apperrors.ReasonTokenExchangeFailed, apperrors.AuthReason(err))
	var transportErr *apperrors.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestClient_AppToken_UsesCache(t *testing.T) {
	h := newHarness(t)
	h.idp.tokenBody = `{"access_token":"app-token-1","token_type":"Bearer","expires_in":3600}`

	first, err := h.client.AppToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-token-1", first)

	form := h.idp.lastTokenForm
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "https://contoso.crm.dynamics.com/.default", form.Get("scope"))
	assert.Equal(t, testClientSecret, form.Get("client_secret"))

	h.now = h.now.Add(time.Hour - TokenSafetyMargin - time.Second)
	second, err := h.client.AppToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), h.idp.tokenCalls.Load(), "second call within ttl must not hit the network")

	h.idp.tokenBody = `{"access_token":"app-token-2","token_type":"Bearer","expires_in":3600}`
	h.now = h.now.Add(2 * time.Second)
	third, err := h.client.AppToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-token-2", third)
	assert.Equal(t, int32(2), h.idp.tokenCalls.Load())
}

func TestClient_AppToken_Failure(t *testing.T) {
	h := newHarness(t)
	h.idp.tokenStatus = http.StatusUnauthorized
	h.idp.tokenBody = `{"error":"unauthorized_client","error_description":"client is disabled"}`

	_, err := h.client.AppToken(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ReasonTokenExchangeFailed, apperrors.AuthReason(err))
	assert.Contains(t, err.Error(), "client is disabled")
}

func TestClient_AppToken_NotConfigured(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	creds := testCreds()
	creds.ResourceURL = ""
	client := NewClient(creds, NewStateStore(store, nil), NewTokenCache(store, nil), ClientOptions{})

	_, err := client.AppToken(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotConfigured)
}

func TestGraphUser_NullMail(t *testing.T) {
	var u graphUser
	require.NoError(t, json.Unmarshal([]byte(`{"mail":null,"userPrincipalName":"x@y"}`), &u))
	assert.Equal(t, "x@y", firstNonEmpty(u.Mail, u.UserPrincipalName))
}
