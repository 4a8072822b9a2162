package settings

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/dynamics-sync-lite/internal/config"
	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
	"github.com/fuomag9/dynamics-sync-lite/internal/secure"
)

type memoryRepository struct {
	mu     sync.RWMutex
	record *models.Settings
	saves  int
}

func (r *memoryRepository) Get(context.Context) (*models.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.record == nil {
		return nil, apperrors.ErrNotFound
	}
	c := *r.record
	return &c, nil
}

func (r *memoryRepository) Save(_ context.Context, s *models.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	if c.ID == 0 {
		c.ID = 1
	}
	r.record = &c
	r.saves++
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{Port: 8080, AppURL: "https://portal.example.com"}
	cfg.OAuth.ClientID = "client-id"
	cfg.OAuth.ClientSecret = "client-secret"
	cfg.OAuth.TenantID = "tenant"
	cfg.Dynamics.ResourceURL = "https://org.crm.dynamics.com"
	cfg.Dynamics.APIVersion = "9.2"
	cfg.Webhook.Secret = "hook-secret"
	cfg.ActivityLog.Enabled = true
	return cfg
}

func newTestService(t *testing.T) (*Service, *memoryRepository) {
	t.Helper()
	sealer, err := secure.NewSealer(strings.Repeat("k", 32), "settings")
	require.NoError(t, err)
	repo := &memoryRepository{}
	svc := NewService(repo, sealer)
	require.NoError(t, svc.Seed(context.Background(), testConfig()))
	return svc, repo
}

func TestService_SeedSealsSecrets(t *testing.T) {
	svc, repo := newTestService(t)

	stored := repo.record
	require.NotNil(t, stored)
	assert.NotEqual(t, "client-secret", stored.ClientSecret)
	assert.NotEmpty(t, stored.ClientSecret)
	assert.NotEqual(t, "hook-secret", stored.WebhookSecret)
	assert.Equal(t, "https://org.crm.dynamics.com/", stored.ResourceURL)
	assert.Equal(t, "https://portal.example.com/oauth/callback", stored.RedirectURL)

	creds, err := svc.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client-secret", creds.ClientSecret)
	assert.Equal(t, "tenant", creds.TenantID)

	secret, err := svc.WebhookSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hook-secret", secret)
}

func TestService_SeedIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t)

	cfg := testConfig()
	cfg.OAuth.ClientID = "other"
	require.NoError(t, svc.Seed(context.Background(), cfg))

	assert.Equal(t, 1, repo.saves)
	assert.Equal(t, "client-id", repo.record.ClientID)
}

func TestService_ViewMasksSecrets(t *testing.T) {
	svc, _ := newTestService(t)

	view, err := svc.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maskedText, view.ClientSecret)
	assert.Equal(t, maskedText, view.WebhookSecret)
	assert.True(t, view.ClientSecretSet)
	assert.True(t, view.Configured)
}

func TestService_ApplyKeepsSecretsWhenEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	empty := ""
	version := "9.1"
	disabled := false
	_, err := svc.Apply(ctx, Update{ClientSecret: &empty, APIVersion: &version, LoggingEnabled: &disabled})
	require.NoError(t, err)

	creds, err := svc.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "client-secret", creds.ClientSecret)

	endpoint, err := svc.Endpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9.1", endpoint.APIVersion)
	assert.False(t, svc.LoggingEnabled(ctx))
}

func TestService_ApplyRotatesSecret(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rotated := "  new-secret "
	_, err := svc.Apply(ctx, Update{WebhookSecret: &rotated})
	require.NoError(t, err)

	secret, err := svc.WebhookSecret(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-secret", secret)
}

func TestService_ApplyValidates(t *testing.T) {
	svc, repo := newTestService(t)

	insecure := "http://org.crm.dynamics.com"
	_, err := svc.Apply(context.Background(), Update{ResourceURL: &insecure})
	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 1, repo.saves)
}

func TestService_ApplyRejectsPrivateResource(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	internal := "https://10.0.0.5"
	_, err := svc.Apply(ctx, Update{ResourceURL: &internal})
	var validationErr *apperrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "resource_url", validationErr.Field)
	assert.Equal(t, 1, repo.saves)

	svc.AllowPrivateHosts = true
	view, err := svc.Apply(ctx, Update{ResourceURL: &internal})
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.5/", view.ResourceURL)
}

func TestService_CurrentNotSeeded(t *testing.T) {
	sealer, err := secure.NewSealer(strings.Repeat("k", 32), "settings")
	require.NoError(t, err)
	svc := NewService(&memoryRepository{}, sealer)

	_, err = svc.Current(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.True(t, svc.LoggingEnabled(context.Background()))
}

func TestNormalizeResourceURL(t *testing.T) {
	assert.Equal(t, "", normalizeResourceURL("  "))
	assert.Equal(t, "https://org.crm.dynamics.com/", normalizeResourceURL("https://org.crm.dynamics.com///"))
}
