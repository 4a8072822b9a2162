package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/dynamics-sync-lite/internal/cache"
)

func TestTokenCache_Lifetime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tc := NewTokenCache(cache.NewMemoryStore(clock), clock)
	ctx := context.Background()

	require.NoError(t, tc.Store(ctx, "t", "c", "s", "scope", "tok", 3600))

	token, ok := tc.Get(ctx, "t", "c", "s", "scope")
	require.True(t, ok)
	assert.Equal(t, "tok", token)

	now = now.Add(3299 * time.Second)
	_, ok = tc.Get(ctx, "t", "c", "s", "scope")
	assert.True(t, ok)

	now = now.Add(51 * time.Second)
	_, ok = tc.Get(ctx, "t", "c", "s", "scope")
	assert.False(t, ok, "token must be gone 3350s after issue")
}

func TestTokenCache_ShortLifetimeIsNotCached(t *testing.T) {
	tc := NewTokenCache(cache.NewMemoryStore(nil), nil)
	ctx := context.Background()

	for _, expiresIn := range []int{0, 120, 300} {
		require.NoError(t, tc.Store(ctx, "t", "c", "s", "scope", "tok", expiresIn))
		_, ok := tc.Get(ctx, "t", "c", "s", "scope")
		assert.False(t, ok, "expires_in=%d", expiresIn)
	}
}

func TestTokenCache_ShortLifetimeDropsPreviousToken(t *testing.T) {
	tc := NewTokenCache(cache.NewMemoryStore(nil), nil)
	ctx := context.Background()

	require.NoError(t, tc.Store(ctx, "t", "c", "s", "scope", "old", 3600))
	require.NoError(t, tc.Store(ctx, "t", "c", "s", "scope", "new", 60))

	_, ok := tc.Get(ctx, "t", "c", "s", "scope")
	assert.False(t, ok)
}

func TestTokenCache_KeyedByCredentialSet(t *testing.T) {
	tc := NewTokenCache(cache.NewMemoryStore(nil), nil)
	ctx := context.Background()

	require.NoError(t, tc.Store(ctx, "t", "c", "s", "scope", "tok", 3600))

	_, ok := tc.Get(ctx, "t", "c", "rotated-secret", "scope")
	assert.False(t, ok)
	_, ok = tc.Get(ctx, "other-tenant", "c", "s", "scope")
	assert.False(t, ok)
	_, ok = tc.Get(ctx, "t", "c", "s", "other/.default")
	assert.False(t, ok)
}

func TestTokenKey_HidesSecret(t *testing.T) {
	key := tokenKey("tenant", "client", "super-secret", "scope")
	assert.NotContains(t, key, "super-secret")
	assert.Equal(t, key, tokenKey("tenant", "client", "super-secret", "scope"))
}
