package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/cache"
)

// TokenSafetyMargin is subtracted from the issuer lifetime so a cached token never
// expires in the middle of a request.
const TokenSafetyMargin = 300 * time.Second

// TokenCache holds one bearer token per credential set.
type TokenCache struct {
	store cache.Store
	now   func() time.Time
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCache creates a TokenCache on top of store.
func NewTokenCache(store cache.Store, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{store: store, now: now}
}

// Get returns the cached token for the credential set while it is still valid.
func (c *TokenCache) Get(ctx context.Context, tenant, clientID, clientSecret, scope string) (string, bool) {
	raw, ok, err := c.store.Get(ctx, tokenKey(tenant, clientID, clientSecret, scope))
	if err != nil {
		log.Warn().Err(err).Msg("Token cache read failed")
		return "", false
	}
	if !ok {
		return "", false
	}

	var entry cachedToken
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Token == "" {
		return "", false
	}
	if !c.now().Before(entry.ExpiresAt) {
		return "", false
	}
	return entry.Token, true
}

// Store caches token for expiresIn seconds minus TokenSafetyMargin, floored at zero.
// A zero lifetime stores nothing.
func (c *TokenCache) Store(ctx context.Context, tenant, clientID, clientSecret, scope, token string, expiresIn int) error {
	ttl := time.Duration(expiresIn)*time.Second - TokenSafetyMargin
	if ttl < 0 {
		ttl = 0
	}

	key := tokenKey(tenant, clientID, clientSecret, scope)
	if ttl == 0 {
		return c.store.Delete(ctx, key)
	}

	raw, err := json.Marshal(cachedToken{Token: token, ExpiresAt: c.now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, raw, ttl)
}

// tokenKey hashes the credential set so the client secret never appears in a key.
func tokenKey(tenant, clientID, clientSecret, scope string) string {
	sum := sha256.Sum256([]byte(tenant + "|" + clientID + "|" + clientSecret + "|" + scope))
	return "token:" + hex.EncodeToString(sum[:])
}
