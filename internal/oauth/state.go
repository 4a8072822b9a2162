package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/fuomag9/dynamics-sync-lite/internal/cache"
)

// StateTTL is how long an issued state stays redeemable.
const StateTTL = 10 * time.Minute

const stateKeyPrefix = "oauth_state:"

// StateStore issues single-use OAuth state values for CSRF protection.
type StateStore struct {
	store cache.Store
	now   func() time.Time
}

// NewStateStore creates a StateStore on top of store.
func NewStateStore(store cache.Store, now func() time.Time) *StateStore {
	if now == nil {
		now = time.Now
	}
	return &StateStore{store: store, now: now}
}

// GenerateState generates a random state parameter for CSRF protection
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates and records a fresh state.
func (s *StateStore) Issue(ctx context.Context) (string, error) {
	state, err := GenerateState()
	if err != nil {
		return "", err
	}
	created := strconv.FormatInt(s.now().Unix(), 10)
	if err := s.store.Set(ctx, stateKeyPrefix+state, []byte(created), StateTTL); err != nil {
		return "", fmt.Errorf("failed to store state: %w", err)
	}
	return state, nil
}

// Consume removes state and reports whether it was live. A state can be consumed once.
func (s *StateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	_, ok, err := s.store.Take(ctx, stateKeyPrefix+state)
	if err != nil {
		return false, fmt.Errorf("failed to consume state: %w", err)
	}
	return ok, nil
}
