package identity

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
)

// MemoryStore is a process-local Store for demo mode and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string]models.Identity
	nextID int64
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]models.Identity), now: time.Now}
}

func (s *MemoryStore) RecordLogin(_ context.Context, p oauth.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	key := NormalizeEmail(p.Email)
	row, ok := s.rows[key]
	if !ok {
		s.nextID++
		row = models.Identity{ID: s.nextID, Email: key, CreatedAt: now}
	}
	row.ExternalID = p.ExternalID
	row.DisplayName = p.DisplayName
	row.LastLoginAt = &now
	row.UpdatedAt = now
	s.rows[key] = row
	return nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[NormalizeEmail(email)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &row, nil
}

func (s *MemoryStore) LinkContact(_ context.Context, email, contactID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeEmail(email)
	row, ok := s.rows[key]
	if !ok {
		return false, nil
	}
	now := s.now().UTC()
	if contactID != "" {
		id := contactID
		row.ContactID = &id
	}
	row.LastSyncedAt = &now
	row.UpdatedAt = now
	s.rows[key] = row
	return true, nil
}
