// Package identity records the visitors who have signed in and the Dynamics contact
// each one resolved to.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
	"github.com/fuomag9/dynamics-sync-lite/internal/oauth"
)

// Store is the identity persistence used by the callback, profile and webhook paths.
type Store interface {
	// RecordLogin creates or refreshes the identity for a signed-in profile.
	RecordLogin(ctx context.Context, p oauth.Profile) error
	// FindByEmail returns apperrors.ErrNotFound when nobody signed in with email.
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	// LinkContact stores contactID on the identity for email and marks it synced. An
	// empty contactID only marks it synced. It reports whether an identity matched; no
	// match is not an error.
	LinkContact(ctx context.Context, email, contactID string) (bool, error)
}

// NormalizeEmail lowercases and trims an address for use as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GormStore keeps identities in the identities table.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) RecordLogin(ctx context.Context, p oauth.Profile) error {
	now := s.now().UTC()
	row := models.Identity{
		Email:       NormalizeEmail(p.Email),
		ExternalID:  p.ExternalID,
		DisplayName: p.DisplayName,
		LastLoginAt: &now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"external_id", "display_name", "last_login_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return apperrors.Wrapf(err, "failed to record login")
	}
	return nil
}

func (s *GormStore) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	var row models.Identity
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to load identity")
	}
	return &row, nil
}

func (s *GormStore) LinkContact(ctx context.Context, email, contactID string) (bool, error) {
	now := s.now().UTC()
	changes := map[string]interface{}{
		"last_synced_at": now,
		"updated_at":     now,
	}
	if contactID != "" {
		changes["contact_id"] = contactID
	}
	result := s.db.WithContext(ctx).Model(&models.Identity{}).
		Where("email = ?", NormalizeEmail(email)).
		Updates(changes)
	if result.Error != nil {
		return false, apperrors.Wrapf(result.Error, "failed to link contact")
	}
	return result.RowsAffected > 0, nil
}

// ProfileLinker adapts a Store to the profile service, which does not care whether
// an identity matched.
type ProfileLinker struct {
	Store Store
}

func (l ProfileLinker) LinkContact(ctx context.Context, email, contactID string) error {
	_, err := l.Store.LinkContact(ctx, email, contactID)
	return err
}
