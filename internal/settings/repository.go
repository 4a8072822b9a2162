package settings

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
)

// Repository persists the single settings record.
type Repository interface {
	// Get returns apperrors.ErrNotFound before the record is seeded.
	Get(ctx context.Context) (*models.Settings, error)
	Save(ctx context.Context, s *models.Settings) error
}

// GormRepository stores settings in the settings table.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Get(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	err := r.db.WithContext(ctx).Order("id ASC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to load settings")
	}
	return &s, nil
}

func (r *GormRepository) Save(ctx context.Context, s *models.Settings) error {
	if err := r.db.WithContext(ctx).Save(s).Error; err != nil {
		return apperrors.Wrapf(err, "failed to save settings")
	}
	return nil
}
