package activity

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/fuomag9/dynamics-sync-lite/internal/errors"
	"github.com/fuomag9/dynamics-sync-lite/internal/models"
)

// Filter selects a page of log entries, newest first.
type Filter struct {
	Level  string
	Limit  int
	Offset int
}

// Repository stores activity log entries.
type Repository interface {
	Insert(ctx context.Context, e *models.LogEntry) error
	List(ctx context.Context, f Filter) ([]models.LogEntry, int64, error)
	Stats(ctx context.Context, now time.Time) (*models.LogStats, error)
	Clear(ctx context.Context) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormRepository keeps entries in the activity_logs table.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a GormRepository.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Insert(ctx context.Context, e *models.LogEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *GormRepository) List(ctx context.Context, f Filter) ([]models.LogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.LogEntry{})
	if f.Level != "" {
		query = query.Where("level = ?", f.Level)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrapf(err, "failed to count log entries")
	}

	var entries []models.LogEntry
	err := query.Order("created_at DESC").Order("id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, apperrors.Wrapf(err, "failed to list log entries")
	}
	return entries, total, nil
}

func (r *GormRepository) Stats(ctx context.Context, now time.Time) (*models.LogStats, error) {
	stats := &models.LogStats{ByLevel: make(map[string]int64)}
	db := r.db.WithContext(ctx).Model(&models.LogEntry{})

	var rows []struct {
		Level string
		Count int64
	}
	if err := db.Select("level, COUNT(*) AS count").Group("level").Scan(&rows).Error; err != nil {
		return nil, apperrors.Wrapf(err, "failed to aggregate log levels")
	}
	for _, row := range rows {
		stats.ByLevel[row.Level] = row.Count
		stats.Total += row.Count
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := r.db.WithContext(ctx).Model(&models.LogEntry{}).
		Where("created_at >= ?", startOfDay).Count(&stats.Today).Error; err != nil {
		return nil, apperrors.Wrapf(err, "failed to count today's log entries")
	}
	if err := r.db.WithContext(ctx).Model(&models.LogEntry{}).
		Where("created_at >= ?", now.AddDate(0, 0, -7)).Count(&stats.LastWeek).Error; err != nil {
		return nil, apperrors.Wrapf(err, "failed to count last week's log entries")
	}
	return stats, nil
}

func (r *GormRepository) Clear(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.LogEntry{})
	return result.RowsAffected, result.Error
}

func (r *GormRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.LogEntry{})
	return result.RowsAffected, result.Error
}
