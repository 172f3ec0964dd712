package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// RecentUnresolved reports whether an unresolved alert with the same
// (source_type, error_group) exists inside the cooldown window. Used to
// suppress alert storms from a recurring failure.
func (r *AlertRepository) RecentUnresolved(ctx context.Context, sourceType, errorGroup string, since time.Time) (bool, error) {
	var alert model.Alert
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND error_group = ? AND resolved = false AND created_at >= ?",
			sourceType, errorGroup, since).
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *AlertRepository) ListUnresolved(ctx context.Context, kind model.AlertKind, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Where("resolved = false")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	var alerts []model.Alert
	err := query.Order("created_at DESC").Limit(limit).Find(&alerts).Error
	return alerts, err
}
