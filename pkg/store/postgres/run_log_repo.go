package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type RunLogRepository struct {
	db *gorm.DB
}

func NewRunLogRepository(db *gorm.DB) *RunLogRepository {
	return &RunLogRepository{db: db}
}

func (r *RunLogRepository) Start(ctx context.Context, jobName string, trigger model.TriggerType) (*model.RunLog, error) {
	run := &model.RunLog{
		JobName:     jobName,
		TriggerType: trigger,
		Status:      model.RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

const maxErrorMessageLen = 1500

func (r *RunLogRepository) Finish(ctx context.Context, runID uint, status model.RunStatus, counts model.RunLog, errorMessage, errorGroup string) error {
	if len(errorMessage) > maxErrorMessageLen {
		errorMessage = errorMessage[:maxErrorMessageLen]
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":          status,
		"finished_at":     &now,
		"records_seen":    counts.RecordsSeen,
		"new_records":     counts.NewRecords,
		"changed_records": counts.ChangedRecords,
		"created_alerts":  counts.CreatedAlerts,
		"retry_count":     counts.RetryCount,
		"summary":         counts.Summary,
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	if errorGroup != "" {
		updates["error_group"] = errorGroup
	}
	return r.db.WithContext(ctx).
		Model(&model.RunLog{}).
		Where("id = ?", runID).
		Updates(updates).Error
}

func (r *RunLogRepository) ListRecent(ctx context.Context, jobName string, limit int) ([]model.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Model(&model.RunLog{})
	if jobName != "" {
		query = query.Where("job_name = ?", jobName)
	}
	var runs []model.RunLog
	err := query.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
