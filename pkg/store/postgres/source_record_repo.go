package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type SourceRecordRepository struct {
	db *gorm.DB
}

func NewSourceRecordRepository(db *gorm.DB) *SourceRecordRepository {
	return &SourceRecordRepository{db: db}
}

// Get returns the stored record for (sourceType, sourceID), or nil when the
// entity has never been observed.
func (r *SourceRecordRepository) Get(ctx context.Context, sourceType, sourceID string) (*model.SourceRecord, error) {
	var record model.SourceRecord
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert writes the record keyed on (source_type, source_id). Identity
// columns are left untouched on conflict; only business fields and the
// fingerprint are overwritten.
func (r *SourceRecordRepository) Upsert(ctx context.Context, record *model.SourceRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_type"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_name", "company_name", "dept_name", "job_position",
			"status", "status_msg", "code_name",
			"ds_date", "gc_date", "sjc_date", "update_time",
			"payload", "payload_hash", "last_seen_at", "updated_at",
		}),
	}).Create(record).Error
}

// TouchLastSeen is the UNCHANGED path: it advances last_seen_at and nothing
// else.
func (r *SourceRecordRepository) TouchLastSeen(ctx context.Context, sourceType, sourceID string, seenAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.SourceRecord{}).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		Updates(map[string]interface{}{"last_seen_at": seenAt, "updated_at": time.Now()}).Error
}

func (r *SourceRecordRepository) InsertSnapshot(ctx context.Context, snapshot *model.Snapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}
