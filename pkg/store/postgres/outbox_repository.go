package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Seed inserts a delivery keyed by (kind, row_key). Re-seeding the same row
// key is a no-op, so duplicate alert creation and replayed chaining collapse
// onto one logical delivery.
func (r *OutboxRepository) Seed(ctx context.Context, entry *model.OutboxEntry) error {
	if entry.State == "" {
		entry.State = model.OutboxPending
	}
	if entry.NextRetryAt.IsZero() {
		entry.NextRetryAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "row_key"}},
		DoNothing: true,
	}).Create(entry).Error
}

// ClaimBatch selects up to limit due entries of one kind and flips them to
// PROCESSING inside a single transaction. Due means PENDING with
// next_retry_at passed, or PROCESSING claimed longer than stuckThreshold ago
// (a crashed dispatcher left them behind). SKIP LOCKED keeps two dispatchers
// off the same rows.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, kind model.OutboxKind, limit int, stuckThreshold time.Duration) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var claimed []model.OutboxEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		stuckBefore := now.Add(-stuckThreshold)
		var entries []model.OutboxEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("kind = ?", kind).
			Where(
				tx.Where("state = ? AND next_retry_at <= ?", model.OutboxPending, now).
					Or("state = ? AND claimed_at < ?", model.OutboxProcessing, stuckBefore),
			).
			Order("next_retry_at ASC").
			Limit(limit).
			Find(&entries).Error
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(entries))
		for _, entry := range entries {
			ids = append(ids, entry.ID)
		}
		if err := tx.Model(&model.OutboxEntry{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"state":      model.OutboxProcessing,
				"claimed_at": &now,
			}).Error; err != nil {
			return err
		}
		for i := range entries {
			entries[i].State = model.OutboxProcessing
			entries[i].ClaimedAt = &now
		}
		claimed = entries
		return nil
	})
	return claimed, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id uint, sentAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      model.OutboxSent,
			"sent_at":    &sentAt,
			"last_error": "",
		}).Error
}

// MarkRetry records a failed attempt and schedules the next one. When
// terminal is true the entry parks in FAILED and dispatch stops picking
// it up.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id uint, retryCount int, nextRetryAt time.Time, lastError string, terminal bool) error {
	if len(lastError) > 1500 {
		lastError = lastError[:1500]
	}
	state := model.OutboxPending
	if terminal {
		state = model.OutboxFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":         state,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
		}).Error
}

// ListUnchained returns SENT projection entries that have no messaging entry
// under the same row key yet. A crash between the two stages of a combined
// dispatch leaves exactly this shape behind.
func (r *OutboxRepository) ListUnchained(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("kind = ? AND state = ?", model.OutboxProjection, model.OutboxSent).
		Where("NOT EXISTS (SELECT 1 FROM outbox_entries m WHERE m.kind = ? AND m.row_key = outbox_entries.row_key)",
			model.OutboxMessaging).
		Order("sent_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *OutboxRepository) CountByState(ctx context.Context, kind model.OutboxKind) (map[model.OutboxState]int64, error) {
	type row struct {
		State model.OutboxState
		Count int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.OutboxEntry{}).
		Select("state, count(*) as count").
		Where("kind = ?", kind).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.OutboxState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}
