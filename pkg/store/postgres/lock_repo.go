package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type LockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// TryAcquire grants the lease when no row exists for jobName, the existing
// lease has expired, or the existing holder matches (re-entrant refresh).
// The read-modify-write runs under a row lock so two concurrent attempts
// serialize on the database and exactly one wins.
func (r *LockRepository) TryAcquire(ctx context.Context, jobName string, holder uuid.UUID, ttl time.Duration) (bool, error) {
	granted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var lock model.JobLock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_name = ?", jobName).
			First(&lock).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			granted = true
			return tx.Create(&model.JobLock{
				JobName:    jobName,
				Holder:     holder,
				AcquiredAt: now,
				ExpiresAt:  now.Add(ttl),
			}).Error
		case err != nil:
			return err
		}

		if !lock.Expired(now) && lock.Holder != holder {
			return nil
		}

		granted = true
		return tx.Model(&model.JobLock{}).
			Where("job_name = ?", jobName).
			Updates(map[string]interface{}{
				"holder":      holder,
				"acquired_at": now,
				"expires_at":  now.Add(ttl),
			}).Error
	})
	return granted, err
}

// Release expires the lease immediately. A foreign or already-expired lease
// is left alone; release is a no-op then.
func (r *LockRepository) Release(ctx context.Context, jobName string, holder uuid.UUID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&model.JobLock{}).
		Where("job_name = ? AND holder = ? AND expires_at > ?", jobName, holder, now).
		Update("expires_at", now).Error
}
