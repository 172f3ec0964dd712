package model

import (
	"time"

	"github.com/google/uuid"
)

// JobLock is a leased mutual-exclusion record. A row whose ExpiresAt has
// passed counts as free; staleness is evaluated lazily on acquisition, no
// sweeper runs.
type JobLock struct {
	JobName    string    `gorm:"type:varchar(60);primaryKey"`
	Holder     uuid.UUID `gorm:"type:uuid;not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

func (JobLock) TableName() string {
	return "job_locks"
}

func (l *JobLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
