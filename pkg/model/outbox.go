package model

import "time"

type OutboxKind string

const (
	OutboxProjection OutboxKind = "projection"
	OutboxMessaging  OutboxKind = "messaging"
)

type OutboxState string

const (
	OutboxPending    OutboxState = "PENDING"
	OutboxProcessing OutboxState = "PROCESSING"
	OutboxSent       OutboxState = "SENT"
	OutboxFailed     OutboxState = "FAILED"
)

// OutboxEntry is one durable pending delivery to an external sink. RowKey is
// derived from the source alert identity so duplicate seeding and repeated
// dispatch collapse onto a single logical delivery per (kind, row_key).
// Entries are never deleted; they stay for audit and replay.
type OutboxEntry struct {
	ID          uint        `gorm:"primaryKey"`
	Kind        OutboxKind  `gorm:"type:varchar(20);not null;uniqueIndex:idx_outbox_row_key,priority:1"`
	RowKey      string      `gorm:"type:varchar(160);not null;uniqueIndex:idx_outbox_row_key,priority:2"`
	SourceType  string      `gorm:"type:varchar(50);not null"`
	SourceID    string      `gorm:"type:varchar(120)"`
	AlertID     *uint       `gorm:"index"`
	Payload     JSONB       `gorm:"type:jsonb;not null"`
	State       OutboxState `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	RetryCount  int         `gorm:"not null;default:0"`
	LastError   string      `gorm:"type:varchar(1500)"`
	NextRetryAt time.Time   `gorm:"not null;index"`
	ClaimedAt   *time.Time
	SentAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (OutboxEntry) TableName() string {
	return "outbox_entries"
}
