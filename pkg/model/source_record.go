package model

import (
	"time"
)

const (
	SourceTypeEnrolmentStatus = "enrolment_status"
	SourceTypeEnrolmentDetail = "enrolment_user_detail"
	SourceTypeRunLog          = "run_log"
	SourceTypeSheetAlert      = "sheet_alert"
)

// SourceRecord is the downstream record-of-truth for one upstream entity,
// keyed by (source_type, source_id). Identity fields never change after the
// first observation; business fields are overwritten on every changed
// observation and history lives in Snapshot.
type SourceRecord struct {
	ID          uint   `gorm:"primaryKey"`
	SourceType  string `gorm:"type:varchar(50);not null;uniqueIndex:idx_source_identity,priority:1"`
	SourceID    string `gorm:"type:varchar(120);not null;uniqueIndex:idx_source_identity,priority:2"`
	CategoryID  *int
	CourseID    *int
	TermID      *int
	UserID      string `gorm:"type:varchar(120);index"`
	UserName    string
	CompanyName string
	DeptName    string
	JobPosition string
	Status      string `gorm:"type:varchar(20);index"`
	StatusMsg   string
	CodeName    string
	DsDate      *time.Time
	GcDate      *time.Time
	SjcDate     *time.Time
	UpdateTime  *time.Time
	Payload     JSONB  `gorm:"type:jsonb"`
	PayloadHash string `gorm:"type:varchar(64);not null"`
	LastSeenAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SourceRecord) TableName() string {
	return "source_records"
}

// Snapshot is an immutable point-in-time copy of an observed payload. Rows
// are append-only; the core never updates or deletes them.
type Snapshot struct {
	ID           uint   `gorm:"primaryKey"`
	SourceType   string `gorm:"type:varchar(50);not null;index:idx_snapshot_source,priority:1"`
	SourceID     string `gorm:"type:varchar(120);not null;index:idx_snapshot_source,priority:2"`
	SnapshotHash string `gorm:"type:varchar(64);not null"`
	Payload      JSONB  `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

func (Snapshot) TableName() string {
	return "snapshots"
}
