package model

import (
	"time"

	"github.com/lib/pq"
)

type AlertKind string

const (
	AlertNew             AlertKind = "NEW"
	AlertChanged         AlertKind = "CHANGED"
	AlertAmbiguous       AlertKind = "AMBIGUOUS"
	AlertNeedsReview     AlertKind = "NEEDS_REVIEW"
	AlertFailed          AlertKind = "FAILED"
	AlertSheetSyncFailed AlertKind = "SHEET_SYNC_FAILED"
	AlertNotifyFailed    AlertKind = "NOTIFY_FAILED"
)

type AlertSeverity string

const (
	SeverityLow    AlertSeverity = "low"
	SeverityMedium AlertSeverity = "medium"
	SeverityHigh   AlertSeverity = "high"
)

// ReviewTier governs whether a detected change may propagate to the
// projection sink without a human looking at it first.
type ReviewTier string

const (
	TierAuto        ReviewTier = "AUTO"
	TierAmbiguous   ReviewTier = "AMBIGUOUS"
	TierNeedsReview ReviewTier = "NEEDS_REVIEW"
)

// Alert is one detected condition needing attention. The pipeline creates
// alerts; the review dashboard resolves them. The core only reads the
// resolved flag back for cooldown and propagation decisions.
type Alert struct {
	ID            uint      `gorm:"primaryKey"`
	SourceType    string    `gorm:"type:varchar(50);not null;index:idx_alert_source,priority:1"`
	SourceID      string    `gorm:"type:varchar(120);index:idx_alert_source,priority:2"`
	Kind          AlertKind `gorm:"type:varchar(30);not null;index"`
	Severity      AlertSeverity `gorm:"type:varchar(10);not null"`
	ReviewStatus  ReviewTier    `gorm:"type:varchar(20)"`
	PrevStatus    string        `gorm:"type:varchar(20)"`
	NextStatus    string        `gorm:"type:varchar(20)"`
	ChangedFields pq.StringArray `gorm:"type:text[]"`
	ErrorGroup    string         `gorm:"type:varchar(30);index"`
	RunID         *uint
	Detail        JSONB `gorm:"type:jsonb"`
	Resolved      bool  `gorm:"not null;default:false;index"`
	ResolvedAt    *time.Time
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (Alert) TableName() string {
	return "alerts"
}
