package model

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCESS"
	RunFailed    RunStatus = "FAILED"
)

type TriggerType string

const (
	TriggerScheduler TriggerType = "SCHEDULER"
	TriggerManual    TriggerType = "MANUAL"
	TriggerRetry     TriggerType = "RETRY"
)

// RunLog records one execution of a named job. It is created RUNNING at
// start and finalized exactly once; after that it is immutable.
type RunLog struct {
	ID             uint        `gorm:"primaryKey"`
	JobName        string      `gorm:"type:varchar(60);not null;index"`
	TriggerType    TriggerType `gorm:"type:varchar(20);not null"`
	Status         RunStatus   `gorm:"type:varchar(20);not null;index"`
	RecordsSeen    int
	ChangedRecords int
	NewRecords     int
	CreatedAlerts  int
	RetryCount     int
	ErrorMessage   string `gorm:"type:varchar(1500)"`
	ErrorGroup     string `gorm:"type:varchar(30)"`
	Summary        JSONB  `gorm:"type:jsonb"`
	StartedAt      time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
}

func (RunLog) TableName() string {
	return "run_log"
}
