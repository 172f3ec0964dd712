// Package syncer orchestrates one pipeline execution: lock, fetch, diff,
// classify, alert, seed deliveries, ledger. Every record upsert commits on
// its own, so a failure late in a run never rolls back earlier progress.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/classify"
	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/connector"
	"github.com/enrolsync/enrolsync/pkg/diff"
	"github.com/enrolsync/enrolsync/pkg/eventbus"
	"github.com/enrolsync/enrolsync/pkg/failure"
	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/metrics"
	"github.com/enrolsync/enrolsync/pkg/model"
	"github.com/enrolsync/enrolsync/pkg/redaction"
)

type Request struct {
	CategoryID        int               `json:"category_id"`
	TriggerType       model.TriggerType `json:"trigger_type"`
	MaxCategories     int               `json:"max_categories"`
	MaxUsersPerCourse int               `json:"max_users_per_course"`
}

type Summary struct {
	CategoriesProcessed   int       `json:"categories_processed"`
	CoursesProcessed      int       `json:"courses_processed"`
	StatusRowsProcessed   int       `json:"status_rows_processed"`
	DetailsProcessed      int       `json:"details_processed"`
	SourceRecordsUpserted int       `json:"source_records_upserted"`
	NewRecords            int       `json:"new_records"`
	ChangedRecords        int       `json:"changed_records"`
	CreatedAlerts         int       `json:"created_alerts"`
	FailedDetailCalls     int       `json:"failed_detail_calls"`
	FailedCourseCalls     int       `json:"failed_course_calls"`
	LockAcquired          bool      `json:"lock_acquired"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
}

type RunLedger interface {
	Start(ctx context.Context, jobName string, trigger model.TriggerType) (*model.RunLog, error)
	Finish(ctx context.Context, runID uint, status model.RunStatus, counts model.RunLog, errorMessage, errorGroup string) error
}

type AlertWriter interface {
	Create(ctx context.Context, alert *model.Alert) error
}

type OutboxSeeder interface {
	Seed(ctx context.Context, entry *model.OutboxEntry) error
}

type EventPublisher interface {
	Publish(ctx context.Context, channel string, event eventbus.Event) error
}

type Service struct {
	client     connector.Client
	engine     *diff.Engine
	classifier *classify.Classifier
	failures   *failure.Engine
	locks      *joblock.Service
	runs       RunLedger
	alerts     AlertWriter
	outbox     OutboxSeeder
	bus        EventPublisher
	cfg        *config.SyncConfig
	logger     *zap.Logger
}

func NewService(
	client connector.Client,
	engine *diff.Engine,
	classifier *classify.Classifier,
	failures *failure.Engine,
	locks *joblock.Service,
	runs RunLedger,
	alerts AlertWriter,
	outbox OutboxSeeder,
	bus EventPublisher,
	cfg *config.SyncConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		client:     client,
		engine:     engine,
		classifier: classifier,
		failures:   failures,
		locks:      locks,
		runs:       runs,
		alerts:     alerts,
		outbox:     outbox,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
	}
}

// Sync runs the full pipeline once. A denied lock fails fast before any run
// row exists; after the run row is created, every failure is classified and
// finalized on the ledger.
func (s *Service) Sync(ctx context.Context, req Request) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now().UTC()}

	lease, err := s.locks.Acquire(ctx, s.cfg.JobName, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, joblock.ErrLockConflict) {
			metrics.LockConflicts.WithLabelValues(s.cfg.JobName).Inc()
		}
		return summary, err
	}
	summary.LockAcquired = true
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("failed to release sync lock", zap.Error(releaseErr))
		}
	}()

	trigger := req.TriggerType
	if trigger == "" {
		trigger = model.TriggerManual
	}
	run, err := s.runs.Start(ctx, s.cfg.JobName, trigger)
	if err != nil {
		return summary, fmt.Errorf("start run: %w", err)
	}

	if err := s.execute(ctx, run.ID, req, summary); err != nil {
		s.finalize(ctx, run.ID, summary, err)
		return summary, err
	}

	s.finalize(ctx, run.ID, summary, nil)
	return summary, nil
}

func (s *Service) execute(ctx context.Context, runID uint, req Request, summary *Summary) error {
	categories, err := s.resolveCategories(ctx, req)
	if err != nil {
		return err
	}
	summary.CategoriesProcessed = len(categories)

	for _, termID := range categories {
		courses, err := s.client.FetchCoursesByCategory(ctx, termID)
		if err != nil {
			// The portal answers 409 for categories mid-reorganization;
			// skip those and keep the run alive.
			var statusErr *connector.StatusError
			if errors.As(err, &statusErr) && statusErr.Code == 409 {
				summary.FailedCourseCalls++
				continue
			}
			return fmt.Errorf("fetch courses for category %d: %w", termID, err)
		}
		summary.CoursesProcessed += len(courses)

		for _, course := range courses {
			courseID := course.EffectiveID()
			if courseID == 0 {
				continue
			}
			if err := s.processCourse(ctx, runID, termID, courseID, req.MaxUsersPerCourse, summary); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) processCourse(ctx context.Context, runID uint, termID, courseID, maxUsers int, summary *Summary) error {
	rows, err := s.client.FetchClassStatus(ctx, courseID)
	if err != nil {
		return fmt.Errorf("fetch class status for course %d: %w", courseID, err)
	}
	if maxUsers > 0 && len(rows) > maxUsers {
		rows = rows[:maxUsers]
	}
	summary.StatusRowsProcessed += len(rows)

	for i := range rows {
		row := &rows[i]
		userID := row.User.Identifier()
		if userID == "" {
			continue
		}

		record := buildStatusRecord(termID, courseID, userID, row)
		if err := s.observe(ctx, runID, record, summary); err != nil {
			return err
		}

		detail, err := s.client.FetchEnrolmentDetail(ctx, termID, userID)
		if err != nil {
			summary.FailedDetailCalls++
			continue
		}
		if len(detail) == 0 {
			continue
		}
		detailRecord := buildDetailRecord(termID, courseID, userID, detail)
		if err := s.observe(ctx, runID, detailRecord, summary); err != nil {
			return err
		}
		summary.DetailsProcessed++
	}
	return nil
}

func (s *Service) observe(ctx context.Context, runID uint, record *model.SourceRecord, summary *Summary) error {
	result, err := s.engine.Observe(ctx, record)
	if err != nil {
		return err
	}
	summary.SourceRecordsUpserted++
	metrics.RecordsObserved.WithLabelValues(string(result.Kind)).Inc()

	switch result.Kind {
	case diff.KindUnchanged:
		return nil
	case diff.KindNew:
		summary.NewRecords++
	case diff.KindChanged:
		summary.ChangedRecords++
	}

	previousStatus := ""
	if result.Previous != nil {
		previousStatus = result.Previous.Status
	}
	tier := s.classifier.Classify(result.Kind, previousStatus, record.Status)
	alert := s.classifier.BuildAlert(record, result, tier, runID)
	if err := s.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("create alert for %s/%s: %w", record.SourceType, record.SourceID, err)
	}
	summary.CreatedAlerts++
	metrics.AlertsCreated.WithLabelValues(string(alert.Kind)).Inc()
	s.publishAlertEvent(ctx, alert)

	// Only AUTO may touch business fields downstream; the other tiers wait
	// for a reviewer and their deliveries are seeded on resolution instead.
	if tier == model.TierAuto {
		if err := s.seedProjection(ctx, record, alert); err != nil {
			return err
		}
	}
	return nil
}

// RowKey derives the stable delivery key from the alert's source identity,
// so duplicate alerts for the same record collapse onto one delivery.
func RowKey(sourceType, sourceID string) string {
	return sourceType + ":" + sourceID
}

func (s *Service) seedProjection(ctx context.Context, record *model.SourceRecord, alert *model.Alert) error {
	payload := model.JSONB{
		"row_key":        RowKey(record.SourceType, record.SourceID),
		"kind":           string(alert.Kind),
		"source_type":    record.SourceType,
		"source_id":      record.SourceID,
		"user_id":        record.UserID,
		"user_name":      record.UserName,
		"prev_status":    alert.PrevStatus,
		"next_status":    record.Status,
		"status_msg":     record.StatusMsg,
		"changed_fields": []string(alert.ChangedFields),
	}
	entry := &model.OutboxEntry{
		Kind:       model.OutboxProjection,
		RowKey:     RowKey(record.SourceType, record.SourceID),
		SourceType: record.SourceType,
		SourceID:   record.SourceID,
		AlertID:    &alert.ID,
		Payload:    payload,
	}
	if err := s.outbox.Seed(ctx, entry); err != nil {
		return fmt.Errorf("seed projection outbox for %s: %w", entry.RowKey, err)
	}
	return nil
}

func (s *Service) resolveCategories(ctx context.Context, req Request) ([]int, error) {
	if req.CategoryID != 0 {
		return []int{req.CategoryID}, nil
	}
	if s.cfg.DefaultCategoryID != 0 {
		return []int{s.cfg.DefaultCategoryID}, nil
	}

	categories, err := s.client.FetchCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	limit := req.MaxCategories
	if limit <= 0 {
		limit = s.cfg.MaxCategories
	}
	ids := make([]int, 0, len(categories))
	for _, category := range categories {
		if category.ID == 0 {
			continue
		}
		ids = append(ids, category.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (s *Service) finalize(ctx context.Context, runID uint, summary *Summary, cause error) {
	ctx = context.WithoutCancel(ctx)
	summary.FinishedAt = time.Now().UTC()
	metrics.SyncDuration.WithLabelValues(s.cfg.JobName).Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	counts := model.RunLog{
		RecordsSeen:    summary.StatusRowsProcessed,
		NewRecords:     summary.NewRecords,
		ChangedRecords: summary.ChangedRecords,
		CreatedAlerts:  summary.CreatedAlerts,
		RetryCount:     summary.FailedDetailCalls,
		Summary:        summaryJSON(summary),
	}

	status := model.RunSucceeded
	errorMessage := ""
	errorGroup := ""
	if cause != nil {
		status = model.RunFailed
		errorMessage = cause.Error()
		errorGroup = string(failure.Classify(cause))
	}

	if err := s.runs.Finish(ctx, runID, status, counts, errorMessage, errorGroup); err != nil {
		s.logger.Error("failed to finalize run", zap.Uint("run_id", runID), zap.Error(err))
	}
	metrics.RunsTotal.WithLabelValues(s.cfg.JobName, string(status)).Inc()

	if cause != nil {
		if _, err := s.failures.ReportRunFailure(ctx, s.cfg.JobName, runID, cause); err != nil {
			s.logger.Error("failed to report run failure", zap.Error(err))
		}
	}
	s.publishRunEvent(ctx, runID, status, errorMessage)
}

func (s *Service) publishAlertEvent(ctx context.Context, alert *model.Alert) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent("alert_created", eventbus.AlertEvent{
		AlertID:    alert.ID,
		SourceType: alert.SourceType,
		SourceID:   alert.SourceID,
		Kind:       string(alert.Kind),
		Severity:   string(alert.Severity),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, eventbus.ChannelAlert, event); err != nil {
		s.logger.Debug("failed to publish alert event", zap.Error(err))
	}
}

func (s *Service) publishRunEvent(ctx context.Context, runID uint, status model.RunStatus, message string) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent("run_finished", eventbus.RunEvent{
		RunID:   runID,
		JobName: s.cfg.JobName,
		Status:  string(status),
		Message: message,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, eventbus.ChannelRun, event); err != nil {
		s.logger.Debug("failed to publish run event", zap.Error(err))
	}
}

func buildStatusRecord(termID, courseID int, userID string, row *connector.StatusRow) *model.SourceRecord {
	payload, _ := redaction.Scrub(row.Raw).(map[string]interface{})
	return &model.SourceRecord{
		SourceType:  model.SourceTypeEnrolmentStatus,
		SourceID:    fmt.Sprintf("%d:%s", termID, userID),
		CategoryID:  &termID,
		CourseID:    &courseID,
		TermID:      &termID,
		UserID:      userID,
		UserName:    strings.TrimSpace(row.User.UserName),
		CompanyName: strings.TrimSpace(row.User.CompanyName),
		DeptName:    strings.TrimSpace(row.User.DeptName),
		JobPosition: strings.TrimSpace(row.User.JobPosition),
		Status:      strings.TrimSpace(row.ClassStatus.Status),
		StatusMsg:   strings.TrimSpace(row.ClassStatus.StatusMsg),
		CodeName:    strings.TrimSpace(row.ClassStatus.CodeName),
		DsDate:      connector.ParsePortalTime(row.ClassStatus.DsDate),
		GcDate:      connector.ParsePortalTime(row.ClassStatus.GcDate),
		SjcDate:     connector.ParsePortalTime(row.ClassStatus.SjcDate),
		UpdateTime:  connector.ParsePortalTime(row.ClassStatus.UpdateTime),
		Payload:     model.JSONB(payload),
	}
}

func buildDetailRecord(termID, courseID int, userID string, detail map[string]interface{}) *model.SourceRecord {
	payload := redaction.ScrubMap(detail)
	record := &model.SourceRecord{
		SourceType: model.SourceTypeEnrolmentDetail,
		SourceID:   fmt.Sprintf("%d:%s", termID, userID),
		CategoryID: &termID,
		CourseID:   &courseID,
		TermID:     &termID,
		UserID:     userID,
		Payload:    model.JSONB(payload),
	}
	if name, ok := payload["userName"].(string); ok {
		record.UserName = strings.TrimSpace(name)
	}
	if company, ok := payload["companyName"].(string); ok {
		record.CompanyName = strings.TrimSpace(company)
	}
	if dept, ok := payload["deptName"].(string); ok {
		record.DeptName = strings.TrimSpace(dept)
	}
	if position, ok := payload["jobPosition"].(string); ok {
		record.JobPosition = strings.TrimSpace(position)
	}
	return record
}

func summaryJSON(summary *Summary) model.JSONB {
	return model.JSONB{
		"categories_processed":    summary.CategoriesProcessed,
		"courses_processed":       summary.CoursesProcessed,
		"status_rows_processed":   summary.StatusRowsProcessed,
		"details_processed":       summary.DetailsProcessed,
		"source_records_upserted": summary.SourceRecordsUpserted,
		"failed_detail_calls":     summary.FailedDetailCalls,
		"failed_course_calls":     summary.FailedCourseCalls,
	}
}
