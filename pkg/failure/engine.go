package failure

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type AlertStore interface {
	Create(ctx context.Context, alert *model.Alert) error
	RecentUnresolved(ctx context.Context, sourceType, errorGroup string, since time.Time) (bool, error)
}

// Engine turns classified failures into FAILED alerts, suppressing repeats
// of the same group inside the cooldown window. The failed run itself is
// always recorded on the run ledger; only the alert is deduplicated.
type Engine struct {
	alerts   AlertStore
	cooldown time.Duration
	logger   *zap.Logger
}

func NewEngine(alerts AlertStore, cooldown time.Duration, logger *zap.Logger) *Engine {
	return &Engine{alerts: alerts, cooldown: cooldown, logger: logger}
}

// ReportRunFailure files one FAILED alert for a failed run unless an
// unresolved alert of the same group is already open inside the cooldown
// window. Returns whether an alert was created.
func (e *Engine) ReportRunFailure(ctx context.Context, jobName string, runID uint, cause error) (bool, error) {
	group := Classify(cause)
	since := time.Now().UTC().Add(-e.cooldown)
	suppressed, err := e.alerts.RecentUnresolved(ctx, model.SourceTypeRunLog, string(group), since)
	if err != nil {
		return false, fmt.Errorf("cooldown lookup for %s: %w", group, err)
	}
	if suppressed {
		e.logger.Info("failure alert suppressed by cooldown",
			zap.String("job", jobName),
			zap.String("error_group", string(group)),
			zap.Uint("run_id", runID),
		)
		return false, nil
	}

	alert := &model.Alert{
		SourceType: model.SourceTypeRunLog,
		SourceID:   fmt.Sprintf("%d", runID),
		Kind:       model.AlertFailed,
		Severity:   Severity(group),
		ErrorGroup: string(group),
		RunID:      &runID,
		Detail: model.JSONB{
			"job_name":    jobName,
			"error_group": string(group),
			"message":     truncate(cause.Error(), 500),
		},
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return false, fmt.Errorf("create failure alert: %w", err)
	}
	return true, nil
}

// ReportSinkFailure files a sink-specific failure alert, deduplicated the
// same way but keyed by the outbox kind's source type.
func (e *Engine) ReportSinkFailure(ctx context.Context, kind model.OutboxKind, rowKey string, cause error) (bool, error) {
	group := Classify(cause)
	alertKind := model.AlertSheetSyncFailed
	sourceType := model.SourceTypeSheetAlert
	if kind == model.OutboxMessaging {
		alertKind = model.AlertNotifyFailed
		sourceType = "messaging_outbox"
	}

	since := time.Now().UTC().Add(-e.cooldown)
	suppressed, err := e.alerts.RecentUnresolved(ctx, sourceType, string(group), since)
	if err != nil {
		return false, fmt.Errorf("cooldown lookup for %s: %w", group, err)
	}
	if suppressed {
		return false, nil
	}

	alert := &model.Alert{
		SourceType: sourceType,
		SourceID:   rowKey,
		Kind:       alertKind,
		Severity:   Severity(group),
		ErrorGroup: string(group),
		Detail: model.JSONB{
			"row_key":     rowKey,
			"error_group": string(group),
			"message":     truncate(cause.Error(), 500),
		},
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return false, fmt.Errorf("create sink failure alert: %w", err)
	}
	return true, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
