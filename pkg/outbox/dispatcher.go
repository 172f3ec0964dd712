// Package outbox drains the two durable delivery queues. Each entry walks
// PENDING -> PROCESSING -> SENT, or back to PENDING with backoff after a
// failed attempt; nothing is ever deleted.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/failure"
	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/metrics"
	"github.com/enrolsync/enrolsync/pkg/model"
	"github.com/enrolsync/enrolsync/pkg/sink"
)

type Repository interface {
	Seed(ctx context.Context, entry *model.OutboxEntry) error
	ClaimBatch(ctx context.Context, kind model.OutboxKind, limit int, stuckThreshold time.Duration) ([]model.OutboxEntry, error)
	MarkSent(ctx context.Context, id uint, sentAt time.Time) error
	MarkRetry(ctx context.Context, id uint, retryCount int, nextRetryAt time.Time, lastError string, terminal bool) error
	ListUnchained(ctx context.Context, limit int) ([]model.OutboxEntry, error)
}

type Stats struct {
	Selected int `json:"selected"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

type Dispatcher struct {
	repo     Repository
	senders  map[model.OutboxKind]sink.Sender
	locks    *joblock.Service
	failures *failure.Engine
	cfg      *config.OutboxConfig
	logger   *zap.Logger
}

func NewDispatcher(
	repo Repository,
	sheetSender, messengerSender sink.Sender,
	locks *joblock.Service,
	failures *failure.Engine,
	cfg *config.OutboxConfig,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		repo: repo,
		senders: map[model.OutboxKind]sink.Sender{
			model.OutboxProjection: sheetSender,
			model.OutboxMessaging:  messengerSender,
		},
		locks:    locks,
		failures: failures,
		cfg:      cfg,
		logger:   logger,
	}
}

func dispatchLockName(kind model.OutboxKind) string {
	return "outbox_dispatch_" + string(kind)
}

// Dispatch drains one batch of one kind. A per-kind lease keeps two
// dispatchers off the same queue; a denied lease returns ErrLockConflict
// untouched for the caller to report.
func (d *Dispatcher) Dispatch(ctx context.Context, kind model.OutboxKind, batchSize int) (Stats, error) {
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}

	lease, err := d.locks.Acquire(ctx, dispatchLockName(kind), d.cfg.DispatchLockTTL)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			d.logger.Warn("failed to release dispatch lock", zap.String("kind", string(kind)), zap.Error(releaseErr))
		}
	}()

	entries, err := d.repo.ClaimBatch(ctx, kind, batchSize, d.cfg.StuckThreshold)
	if err != nil {
		return Stats{}, fmt.Errorf("claim %s batch: %w", kind, err)
	}

	stats := Stats{Selected: len(entries)}
	for _, entry := range entries {
		if err := d.deliver(ctx, kind, entry); err != nil {
			stats.Failed++
			continue
		}
		stats.Sent++
	}
	return stats, nil
}

func (d *Dispatcher) deliver(ctx context.Context, kind model.OutboxKind, entry model.OutboxEntry) error {
	sender := d.senders[kind]
	start := time.Now()
	err := sender.Deliver(ctx, entry.RowKey, entry.Payload)
	metrics.OutboxDispatchDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		d.logger.Warn("outbox delivery failed",
			zap.String("kind", string(kind)),
			zap.String("row_key", entry.RowKey),
			zap.Int("retry_count", entry.RetryCount),
			zap.Error(err),
		)
		metrics.OutboxDispatchTotal.WithLabelValues(string(kind), "failed").Inc()

		retryCount := entry.RetryCount + 1
		terminal := d.cfg.MaxRetries > 0 && retryCount >= d.cfg.MaxRetries
		nextRetryAt := time.Now().UTC().Add(d.backoff(retryCount))
		if markErr := d.repo.MarkRetry(ctx, entry.ID, retryCount, nextRetryAt, err.Error(), terminal); markErr != nil {
			return fmt.Errorf("mark retry for %s: %w", entry.RowKey, markErr)
		}
		if _, alertErr := d.failures.ReportSinkFailure(ctx, kind, entry.RowKey, err); alertErr != nil {
			d.logger.Warn("failed to file sink failure alert", zap.Error(alertErr))
		}
		return err
	}

	if err := d.repo.MarkSent(ctx, entry.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark sent for %s: %w", entry.RowKey, err)
	}
	metrics.OutboxDispatchTotal.WithLabelValues(string(kind), "sent").Inc()

	if kind == model.OutboxProjection {
		if err := d.seedMessaging(ctx, entry); err != nil {
			// The chain reconciler picks this up on the next combined run.
			d.logger.Warn("failed to seed messaging entry", zap.String("row_key", entry.RowKey), zap.Error(err))
		}
	}
	return nil
}

// backoff is exponential on the attempt count, capped at max_backoff.
func (d *Dispatcher) backoff(retryCount int) time.Duration {
	backoff := d.cfg.BaseBackoff
	for i := 1; i < retryCount; i++ {
		backoff *= 2
		if backoff >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	if backoff > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return backoff
}

// seedMessaging chains a SENT projection entry into the messaging queue
// under the same row key. Seeding is an idempotent upsert, so replays and
// reconciliation repairs collapse onto one delivery.
func (d *Dispatcher) seedMessaging(ctx context.Context, projection model.OutboxEntry) error {
	return d.repo.Seed(ctx, &model.OutboxEntry{
		Kind:       model.OutboxMessaging,
		RowKey:     projection.RowKey,
		SourceType: model.SourceTypeSheetAlert,
		SourceID:   projection.SourceID,
		AlertID:    projection.AlertID,
		Payload:    projection.Payload,
	})
}

// ReconcileChain repairs the gap a crash can leave between the two stages:
// projection entries already SENT whose messaging twin was never created.
func (d *Dispatcher) ReconcileChain(ctx context.Context) (int, error) {
	unchained, err := d.repo.ListUnchained(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unchained projections: %w", err)
	}
	seeded := 0
	for _, entry := range unchained {
		if err := d.seedMessaging(ctx, entry); err != nil {
			return seeded, err
		}
		seeded++
	}
	if seeded > 0 {
		d.logger.Info("reconciled outbox chain", zap.Int("seeded", seeded))
	}
	return seeded, nil
}

// DispatchAll runs projection then messaging dispatch in sequence. Each
// stage is independently re-runnable; a chain reconcile pass first closes
// any gap left by a previous crash.
func (d *Dispatcher) DispatchAll(ctx context.Context, batchSize int) (map[model.OutboxKind]Stats, error) {
	if _, err := d.ReconcileChain(ctx); err != nil {
		return nil, err
	}

	results := make(map[model.OutboxKind]Stats, 2)
	for _, kind := range []model.OutboxKind{model.OutboxProjection, model.OutboxMessaging} {
		stats, err := d.Dispatch(ctx, kind, batchSize)
		if err != nil {
			if errors.Is(err, joblock.ErrLockConflict) {
				d.logger.Info("dispatch already running, skipping", zap.String("kind", string(kind)))
				continue
			}
			return results, err
		}
		results[kind] = stats
	}
	return results, nil
}
