package diff

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type Kind string

const (
	KindNew       Kind = "NEW"
	KindChanged   Kind = "CHANGED"
	KindUnchanged Kind = "UNCHANGED"
)

// Result describes one observation against stored state. Previous is nil
// for NEW.
type Result struct {
	Kind          Kind
	ChangedFields pq.StringArray
	Previous      *model.SourceRecord
}

type RecordStore interface {
	Get(ctx context.Context, sourceType, sourceID string) (*model.SourceRecord, error)
	Upsert(ctx context.Context, record *model.SourceRecord) error
	TouchLastSeen(ctx context.Context, sourceType, sourceID string, seenAt time.Time) error
	InsertSnapshot(ctx context.Context, snapshot *model.Snapshot) error
}

type Engine struct {
	store  RecordStore
	logger *zap.Logger
}

func NewEngine(store RecordStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Observe persists one normalized observation and classifies it against the
// stored record. A differing fingerprint always yields CHANGED, even when a
// timestamp moved backwards; whether a rollback is trustworthy is the
// classifier's call, not this engine's.
func (e *Engine) Observe(ctx context.Context, incoming *model.SourceRecord) (Result, error) {
	now := time.Now().UTC()
	incoming.PayloadHash = Fingerprint(incoming)
	incoming.LastSeenAt = now

	existing, err := e.store.Get(ctx, incoming.SourceType, incoming.SourceID)
	if err != nil {
		return Result{}, fmt.Errorf("load source record %s/%s: %w", incoming.SourceType, incoming.SourceID, err)
	}

	if existing == nil {
		if err := e.persist(ctx, incoming); err != nil {
			return Result{}, err
		}
		return Result{Kind: KindNew}, nil
	}

	if existing.PayloadHash == incoming.PayloadHash {
		if err := e.store.TouchLastSeen(ctx, incoming.SourceType, incoming.SourceID, now); err != nil {
			return Result{}, fmt.Errorf("touch last_seen %s/%s: %w", incoming.SourceType, incoming.SourceID, err)
		}
		return Result{Kind: KindUnchanged, Previous: existing}, nil
	}

	changed := changedFields(existing, incoming)
	if len(changed) == 0 {
		// Differing fingerprints with identical status fields means the
		// payload itself moved, which is the detail-record case.
		changed = []string{"payload"}
	}
	if err := e.persist(ctx, incoming); err != nil {
		return Result{}, err
	}
	e.logger.Debug("source record changed",
		zap.String("source_type", incoming.SourceType),
		zap.String("source_id", incoming.SourceID),
		zap.Strings("fields", changed),
	)
	return Result{Kind: KindChanged, ChangedFields: changed, Previous: existing}, nil
}

func (e *Engine) persist(ctx context.Context, record *model.SourceRecord) error {
	if err := e.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("upsert source record %s/%s: %w", record.SourceType, record.SourceID, err)
	}
	snapshot := &model.Snapshot{
		SourceType:   record.SourceType,
		SourceID:     record.SourceID,
		SnapshotHash: record.PayloadHash,
		Payload:      record.Payload,
	}
	if err := e.store.InsertSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("insert snapshot %s/%s: %w", record.SourceType, record.SourceID, err)
	}
	return nil
}

func changedFields(previous, next *model.SourceRecord) []string {
	var fields []string
	if previous.Status != next.Status {
		fields = append(fields, "status")
	}
	if previous.StatusMsg != next.StatusMsg {
		fields = append(fields, "status_msg")
	}
	if previous.CodeName != next.CodeName {
		fields = append(fields, "code_name")
	}
	if !timestampsEqual(previous.DsDate, next.DsDate) {
		fields = append(fields, "ds_date")
	}
	if !timestampsEqual(previous.GcDate, next.GcDate) {
		fields = append(fields, "gc_date")
	}
	if !timestampsEqual(previous.SjcDate, next.SjcDate) {
		fields = append(fields, "sjc_date")
	}
	if !timestampsEqual(previous.UpdateTime, next.UpdateTime) {
		fields = append(fields, "update_time")
	}
	return fields
}

func timestampsEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
