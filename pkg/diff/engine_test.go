package diff

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type fakeRecordStore struct {
	records   map[string]*model.SourceRecord
	snapshots int
	touched   int
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[string]*model.SourceRecord)}
}

func (s *fakeRecordStore) key(sourceType, sourceID string) string {
	return sourceType + "|" + sourceID
}

func (s *fakeRecordStore) Get(_ context.Context, sourceType, sourceID string) (*model.SourceRecord, error) {
	record, ok := s.records[s.key(sourceType, sourceID)]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *fakeRecordStore) Upsert(_ context.Context, record *model.SourceRecord) error {
	copied := *record
	s.records[s.key(record.SourceType, record.SourceID)] = &copied
	return nil
}

func (s *fakeRecordStore) TouchLastSeen(_ context.Context, sourceType, sourceID string, seenAt time.Time) error {
	s.touched++
	if record, ok := s.records[s.key(sourceType, sourceID)]; ok {
		record.LastSeenAt = seenAt
	}
	return nil
}

func (s *fakeRecordStore) InsertSnapshot(_ context.Context, _ *model.Snapshot) error {
	s.snapshots++
	return nil
}

func statusRecord(status string, gcDate *time.Time) *model.SourceRecord {
	return &model.SourceRecord{
		SourceType: model.SourceTypeEnrolmentStatus,
		SourceID:   "7:alice",
		Status:     status,
		StatusMsg:  "message for " + status,
		GcDate:     gcDate,
	}
}

func TestObserveNewRecord(t *testing.T) {
	store := newFakeRecordStore()
	engine := NewEngine(store, zap.NewNop())

	result, err := engine.Observe(context.Background(), statusRecord("DS", nil))
	if err != nil {
		t.Fatalf("Observe() error: %v", err)
	}
	if result.Kind != KindNew {
		t.Fatalf("expected NEW, got %s", result.Kind)
	}
	if store.snapshots != 1 {
		t.Fatalf("expected 1 snapshot, got %d", store.snapshots)
	}
}

func TestObserveUnchangedOnlyTouchesLastSeen(t *testing.T) {
	store := newFakeRecordStore()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()

	if _, err := engine.Observe(ctx, statusRecord("DS", nil)); err != nil {
		t.Fatalf("first Observe() error: %v", err)
	}
	before := store.snapshots

	result, err := engine.Observe(ctx, statusRecord("DS", nil))
	if err != nil {
		t.Fatalf("second Observe() error: %v", err)
	}
	if result.Kind != KindUnchanged {
		t.Fatalf("expected UNCHANGED, got %s", result.Kind)
	}
	if store.snapshots != before {
		t.Fatalf("unchanged observation wrote a snapshot")
	}
	if store.touched != 1 {
		t.Fatalf("expected last_seen touch, got %d", store.touched)
	}
}

func TestObserveStatusChange(t *testing.T) {
	store := newFakeRecordStore()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()

	if _, err := engine.Observe(ctx, statusRecord("DS", nil)); err != nil {
		t.Fatalf("first Observe() error: %v", err)
	}

	gc := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	result, err := engine.Observe(ctx, statusRecord("GC", &gc))
	if err != nil {
		t.Fatalf("second Observe() error: %v", err)
	}
	if result.Kind != KindChanged {
		t.Fatalf("expected CHANGED, got %s", result.Kind)
	}
	if result.Previous == nil || result.Previous.Status != "DS" {
		t.Fatalf("expected previous status DS, got %+v", result.Previous)
	}
	changed := map[string]bool{}
	for _, field := range result.ChangedFields {
		changed[field] = true
	}
	if !changed["status"] || !changed["gc_date"] {
		t.Fatalf("expected status and gc_date in changed fields, got %v", result.ChangedFields)
	}
	if store.snapshots != 2 {
		t.Fatalf("expected 2 snapshots, got %d", store.snapshots)
	}
}

func TestObserveTimestampRegressionIsChanged(t *testing.T) {
	store := newFakeRecordStore()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()

	late := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	early := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := engine.Observe(ctx, statusRecord("GC", &late)); err != nil {
		t.Fatalf("first Observe() error: %v", err)
	}
	result, err := engine.Observe(ctx, statusRecord("GC", &early))
	if err != nil {
		t.Fatalf("second Observe() error: %v", err)
	}
	if result.Kind != KindChanged {
		t.Fatalf("regressed timestamp must still classify CHANGED, got %s", result.Kind)
	}
}

func detailRecord(dept string) *model.SourceRecord {
	return &model.SourceRecord{
		SourceType: model.SourceTypeEnrolmentDetail,
		SourceID:   "7:alice",
		UserID:     "alice",
		Payload:    model.JSONB{"userName": "Alice Kim", "deptName": dept},
	}
}

func TestObserveDetailPayloadChange(t *testing.T) {
	store := newFakeRecordStore()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()

	if _, err := engine.Observe(ctx, detailRecord("Sales")); err != nil {
		t.Fatalf("first Observe() error: %v", err)
	}

	result, err := engine.Observe(ctx, detailRecord("Engineering"))
	if err != nil {
		t.Fatalf("second Observe() error: %v", err)
	}
	if result.Kind != KindChanged {
		t.Fatalf("detail payload change must classify CHANGED, got %s", result.Kind)
	}
	if len(result.ChangedFields) != 1 || result.ChangedFields[0] != "payload" {
		t.Fatalf("expected payload in changed fields, got %v", result.ChangedFields)
	}
	if store.snapshots != 2 {
		t.Fatalf("expected 2 snapshots, got %d", store.snapshots)
	}

	repeat, err := engine.Observe(ctx, detailRecord("Engineering"))
	if err != nil {
		t.Fatalf("third Observe() error: %v", err)
	}
	if repeat.Kind != KindUnchanged {
		t.Fatalf("identical detail payload must classify UNCHANGED, got %s", repeat.Kind)
	}
}

func TestFingerprintCoversDetailPayload(t *testing.T) {
	a := detailRecord("Sales")
	b := detailRecord("Engineering")
	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("differing detail payloads produced identical fingerprints")
	}
	if Fingerprint(a) != Fingerprint(detailRecord("Sales")) {
		t.Fatalf("equal detail payloads produced different fingerprints")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	gc := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	a := statusRecord("GC", &gc)
	b := statusRecord("GC", &gc)
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("equal records produced different fingerprints")
	}

	other := statusRecord("SJC", &gc)
	if Fingerprint(a) == Fingerprint(other) {
		t.Fatalf("different status produced identical fingerprints")
	}
}
