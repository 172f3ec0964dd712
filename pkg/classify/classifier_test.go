package classify

import (
	"testing"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/diff"
	"github.com/enrolsync/enrolsync/pkg/model"
)

func defaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	classifier, err := New(config.ClassifierConfig{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return classifier
}

func TestForwardTransitionsAreAuto(t *testing.T) {
	classifier := defaultClassifier(t)
	for _, pair := range [][2]string{{"DS", "SJC"}, {"SJC", "GC"}, {"DS", "GC"}} {
		tier := classifier.Classify(diff.KindChanged, pair[0], pair[1])
		if tier != model.TierAuto {
			t.Fatalf("%s->%s: expected AUTO, got %s", pair[0], pair[1], tier)
		}
	}
}

func TestUnknownTransitionIsAmbiguousNeverAuto(t *testing.T) {
	classifier := defaultClassifier(t)
	tier := classifier.Classify(diff.KindChanged, "DS", "XX")
	if tier != model.TierAmbiguous {
		t.Fatalf("unknown transition: expected AMBIGUOUS, got %s", tier)
	}
}

func TestRollbackUsesConfiguredTier(t *testing.T) {
	classifier := defaultClassifier(t)
	if tier := classifier.Classify(diff.KindChanged, "GC", "DS"); tier != model.TierAmbiguous {
		t.Fatalf("default rollback: expected AMBIGUOUS, got %s", tier)
	}

	strict, err := New(config.ClassifierConfig{RollbackTier: "NEEDS_REVIEW"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tier := strict.Classify(diff.KindChanged, "GC", "DS"); tier != model.TierNeedsReview {
		t.Fatalf("configured rollback: expected NEEDS_REVIEW, got %s", tier)
	}
}

func TestPaymentToApprovalIsRollbackNotAuto(t *testing.T) {
	// GC carries a later lifecycle point than SJC, so GC->SJC must route
	// through the rollback tier even though both statuses are well known.
	classifier := defaultClassifier(t)
	if tier := classifier.Classify(diff.KindChanged, "GC", "SJC"); tier != model.TierAmbiguous {
		t.Fatalf("GC->SJC: expected AMBIGUOUS by default, got %s", tier)
	}

	strict, err := New(config.ClassifierConfig{RollbackTier: "NEEDS_REVIEW"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tier := strict.Classify(diff.KindChanged, "GC", "SJC"); tier != model.TierNeedsReview {
		t.Fatalf("GC->SJC with strict rollback tier: expected NEEDS_REVIEW, got %s", tier)
	}
}

func TestTableOverridesRollbackHeuristic(t *testing.T) {
	classifier, err := New(config.ClassifierConfig{
		Transitions: map[string]string{"GC->DS": "AUTO"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tier := classifier.Classify(diff.KindChanged, "GC", "DS"); tier != model.TierAuto {
		t.Fatalf("explicit table entry must win, got %s", tier)
	}
}

func TestNewObservationDefaultsAndReviewList(t *testing.T) {
	classifier, err := New(config.ClassifierConfig{ReviewRequired: []string{"SJC"}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if tier := classifier.Classify(diff.KindNew, "", "DS"); tier != model.TierAuto {
		t.Fatalf("plain NEW: expected AUTO, got %s", tier)
	}
	if tier := classifier.Classify(diff.KindNew, "", "SJC"); tier != model.TierNeedsReview {
		t.Fatalf("review-required NEW: expected NEEDS_REVIEW, got %s", tier)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	classifier := defaultClassifier(t)
	first := classifier.Classify(diff.KindChanged, "DS", "GC")
	for i := 0; i < 50; i++ {
		if got := classifier.Classify(diff.KindChanged, "DS", "GC"); got != first {
			t.Fatalf("classification flapped: %s then %s", first, got)
		}
	}
}

func TestRejectsUnknownTierInConfig(t *testing.T) {
	if _, err := New(config.ClassifierConfig{Transitions: map[string]string{"DS->GC": "MAYBE"}}); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}

func TestBuildAlertKinds(t *testing.T) {
	classifier := defaultClassifier(t)
	record := &model.SourceRecord{
		SourceType: model.SourceTypeEnrolmentStatus,
		SourceID:   "7:alice",
		Status:     "GC",
	}
	previous := &model.SourceRecord{Status: "DS"}

	alert := classifier.BuildAlert(record, diff.Result{Kind: diff.KindChanged, Previous: previous}, model.TierAuto, 3)
	if alert.Kind != model.AlertChanged {
		t.Fatalf("expected CHANGED alert, got %s", alert.Kind)
	}
	if alert.ReviewStatus != model.TierAuto {
		t.Fatalf("expected AUTO review status, got %s", alert.ReviewStatus)
	}
	if alert.PrevStatus != "DS" || alert.NextStatus != "GC" {
		t.Fatalf("expected DS->GC on alert, got %s->%s", alert.PrevStatus, alert.NextStatus)
	}

	ambiguous := classifier.BuildAlert(record, diff.Result{Kind: diff.KindChanged, Previous: previous}, model.TierAmbiguous, 3)
	if ambiguous.Kind != model.AlertAmbiguous {
		t.Fatalf("expected AMBIGUOUS alert, got %s", ambiguous.Kind)
	}

	fresh := classifier.BuildAlert(record, diff.Result{Kind: diff.KindNew}, model.TierAuto, 3)
	if fresh.Kind != model.AlertNew {
		t.Fatalf("expected NEW alert, got %s", fresh.Kind)
	}
}
