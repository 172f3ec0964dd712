package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/diff"
	"github.com/enrolsync/enrolsync/pkg/model"
)

// Classifier maps a diff result plus the observed status transition to a
// review tier using a declarative table. The table lives in configuration,
// not code, because the upstream status vocabulary keeps growing. Anything
// the table does not cover lands on AMBIGUOUS; the conservative tier is
// always the default.
type Classifier struct {
	transitions    map[string]model.ReviewTier
	reviewRequired map[string]bool
	rollbackTier   model.ReviewTier
	defaultNewTier model.ReviewTier
}

func transitionKey(previous, next string) string {
	return previous + "->" + next
}

// DefaultTransitions covers the status vocabulary observed so far. Forward
// lifecycle moves are safe to automate; rollbacks are not, unless operators
// override the rollback tier.
func DefaultTransitions() map[string]string {
	return map[string]string{
		"DS->SJC":  string(model.TierAuto),
		"DS->GC":   string(model.TierAuto),
		"SJC->GC":  string(model.TierAuto),
		"DS->DS":   string(model.TierAuto),
		"SJC->SJC": string(model.TierAuto),
		"GC->GC":   string(model.TierAuto),
	}
}

func New(cfg config.ClassifierConfig) (*Classifier, error) {
	transitions := cfg.Transitions
	if len(transitions) == 0 {
		transitions = DefaultTransitions()
	}
	parsed := make(map[string]model.ReviewTier, len(transitions))
	for key, tier := range transitions {
		parsedTier, err := parseTier(tier)
		if err != nil {
			return nil, fmt.Errorf("transition %q: %w", key, err)
		}
		parsed[normalizeKey(key)] = parsedTier
	}

	rollbackTier := model.TierAmbiguous
	if cfg.RollbackTier != "" {
		tier, err := parseTier(cfg.RollbackTier)
		if err != nil {
			return nil, fmt.Errorf("rollback_tier: %w", err)
		}
		rollbackTier = tier
	}

	defaultNewTier := model.TierAuto
	if cfg.DefaultNewTier != "" {
		tier, err := parseTier(cfg.DefaultNewTier)
		if err != nil {
			return nil, fmt.Errorf("default_new_tier: %w", err)
		}
		defaultNewTier = tier
	}

	reviewRequired := make(map[string]bool, len(cfg.ReviewRequired))
	for _, status := range cfg.ReviewRequired {
		reviewRequired[strings.ToUpper(strings.TrimSpace(status))] = true
	}

	return &Classifier{
		transitions:    parsed,
		reviewRequired: reviewRequired,
		rollbackTier:   rollbackTier,
		defaultNewTier: defaultNewTier,
	}, nil
}

func parseTier(raw string) (model.ReviewTier, error) {
	switch model.ReviewTier(strings.ToUpper(strings.TrimSpace(raw))) {
	case model.TierAuto:
		return model.TierAuto, nil
	case model.TierAmbiguous:
		return model.TierAmbiguous, nil
	case model.TierNeedsReview:
		return model.TierNeedsReview, nil
	}
	return "", fmt.Errorf("unknown review tier %q", raw)
}

func normalizeKey(key string) string {
	parts := strings.SplitN(key, "->", 2)
	if len(parts) != 2 {
		return strings.ToUpper(strings.TrimSpace(key))
	}
	return transitionKey(strings.ToUpper(strings.TrimSpace(parts[0])), strings.ToUpper(strings.TrimSpace(parts[1])))
}

// Classify is deterministic: the same (previous, next, kind) always yields
// the same tier.
func (c *Classifier) Classify(kind diff.Kind, previousStatus, nextStatus string) model.ReviewTier {
	next := strings.ToUpper(strings.TrimSpace(nextStatus))

	if kind == diff.KindNew {
		if c.reviewRequired[next] {
			return model.TierNeedsReview
		}
		return c.defaultNewTier
	}

	previous := strings.ToUpper(strings.TrimSpace(previousStatus))
	if tier, ok := c.transitions[transitionKey(previous, next)]; ok {
		return tier
	}
	if c.isRollback(previous, next) {
		return c.rollbackTier
	}
	return model.TierAmbiguous
}

// lifecycleRank orders the known forward lifecycle: queued (DS), approved
// (SJC), paid (GC). A move against this order is a rollback and takes the
// configured rollback tier, never AUTO by default. Unknown statuses rank
// zero and never register as rollbacks; they fall through to AMBIGUOUS via
// the table miss.
var lifecycleRank = map[string]int{
	"DS":  1,
	"SJC": 2,
	"GC":  3,
}

func (c *Classifier) isRollback(previous, next string) bool {
	prevRank, prevKnown := lifecycleRank[previous]
	nextRank, nextKnown := lifecycleRank[next]
	return prevKnown && nextKnown && nextRank < prevRank
}

// BuildAlert materializes the alert for a non-UNCHANGED diff. AUTO alerts
// carry the tier so downstream delivery knows business fields may propagate
// immediately; AMBIGUOUS and NEEDS_REVIEW block propagation until resolved.
func (c *Classifier) BuildAlert(record *model.SourceRecord, result diff.Result, tier model.ReviewTier, runID uint) *model.Alert {
	kind := model.AlertNew
	previousStatus := ""
	if result.Kind == diff.KindChanged {
		previousStatus = result.Previous.Status
		switch tier {
		case model.TierAmbiguous:
			kind = model.AlertAmbiguous
		case model.TierNeedsReview:
			kind = model.AlertNeedsReview
		default:
			kind = model.AlertChanged
		}
	} else if tier == model.TierNeedsReview {
		kind = model.AlertNeedsReview
	}

	severity := model.SeverityLow
	if tier != model.TierAuto {
		severity = model.SeverityMedium
	}

	return &model.Alert{
		SourceType:    record.SourceType,
		SourceID:      record.SourceID,
		Kind:          kind,
		Severity:      severity,
		ReviewStatus:  tier,
		PrevStatus:    previousStatus,
		NextStatus:    record.Status,
		ChangedFields: result.ChangedFields,
		RunID:         &runID,
		Detail: model.JSONB{
			"diff_kind":   string(result.Kind),
			"observed_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
}
