package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/model"
)

type statusError struct{ code int }

func (e *statusError) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusError) HTTPStatus() int { return e.code }

func TestClassifyOrder(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorGroup
	}{
		{"lock conflict", fmt.Errorf("sync: %w", joblock.ErrLockConflict), GroupLockConflict},
		{"http 409", fmt.Errorf("call: %w", &statusError{409}), GroupHTTP409},
		{"http 500", fmt.Errorf("call: %w", &statusError{500}), GroupHTTP5xx},
		{"http 503", fmt.Errorf("call: %w", &statusError{503}), GroupHTTP5xx},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), GroupTimeout},
		{"timeout substring", errors.New("request timed out after 15s"), GroupTimeout},
		{"schema", fmt.Errorf("decode: %w", ErrSchemaMismatch), GroupSchemaFailure},
		{"http 404", fmt.Errorf("call: %w", &statusError{404}), GroupHTTP4xx},
		{"unknown", errors.New("something odd"), GroupUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestSeverityMapping(t *testing.T) {
	cases := map[ErrorGroup]model.AlertSeverity{
		GroupHTTP5xx:       model.SeverityHigh,
		GroupTimeout:       model.SeverityHigh,
		GroupHTTP409:       model.SeverityMedium,
		GroupHTTP4xx:       model.SeverityMedium,
		GroupUnknown:       model.SeverityMedium,
		GroupSchemaFailure: model.SeverityMedium,
		GroupLockConflict:  model.SeverityLow,
	}
	for group, want := range cases {
		if got := Severity(group); got != want {
			t.Fatalf("%s: expected %s, got %s", group, want, got)
		}
	}
}
