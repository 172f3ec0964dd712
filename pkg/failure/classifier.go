package failure

import (
	"context"
	"errors"
	"strings"

	"github.com/enrolsync/enrolsync/pkg/joblock"
	"github.com/enrolsync/enrolsync/pkg/model"
)

type ErrorGroup string

const (
	GroupLockConflict  ErrorGroup = "LOCK_CONFLICT"
	GroupHTTP409       ErrorGroup = "HTTP_409"
	GroupHTTP5xx       ErrorGroup = "HTTP_5XX"
	GroupHTTP4xx       ErrorGroup = "HTTP_4XX"
	GroupTimeout       ErrorGroup = "TIMEOUT"
	GroupSchemaFailure ErrorGroup = "SCHEMA_FAILURE"
	GroupUnknown       ErrorGroup = "UNKNOWN"
)

// ErrSchemaMismatch marks an upstream response whose shape did not match
// the contract.
var ErrSchemaMismatch = errors.New("unexpected response shape")

// statusCoder is implemented by errors that carry an HTTP status, notably
// connector.StatusError.
type statusCoder interface {
	HTTPStatus() int
}

// Classify maps a raw error to its group. First match wins, in the fixed
// order: lock conflict, 409, 5xx, timeout, schema mismatch, other 4xx,
// unknown.
func Classify(err error) ErrorGroup {
	if err == nil {
		return GroupUnknown
	}
	if errors.Is(err, joblock.ErrLockConflict) {
		return GroupLockConflict
	}

	var coder statusCoder
	status := 0
	if errors.As(err, &coder) {
		status = coder.HTTPStatus()
	}
	switch {
	case status == 409:
		return GroupHTTP409
	case status >= 500:
		return GroupHTTP5xx
	}
	if isTimeout(err) {
		return GroupTimeout
	}
	if errors.Is(err, ErrSchemaMismatch) {
		return GroupSchemaFailure
	}
	if status >= 400 && status < 500 {
		return GroupHTTP4xx
	}
	return GroupUnknown
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") || strings.Contains(message, "timed out")
}

func Severity(group ErrorGroup) model.AlertSeverity {
	switch group {
	case GroupHTTP5xx, GroupTimeout:
		return model.SeverityHigh
	case GroupLockConflict:
		return model.SeverityLow
	default:
		return model.SeverityMedium
	}
}
