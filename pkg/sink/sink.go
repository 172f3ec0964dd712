// Package sink holds the two external delivery targets. Both accept a
// payload keyed by a stable row key and must tolerate re-delivery of the
// same key; the outbox relies on that for crash-safe retries.
package sink

import (
	"context"

	"github.com/enrolsync/enrolsync/pkg/model"
)

type Sender interface {
	Deliver(ctx context.Context, rowKey string, payload model.JSONB) error
}
