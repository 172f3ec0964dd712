package sink

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/model"
)

// MessengerSender posts a templated notification to the messaging channel.
// The channel deduplicates on row_key, so re-delivery never double-posts.
type MessengerSender struct {
	cfg    *config.SinkConfig
	http   *http.Client
	logger *zap.Logger
}

func NewMessengerSender(cfg *config.SinkConfig, logger *zap.Logger) *MessengerSender {
	return &MessengerSender{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

func (s *MessengerSender) Deliver(ctx context.Context, rowKey string, payload model.JSONB) error {
	body := map[string]interface{}{
		"row_key": rowKey,
		"text":    renderMessage(payload),
		"fields":  payload,
	}
	return postPayload(ctx, s.http, s.cfg, "messenger", body)
}

func renderMessage(payload model.JSONB) string {
	var b strings.Builder
	kind, _ := payload["kind"].(string)
	sourceID, _ := payload["source_id"].(string)
	next, _ := payload["next_status"].(string)
	prev, _ := payload["prev_status"].(string)

	switch kind {
	case string(model.AlertNew):
		fmt.Fprintf(&b, "[enrolsync] new enrolment %s (%s)", sourceID, next)
	case string(model.AlertChanged):
		fmt.Fprintf(&b, "[enrolsync] enrolment %s moved %s -> %s", sourceID, prev, next)
	default:
		fmt.Fprintf(&b, "[enrolsync] enrolment %s needs attention (%s)", sourceID, kind)
	}
	return b.String()
}
