package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/connector"
	"github.com/enrolsync/enrolsync/pkg/model"
)

// SheetSender projects a row into the operator spreadsheet. The endpoint
// upserts by row_key, so duplicate deliveries land on the same row.
type SheetSender struct {
	cfg    *config.SinkConfig
	http   *http.Client
	logger *zap.Logger
}

func NewSheetSender(cfg *config.SinkConfig, logger *zap.Logger) *SheetSender {
	return &SheetSender{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

func (s *SheetSender) Deliver(ctx context.Context, rowKey string, payload model.JSONB) error {
	body := map[string]interface{}{
		"row_key": rowKey,
		"fields":  payload,
	}
	return postPayload(ctx, s.http, s.cfg, "sheet", body)
}

func postPayload(ctx context.Context, client *http.Client, cfg *config.SinkConfig, name string, body map[string]interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s delivery: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s delivery: %w", name, &connector.StatusError{Code: resp.StatusCode, Body: string(raw)})
	}
	return nil
}
