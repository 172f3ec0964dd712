// Package connector talks to the upstream admin portal. It owns session
// tokens, request retries, and response normalization; everything above it
// sees typed rows.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/failure"
)

// Client is the upstream contract the pipeline consumes. The HTTP
// implementation lives here; tests substitute fakes.
type Client interface {
	FetchCategories(ctx context.Context) ([]Category, error)
	FetchCoursesByCategory(ctx context.Context, categoryID int) ([]Course, error)
	FetchClassStatus(ctx context.Context, courseID int) ([]StatusRow, error)
	FetchEnrolmentDetail(ctx context.Context, termID int, userID string) (map[string]interface{}, error)
	TransitionStatus(ctx context.Context, courseID int, userID, targetStatus string) (*StatusRow, error)
}

type HTTPClient struct {
	cfg    *config.ConnectorConfig
	http   *http.Client
	tokens *tokenManager
	logger *zap.Logger
}

func NewHTTPClient(cfg *config.ConnectorConfig, logger *zap.Logger) *HTTPClient {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	return &HTTPClient{
		cfg:    cfg,
		http:   httpClient,
		tokens: newTokenManager(cfg, httpClient),
		logger: logger,
	}
}

func (c *HTTPClient) FetchCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	err := c.postJSON(ctx, "/api/category/list", map[string]interface{}{"categoryid": "all"}, &categories)
	if err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *HTTPClient) FetchCoursesByCategory(ctx context.Context, categoryID int) ([]Course, error) {
	body, err := c.postRaw(ctx, "/api/course/category/course", map[string]interface{}{"categoryid": categoryID})
	if err != nil {
		return nil, err
	}
	// The portal answers with either a list or an object keyed by course id.
	var courses []Course
	if err := json.Unmarshal(body, &courses); err == nil {
		return courses, nil
	}
	var keyed map[string]Course
	if err := json.Unmarshal(body, &keyed); err == nil {
		courses = make([]Course, 0, len(keyed))
		for _, course := range keyed {
			courses = append(courses, course)
		}
		return courses, nil
	}
	return nil, fmt.Errorf("decode courses for category %d: %w", categoryID, failure.ErrSchemaMismatch)
}

func (c *HTTPClient) FetchClassStatus(ctx context.Context, courseID int) ([]StatusRow, error) {
	var rows []StatusRow
	err := c.postJSON(ctx, "/api/course/classStatusAll", map[string]interface{}{"courseid": courseID}, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *HTTPClient) FetchEnrolmentDetail(ctx context.Context, termID int, userID string) (map[string]interface{}, error) {
	var detail map[string]interface{}
	err := c.postJSON(ctx, "/api/enrolment/getEnrolmentUserInfo",
		map[string]interface{}{"termId": termID, "userId": userID}, &detail)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (c *HTTPClient) TransitionStatus(ctx context.Context, courseID int, userID, targetStatus string) (*StatusRow, error) {
	var row StatusRow
	err := c.postJSON(ctx, "/api/course/classStatusChange",
		map[string]interface{}{"courseid": courseID, "userId": userID, "status": targetStatus}, &row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload map[string]interface{}, out interface{}) error {
	body, err := c.postRaw(ctx, path, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, failure.ErrSchemaMismatch)
	}
	return nil
}

// postRaw performs one authenticated call with the connector's retry
// policy: timeouts, connection failures, 5xx and 429 are retried up to
// max_attempts with a flat backoff; a 401 forces one re-login; other 4xx
// fail immediately.
func (c *HTTPClient) postRaw(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	attempts := c.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	reloggedIn := false
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}

		body, err := c.doOnce(ctx, path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			if statusErr.Code == http.StatusUnauthorized && c.cfg.RetryOn401 && !reloggedIn {
				reloggedIn = true
				if loginErr := c.tokens.ForceRelogin(ctx); loginErr != nil {
					return nil, loginErr
				}
				attempt-- // the re-auth pass does not consume a retry
				continue
			}
			if !retryableStatus(statusErr.Code) {
				return nil, err
			}
			continue
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Transport-level failure (timeout, connection, DNS, TLS): retry.
		c.logger.Warn("portal call failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func (c *HTTPClient) doOnce(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	header, err := c.tokens.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: %w", path, &StatusError{Code: resp.StatusCode, Body: truncateBody(body)})
	}
	return body, nil
}

func truncateBody(body []byte) string {
	const limit = 300
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
