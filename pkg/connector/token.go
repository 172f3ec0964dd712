package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/enrolsync/enrolsync/pkg/config"
)

type tokenBundle struct {
	GrantType    string `json:"grantType"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresAtMs is the portal's own expiry stamp; when absent we fall
	// back to the token's exp claim.
	ExpiresAtMs int64 `json:"accessTokenExpiresIn"`
}

func (t *tokenBundle) expiresAt() time.Time {
	if t.ExpiresAtMs > 0 {
		return time.UnixMilli(t.ExpiresAtMs)
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(t.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Time{}
}

// tokenManager keeps one valid portal session per process. Logins are
// serialized; a token inside the skew window counts as expired.
type tokenManager struct {
	cfg  *config.ConnectorConfig
	http *http.Client

	mu     sync.Mutex
	bundle *tokenBundle
	expiry time.Time
}

func newTokenManager(cfg *config.ConnectorConfig, httpClient *http.Client) *tokenManager {
	return &tokenManager{cfg: cfg, http: httpClient}
}

func (m *tokenManager) AuthHeader(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bundle == nil || m.expiringSoon() {
		if err := m.login(ctx); err != nil {
			return "", err
		}
	}
	grant := m.bundle.GrantType
	if grant == "" {
		grant = "Bearer"
	}
	return grant + " " + m.bundle.AccessToken, nil
}

func (m *tokenManager) ForceRelogin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundle = nil
	return m.login(ctx)
}

func (m *tokenManager) expiringSoon() bool {
	if m.expiry.IsZero() {
		return false
	}
	return !time.Now().Add(m.cfg.TokenSkew).Before(m.expiry)
}

func (m *tokenManager) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]interface{}{
		"userId":       m.cfg.AdminUserID,
		"userPassword": m.cfg.AdminPassword,
		"submit":       nil,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/api/auth/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("portal login: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("portal login: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portal login: %w", &StatusError{Code: resp.StatusCode, Body: string(body)})
	}

	var bundle tokenBundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return fmt.Errorf("portal login decode: %w", err)
	}
	if bundle.AccessToken == "" {
		return fmt.Errorf("portal login: response carried no access token")
	}

	m.bundle = &bundle
	m.expiry = bundle.expiresAt()
	return nil
}
