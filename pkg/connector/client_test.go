package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/enrolsync/enrolsync/pkg/config"
	"github.com/enrolsync/enrolsync/pkg/failure"
)

type portalHandler struct {
	logins  atomic.Int32
	calls   atomic.Int32
	token   string
	respond func(w http.ResponseWriter, r *http.Request, call int32)
}

func (h *portalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/auth/login" {
		h.logins.Add(1)
		var creds map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if creds["userId"] != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"grantType":            "Bearer",
			"accessToken":          h.token,
			"refreshToken":         "refresh",
			"accessTokenExpiresIn": time.Now().Add(time.Hour).UnixMilli(),
		})
		return
	}
	h.respond(w, r, h.calls.Add(1))
}

func newPortalClient(t *testing.T, handler *portalHandler, mutate func(*config.ConnectorConfig)) (*HTTPClient, *httptest.Server) {
	t.Helper()
	if handler.token == "" {
		handler.token = "token-1"
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := &config.ConnectorConfig{
		BaseURL:        server.URL,
		AdminUserID:    "admin",
		AdminPassword:  "secret",
		RequestTimeout: 5 * time.Second,
		TokenSkew:      time.Minute,
		RetryOn401:     true,
		MaxAttempts:    3,
		RetryBackoff:   time.Millisecond,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewHTTPClient(cfg, zap.NewNop()), server
}

func TestFetchClassStatusAuthenticates(t *testing.T) {
	handler := &portalHandler{respond: func(w http.ResponseWriter, r *http.Request, _ int32) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"user":        map[string]interface{}{"userId": "alice", "userName": "Alice Kim"},
				"classStatus": map[string]interface{}{"status": "DS", "ds_date": "2026-08-28 09:00:00", "gc_date": "empty"},
			},
		})
	}}
	client, _ := newPortalClient(t, handler, nil)

	rows, err := client.FetchClassStatus(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchClassStatus() error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].User.Identifier() != "alice" || rows[0].ClassStatus.Status != "DS" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if rows[0].Raw["user"] == nil {
		t.Fatalf("expected raw payload preserved")
	}
	if handler.logins.Load() != 1 {
		t.Fatalf("expected exactly one login, got %d", handler.logins.Load())
	}
}

func TestRetryOn5xxThenSuccess(t *testing.T) {
	handler := &portalHandler{respond: func(w http.ResponseWriter, _ *http.Request, call int32) {
		if call <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode([]Category{{ID: 1, Name: "2026-2"}})
	}}
	client, _ := newPortalClient(t, handler, nil)

	categories, err := client.FetchCategories(context.Background())
	if err != nil {
		t.Fatalf("FetchCategories() error: %v", err)
	}
	if len(categories) != 1 || categories[0].ID != 1 {
		t.Fatalf("unexpected categories: %+v", categories)
	}
	if handler.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", handler.calls.Load())
	}
}

func TestNonRetryable4xxFailsFast(t *testing.T) {
	handler := &portalHandler{respond: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.WriteHeader(http.StatusConflict)
	}}
	client, _ := newPortalClient(t, handler, nil)

	_, err := client.FetchCoursesByCategory(context.Background(), 7)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 StatusError, got %v", err)
	}
	if handler.calls.Load() != 1 {
		t.Fatalf("409 must not be retried, got %d attempts", handler.calls.Load())
	}
}

func TestExpiredSessionReloginDoesNotConsumeRetry(t *testing.T) {
	handler := &portalHandler{}
	handler.respond = func(w http.ResponseWriter, r *http.Request, call int32) {
		// The first data call hits a dead session; after relogin the
		// server issues token-2 and the call succeeds.
		if call == 1 {
			handler.token = "token-2"
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"userName": "Alice Kim"})
	}
	client, _ := newPortalClient(t, handler, nil)

	detail, err := client.FetchEnrolmentDetail(context.Background(), 7, "alice")
	if err != nil {
		t.Fatalf("FetchEnrolmentDetail() error: %v", err)
	}
	if detail["userName"] != "Alice Kim" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if handler.logins.Load() != 2 {
		t.Fatalf("expected initial login plus one forced relogin, got %d", handler.logins.Load())
	}
}

func TestCoursesAcceptKeyedMapShape(t *testing.T) {
	handler := &portalHandler{respond: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"42": map[string]interface{}{"courseid": 42, "name": "intro"},
		})
	}}
	client, _ := newPortalClient(t, handler, nil)

	courses, err := client.FetchCoursesByCategory(context.Background(), 7)
	if err != nil {
		t.Fatalf("FetchCoursesByCategory() error: %v", err)
	}
	if len(courses) != 1 || courses[0].EffectiveID() != 42 {
		t.Fatalf("unexpected courses: %+v", courses)
	}
}

func TestUnparsableCoursesIsSchemaMismatch(t *testing.T) {
	handler := &portalHandler{respond: func(w http.ResponseWriter, _ *http.Request, _ int32) {
		w.Write([]byte(`"not a course payload"`))
	}}
	client, _ := newPortalClient(t, handler, nil)

	_, err := client.FetchCoursesByCategory(context.Background(), 7)
	if !errors.Is(err, failure.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestParsePortalTime(t *testing.T) {
	cases := []struct {
		in   string
		want string // empty means nil
	}{
		{"2026-08-28 09:00:00", "2026-08-28T00:00:00Z"},
		{"2026-08-28 09:00:00.5", "2026-08-28T00:00:00.5Z"},
		{"2026-08-28 09:00:00.500", "2026-08-28T00:00:00.5Z"},
		{"2026-08-28 09:00:00.123456", "2026-08-28T00:00:00.123456Z"},
		{"empty", ""},
		{"EMPTY", ""},
		{"", ""},
		{"  ", ""},
		{"not a date", ""},
	}
	for _, tc := range cases {
		got := ParsePortalTime(tc.in)
		if tc.want == "" {
			if got != nil {
				t.Fatalf("ParsePortalTime(%q) = %v, want nil", tc.in, got)
			}
			continue
		}
		if got == nil {
			t.Fatalf("ParsePortalTime(%q) = nil, want %s", tc.in, tc.want)
		}
		if got.Format(time.RFC3339Nano) != tc.want {
			t.Fatalf("ParsePortalTime(%q) = %s, want %s", tc.in, got.Format(time.RFC3339Nano), tc.want)
		}
	}
}

func TestStatusRowUnmarshalKeepsRaw(t *testing.T) {
	data := []byte(`{
		"user": {"userId": "alice", "email": "a@example.com"},
		"classStatus": {"status": "GC", "gc_date": "2026-08-28 09:00:00"},
		"extraField": true
	}`)
	var row StatusRow
	if err := json.Unmarshal(data, &row); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if row.User.UserID != "alice" || row.ClassStatus.Status != "GC" {
		t.Fatalf("typed fields not captured: %+v", row)
	}
	if row.Raw["extraField"] != true {
		t.Fatalf("raw payload must keep unknown fields, got %v", row.Raw)
	}
}

func TestIdentifierFallsBackToEmail(t *testing.T) {
	u := UserInfo{Email: "a@example.com"}
	if got := u.Identifier(); got != "a@example.com" {
		t.Fatalf("Identifier() = %q", got)
	}
	u.UserID = " alice "
	if got := u.Identifier(); got != "alice" {
		t.Fatalf("Identifier() = %q", got)
	}
}
