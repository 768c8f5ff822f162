package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmonitor/internal/config"
	"github.com/JakeFAU/webmonitor/internal/monitor"
	"github.com/JakeFAU/webmonitor/internal/registry"
	"github.com/JakeFAU/webmonitor/internal/storage/memory"
)

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("link-%d", f.n), nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeChecks struct {
	result  monitor.CheckResult
	history []monitor.Snapshot
	err     error
	panics  bool
}

func (f *fakeChecks) Check(context.Context, string) (monitor.CheckResult, error) {
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

func (f *fakeChecks) History(context.Context, string) ([]monitor.Snapshot, error) {
	return f.history, f.err
}

type fakeHealth struct{ status monitor.HealthStatus }

func (f fakeHealth) Check(context.Context) monitor.HealthStatus { return f.status }

var testNow = time.Date(2025, 4, 1, 8, 30, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}}
}

func newTestServer(t *testing.T, maxLinks int, checks *fakeChecks, cfg config.Config) *Server {
	t.Helper()
	reg := registry.New(memory.NewStore(), &fakeIDGen{}, fakeClock{now: testNow}, maxLinks, nil)
	if checks == nil {
		checks = &fakeChecks{}
	}
	health := fakeHealth{status: monitor.HealthStatus{Backend: "ok", Database: "ok", LLM: "no API key set", Timestamp: testNow}}
	return NewServer(reg, checks, health, cfg, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload["error"]
}

func TestServer_CreateAndListLinks(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, nil, testConfig())
	rec := do(t, s, http.MethodPost, "/links", `{"url":"https://example.com/pricing","project":"acme","tags":[" a ","a",""]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var link monitor.Link
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	require.Equal(t, "link-1", link.ID)
	require.Equal(t, "https://example.com/pricing", link.Label)
	require.Equal(t, []string{"a"}, link.Tags)

	rec = do(t, s, http.MethodGet, "/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var links []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &links))
	require.Len(t, links, 1)
	require.Contains(t, links[0], "last_status")
	require.Nil(t, links[0]["last_status"])
}

func TestServer_ListEmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, 8, nil, testConfig()), http.MethodGet, "/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestServer_CreateLinkErrors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 1, nil, testConfig())

	rec := do(t, s, http.MethodPost, "/links", `{"url":"ftp://example.com"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, monitor.ErrInvalidURL.Error(), errorBody(t, rec))

	rec = do(t, s, http.MethodPost, "/links", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid JSON", errorBody(t, rec))

	rec = do(t, s, http.MethodPost, "/links", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPost, "/links", `{"url":"https://example.org"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, monitor.ErrCapacityExceeded.Error(), errorBody(t, rec))
}

func TestServer_CreateDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, nil, testConfig())
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/links", `{"url":"https://example.com"}`).Code)
	rec := do(t, s, http.MethodPost, "/links", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, monitor.ErrDuplicate.Error(), errorBody(t, rec))
}

func TestServer_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, nil, testConfig())
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/links", `{"url":"https://example.com","label":"Home"}`).Code)

	rec := do(t, s, http.MethodPatch, "/links/link-1", `{"project":"docs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var link monitor.Link
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	require.Equal(t, "Home", link.Label)
	require.Equal(t, "docs", link.Project)

	rec = do(t, s, http.MethodPatch, "/links/link-1", `{"label":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	require.Equal(t, "https://example.com", link.Label)

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPatch, "/links/link-1", `[`).Code)
	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodPatch, "/links/nope", `{"label":"x"}`).Code)

	rec = do(t, s, http.MethodDelete, "/links/link-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())

	rec = do(t, s, http.MethodDelete, "/links/link-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "link not found", errorBody(t, rec))
}

func TestServer_RunCheck(t *testing.T) {
	t.Parallel()

	markup := `<span class="diff-add">+new</span>`
	checks := &fakeChecks{result: monitor.CheckResult{
		SnapshotID: "snap-1",
		Status:     monitor.SnapshotStatusOK,
		Changed:    true,
		DiffMarkup: &markup,
		CheckedAt:  testNow,
	}}
	s := newTestServer(t, 8, checks, testConfig())

	rec := do(t, s, http.MethodPost, "/links/link-1/check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "ok", payload["status"])
	require.Equal(t, true, payload["changed"])
	require.Equal(t, markup, payload["diff_html"])
	require.Nil(t, payload["summary"])
	require.Equal(t, "2025-04-01T08:30:00Z", payload["checked_at"])
}

func TestServer_CheckErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{name: "not found", err: fmt.Errorf("check x: %w", monitor.ErrNotFound), status: http.StatusNotFound, msg: "link not found"},
		{name: "canceled", err: fmt.Errorf("check x: %w", context.Canceled), status: http.StatusServiceUnavailable, msg: "request canceled"},
		{name: "deadline", err: fmt.Errorf("check x: %w", context.DeadlineExceeded), status: http.StatusServiceUnavailable, msg: "request canceled"},
		{name: "persistence", err: errors.New("append snapshot: disk I/O error"), status: http.StatusInternalServerError, msg: "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, 8, &fakeChecks{err: tt.err}, testConfig())
			rec := do(t, s, http.MethodPost, "/links/x/check", "")
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.msg, errorBody(t, rec))

			rec = do(t, s, http.MethodGet, "/links/x/history", "")
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServer_History(t *testing.T) {
	t.Parallel()

	summary := monitor.NoChangesSummary
	checks := &fakeChecks{history: []monitor.Snapshot{
		{ID: "s2", LinkID: "l", CheckedAt: testNow, Status: monitor.SnapshotStatusOK, Fingerprint: "f", Content: "secret text", Summary: &summary},
		{ID: "s1", LinkID: "l", CheckedAt: testNow.Add(-time.Hour), Status: monitor.SnapshotStatusError},
	}}
	rec := do(t, newTestServer(t, 8, checks, testConfig()), http.MethodGet, "/links/l/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret text")

	var snaps []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 2)
	require.Equal(t, "s2", snaps[0]["id"])
	require.Contains(t, snaps[0], "diff_html")
	require.Equal(t, "error", snaps[1]["status"])
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, nil, testConfig())
	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status monitor.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ok", status.Backend)
	require.Equal(t, "no API key set", status.LLM)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s := newTestServer(t, 8, nil, cfg)

	rec := do(t, s, http.MethodGet, "/links", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/links", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, nil, testConfig())
	req := httptest.NewRequest(http.MethodOptions, "/links", nil)
	req.Header.Set("Origin", "https://monitor.example.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RequestID(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, nil, testConfig())
	rec := do(t, s, http.MethodGet, "/health", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, 8, &fakeChecks{panics: true}, testConfig())
	rec := do(t, s, http.MethodPost, "/links/x/check", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal error", errorBody(t, rec))
}
