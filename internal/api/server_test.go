package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-extractor/internal/clock"
	"github.com/JakeFAU/doc-extractor/internal/config"
	queueMemory "github.com/JakeFAU/doc-extractor/internal/queue/memory"
	"github.com/JakeFAU/doc-extractor/internal/registry"
	"github.com/JakeFAU/doc-extractor/internal/status"
)

type testEnv struct {
	server *Server
	reg    *registry.Registry
	queue  *queueMemory.Queue
}

func newTestEnv(t *testing.T, cfg config.Config, checks ...ReadyCheck) *testEnv {
	t.Helper()
	return newTestEnvWithQueue(t, cfg, 10, checks...)
}

func newTestEnvWithQueue(t *testing.T, cfg config.Config, depth int, checks ...ReadyCheck) *testEnv {
	t.Helper()
	if cfg.Crawler.MaxDepthDefault == 0 {
		cfg.Crawler.MaxDepthDefault = 1
	}
	q := queueMemory.NewQueue(depth)
	t.Cleanup(q.Close)
	reg := registry.New(&fakeIDGen{}, clock.NewManual(time.Unix(100, 0)), q, nil, registry.Config{}, zap.NewNop())
	return &testEnv{
		server: NewServer(reg, status.NewReporter(reg), cfg, zap.NewNop(), checks...),
		reg:    reg,
		queue:  q,
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *testEnv) submit(t *testing.T, body string) string {
	t.Helper()
	rec := e.do(http.MethodPost, "/extract", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode(t, rec)["extraction_id"].(string)
}

const validBody = `{"url":"https://docs.example.com/","company":"Acme","product":"Widgets"}`

func TestServer_Root(t *testing.T) {
	t.Parallel()

	rec := newTestEnv(t, config.Config{}).do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Documentation Extractor Service API"}`, rec.Body.String())
}

func TestServer_Submit_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/extract", validBody)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{
		"url": "https://docs.example.com/",
		"status": "initialized",
		"company": "Acme",
		"product": "Widgets",
		"extraction_id": "extraction_job-1",
		"extracted_entities": []
	}`, rec.Body.String())

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "extraction_job-1", item.JobID)

	job, err := env.reg.Get(context.Background(), "extraction_job-1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Request.MaxDepth, "max_depth defaults from config")
	require.Equal(t, "Company", job.Request.CompanyType)
}

func TestServer_Submit_Rejects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"relative url", `{"url":"/docs","company":"Acme"}`, "url must be absolute"},
		{"bad scheme", `{"url":"ftp://docs.example.com","company":"Acme"}`, "scheme"},
		{"missing company", `{"url":"https://docs.example.com"}`, "company"},
		{"negative depth", `{"url":"https://docs.example.com","company":"Acme","max_depth":-1}`, "max_depth"},
		{"bad selector", `{"url":"https://docs.example.com","company":"Acme","selectors":{"API":"[["}}`, "selector"},
	}
	for _, tt := range tests {
		rec := env.do(http.MethodPost, "/extract", tt.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
		require.Contains(t, rec.Body.String(), tt.want, tt.name)
	}
	require.Zero(t, env.queue.Len())
}

func TestServer_Submit_QueueFull(t *testing.T) {
	t.Parallel()

	env := newTestEnvWithQueue(t, config.Config{}, 1)
	env.submit(t, validBody)

	start := time.Now()
	rec := env.do(http.MethodPost, "/extract", validBody)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "5", rec.Header().Get("Retry-After"))
	require.Contains(t, decode(t, rec)["error"], "retry later")

	// The refused submission leaves no job behind.
	rec = env.do(http.MethodGet, "/status/extraction_job-2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	id := env.submit(t, validBody)

	rec := env.do(http.MethodGet, "/status/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"extraction_id": "`+id+`",
		"status": "initialized",
		"progress": 0,
		"completed_urls": [],
		"pending_urls": ["https://docs.example.com"],
		"error_urls": []
	}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/status/extraction_missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ResultsBeforeCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	id := env.submit(t, validBody)

	rec := env.do(http.MethodGet, "/results/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, status.NotReadyMessage, body["message"])
	require.Equal(t, []any{}, body["extracted_entities"])

	rec = env.do(http.MethodGet, "/results/extraction_missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelAndDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	id := env.submit(t, validBody)

	rec := env.do(http.MethodPost, "/extract/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", decode(t, rec)["status"])

	rec = env.do(http.MethodPost, "/extract/"+id+"/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodDelete, "/extract/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/status/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodDelete, "/extract/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodPost, "/extract/extraction_missing/cancel", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := env.do(http.MethodPost, "/extract", validBody)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(validBody))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code, "health checks stay open")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := newTestEnv(t, config.Config{}).do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := func(context.Context) error { return errors.New("redis down") }
	rec = newTestEnv(t, config.Config{}, failing).do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.do(http.MethodGet, "/healthz", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "job-" + string(rune('0'+f.n)), nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}
