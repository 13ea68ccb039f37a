package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/outcome"
	"github.com/loykin/warden/internal/status"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/loykin/warden/internal/tail"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

type testEnv struct {
	handler http.Handler
	sup     *supervisor.Supervisor
	store   *outcome.FileStore
	logPath string
}

func setupEnv(t *testing.T, base, command string, withMetrics bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "worker.log")
	store, err := outcome.NewFileStore(outcome.Config{Dir: dir})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sup := supervisor.New(supervisor.Config{
		Command:     command,
		StopTimeout: 2 * time.Second,
		Log:         logger.FileConfig{Path: logPath},
	})
	t.Cleanup(func() {
		_ = sup.Stop()
		_ = sup.Close()
	})
	r := NewRouter(Deps{
		Supervisor:    sup,
		Status:        status.New(sup, store, 0),
		Outcomes:      store,
		Tailer:        tail.New(logPath),
		EnableMetrics: withMetrics,
	}, base)
	return &testEnv{handler: r.Handler(), sup: sup, store: store, logPath: logPath}
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse json %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	rec := doReq(t, env.handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["status"] != "healthy" {
		t.Fatalf("status = %v", resp["status"])
	}
	if v, _ := resp["version"].(string); v == "" {
		t.Fatalf("version missing: %v", resp)
	}
	if ts, _ := resp["timestamp"].(string); ts == "" {
		t.Fatalf("timestamp missing: %v", resp)
	}
}

func TestStatusEndpointShape(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	if err := env.store.RecordSuccess(outcome.Record{Identifier: "acct-1"}); err != nil {
		t.Fatal(err)
	}
	if err := env.store.RecordFailure(outcome.Record{Identifier: "acct-2"}); err != nil {
		t.Fatal(err)
	}

	rec := doReq(t, env.handler, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["success_count"] != float64(1) || resp["failed_count"] != float64(1) {
		t.Fatalf("counts wrong: %v", resp)
	}
	if resp["total_attempts"] != float64(2) {
		t.Fatalf("total_attempts wrong: %v", resp["total_attempts"])
	}
	if resp["server_status"] != "healthy" {
		t.Fatalf("server_status = %v", resp["server_status"])
	}
	proc, ok := resp["process"].(map[string]any)
	if !ok {
		t.Fatalf("process block missing: %v", resp)
	}
	if proc["running"] != false || proc["state"] != "stopped" {
		t.Fatalf("idle process expected: %v", proc)
	}
	if _, ok := resp["generated_at"]; !ok {
		t.Fatalf("generated_at missing: %v", resp)
	}
	if latest, ok := resp["latest_success"].([]any); !ok || len(latest) != 1 {
		t.Fatalf("latest_success: %v", resp["latest_success"])
	}
}

func TestStartStopLifecycle(t *testing.T) {
	requireUnix(t)
	env := setupEnv(t, "", "sleep 5", false)

	rec := doReq(t, env.handler, http.MethodPost, "/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var started startResp
	decode(t, rec, &started)
	if started.Status != "started" || started.PID <= 0 {
		t.Fatalf("start response: %+v", started)
	}

	// Double start is rejected without spawning a second worker.
	rec = doReq(t, env.handler, http.MethodPost, "/start", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second start expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var e errorResp
	decode(t, rec, &e)
	if e.Error != "worker already running" {
		t.Fatalf("error text: %q", e.Error)
	}

	rec = doReq(t, env.handler, http.MethodGet, "/is_running", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("is_running expected 200, got %d", rec.Code)
	}
	var running runningResp
	decode(t, rec, &running)
	if !running.Running || running.State != supervisor.StateRunning || running.PID != started.PID {
		t.Fatalf("is_running: %+v (started pid %d)", running, started.PID)
	}

	rec = doReq(t, env.handler, http.MethodPost, "/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stopped stopResp
	decode(t, rec, &stopped)
	if stopped.Status != "stopped" || stopped.ExitCode == nil {
		t.Fatalf("stop response: %+v", stopped)
	}

	rec = doReq(t, env.handler, http.MethodPost, "/stop", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second stop expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &e)
	if e.Error != "worker not running" {
		t.Fatalf("error text: %q", e.Error)
	}
}

func TestStopWithoutStart(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	rec := doReq(t, env.handler, http.MethodPost, "/stop", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartSpawnFailure(t *testing.T) {
	env := setupEnv(t, "", "/nonexistent/worker-binary", false)
	rec := doReq(t, env.handler, http.MethodPost, "/start", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var e errorResp
	decode(t, rec, &e)
	if !strings.Contains(e.Error, "spawn") {
		t.Fatalf("error text: %q", e.Error)
	}
	// The failed attempt must not block a later start.
	rec = doReq(t, env.handler, http.MethodGet, "/is_running", nil)
	var running runningResp
	decode(t, rec, &running)
	if running.Running {
		t.Fatalf("worker should not be running: %+v", running)
	}
}

func TestLogEndpoint(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	content := "alpha\nbravo\ncharlie\n"
	if err := os.WriteFile(env.logPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doReq(t, env.handler, http.MethodGet, "/log?lines=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp logResp
	decode(t, rec, &resp)
	if resp.LineCount != 2 || !resp.FileExists {
		t.Fatalf("log response: %+v", resp)
	}
	if len(resp.Lines) != 2 || resp.Lines[0] != "bravo" || resp.Lines[1] != "charlie" {
		t.Fatalf("lines wrong or out of order: %v", resp.Lines)
	}
	if resp.Log != "bravo\ncharlie" {
		t.Fatalf("joined log: %q", resp.Log)
	}

	// Default request returns everything the small file has.
	rec = doReq(t, env.handler, http.MethodGet, "/log", nil)
	decode(t, rec, &resp)
	if resp.LineCount != 3 {
		t.Fatalf("default tail: %+v", resp)
	}

	// lines=0 is an empty request, not an error.
	rec = doReq(t, env.handler, http.MethodGet, "/log?lines=0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lines=0 expected 200, got %d", rec.Code)
	}
	decode(t, rec, &resp)
	if resp.LineCount != 0 || len(resp.Lines) != 0 {
		t.Fatalf("lines=0 response: %+v", resp)
	}

	rec = doReq(t, env.handler, http.MethodGet, "/log?lines=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed lines expected 400, got %d", rec.Code)
	}
}

func TestLogMissingFile(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	rec := doReq(t, env.handler, http.MethodGet, "/log", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp logResp
	decode(t, rec, &resp)
	if resp.FileExists || resp.LineCount != 0 {
		t.Fatalf("missing file response: %+v", resp)
	}
}

func TestOutcomeEndpoint(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)

	body := outcomeReq{
		Result:     "success",
		Identifier: "acct-1",
		Detail:     map[string]string{"site": "example"},
	}
	rec := doReq(t, env.handler, http.MethodPost, "/outcomes", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ok okResp
	decode(t, rec, &ok)
	if !ok.OK {
		t.Fatalf("ok response: %+v", ok)
	}
	m, err := env.store.Load(outcome.KindSuccess)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, found := m["acct-1"]
	if !found || got.Detail["site"] != "example" || got.Timestamp.IsZero() {
		t.Fatalf("stored record: %+v", got)
	}

	// Unknown result kind.
	rec = doReq(t, env.handler, http.MethodPost, "/outcomes",
		outcomeReq{Result: "maybe", Identifier: "acct-2"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad result expected 400, got %d", rec.Code)
	}

	// Missing identifier.
	rec = doReq(t, env.handler, http.MethodPost, "/outcomes",
		outcomeReq{Result: "failure"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing identifier expected 400, got %d", rec.Code)
	}

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/outcomes", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Fatalf("malformed body expected 400, got %d", raw.Code)
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (c *captureSink) Send(_ context.Context, e history.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) all() []history.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]history.Event(nil), c.events...)
}

func TestOutcomeEmitsHistoryEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	store, err := outcome.NewFileStore(outcome.Config{Dir: dir})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sup := supervisor.New(supervisor.Config{Command: "sleep 5"})
	sink := &captureSink{}
	r := NewRouter(Deps{
		Supervisor: sup,
		Status:     status.New(sup, store, 0),
		Outcomes:   store,
		Tailer:     tail.New(filepath.Join(dir, "worker.log")),
		History:    history.NewRecorder(sink),
	}, "")
	h := r.Handler()

	rec := doReq(t, h, http.MethodPost, "/outcomes", outcomeReq{
		Result:     "failure",
		Identifier: "acct-9",
		Detail:     map[string]string{"reason": "captcha"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != history.EventFailure || e.Identifier != "acct-9" {
		t.Fatalf("event: %+v", e)
	}
	if !strings.Contains(e.Detail, "captcha") {
		t.Fatalf("detail not flattened: %q", e.Detail)
	}

	// Rejected reports must not reach the sinks.
	rec = doReq(t, h, http.MethodPost, "/outcomes", outcomeReq{Result: "failure"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := len(sink.all()); got != 1 {
		t.Fatalf("rejected report reached sink: %d events", got)
	}
}

func TestBasePathMounting(t *testing.T) {
	env := setupEnv(t, "/api/", "sleep 5", false) // ensure base sanitization works
	rec := doReq(t, env.handler, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under base path, got %d", rec.Code)
	}
	rec = doReq(t, env.handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unprefixed path expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", true)
	rec := doReq(t, env.handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("content-type: %s", ct)
	}
}

func TestMetricsEndpointDisabled(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	rec := doReq(t, env.handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNewServerStartClose(t *testing.T) {
	env := setupEnv(t, "", "sleep 5", false)
	srv, err := NewServer("127.0.0.1:0", "/x", Deps{
		Supervisor: env.sup,
		Status:     status.New(env.sup, env.store, 0),
		Outcomes:   env.store,
		Tailer:     tail.New(env.logPath),
	})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	// Close immediately; we don't assert more here, just exercise the code path
	_ = srv.Close()
}
