package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/outcome"
	"github.com/loykin/warden/internal/status"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/loykin/warden/internal/tail"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// defaultLogLines is how many lines GET /log returns without a lines param.
const defaultLogLines = 50

// Router provides embeddable HTTP handlers for supervising the worker.
// Endpoints:
//
//	GET  {basePath}/health      liveness of warden itself
//	GET  {basePath}/status      outcome statistics plus process state
//	POST {basePath}/start       spawn the worker
//	POST {basePath}/stop        terminate the worker
//	GET  {basePath}/is_running  reconciled process state
//	GET  {basePath}/log         query: lines=N (default 50)
//	POST {basePath}/outcomes    body: {result, identifier, detail}
//	GET  {basePath}/metrics     Prometheus exposition (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *supervisor.Supervisor
	agg      *status.Aggregator
	store    *outcome.FileStore
	tailer   *tail.Tailer
	rec      *history.Recorder
	metrics  bool
	basePath string
}

// Deps are the components the API fronts. History is optional; the rest
// are required. A Tailer over a path that never receives data simply
// reports an absent log file.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Status     *status.Aggregator
	Outcomes   *outcome.FileStore
	Tailer     *tail.Tailer
	History    *history.Recorder
	// EnableMetrics mounts GET /metrics on the same listener.
	EnableMetrics bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/start, /abc/stop, /abc/status.
func NewRouter(deps Deps, basePath string) *Router {
	return &Router{
		sup:      deps.Supervisor,
		agg:      deps.Status,
		store:    deps.Outcomes,
		tailer:   deps.Tailer,
		rec:      deps.History,
		metrics:  deps.EnableMetrics,
		basePath: sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/is_running", r.handleIsRunning)
	group.GET("/log", r.handleLog)
	group.POST("/outcomes", r.handleOutcome)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The returned server can be shut down via its Close or Shutdown methods.
func NewServer(addr, basePath string, deps Deps) (*http.Server, error) {
	r := NewRouter(deps, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type startResp struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type stopResp struct {
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

type runningResp struct {
	Running bool             `json:"running"`
	State   supervisor.State `json:"state"`
	PID     int              `json:"pid,omitempty"`
}

type logResp struct {
	Log        string   `json:"log"`
	Lines      []string `json:"lines"`
	LineCount  int      `json:"line_count"`
	FileExists bool     `json:"file_exists"`
}

// statusResp extends the aggregated snapshot with the control plane's own
// health, mirroring what operators poll for dashboards.
type statusResp struct {
	status.Snapshot
	ServerStatus string `json:"server_status"`
}

type outcomeReq struct {
	Result     string            `json:"result"`
	Identifier string            `json:"identifier"`
	Detail     map[string]string `json:"detail,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{
		Snapshot:     r.agg.Snapshot(),
		ServerStatus: "healthy",
	})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(); err != nil {
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	st := r.sup.Snapshot()
	writeJSON(c, http.StatusOK, startResp{Status: "started", PID: st.PID})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(); err != nil {
		if errors.Is(err, supervisor.ErrNotRunning) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	st := r.sup.Snapshot()
	writeJSON(c, http.StatusOK, stopResp{Status: "stopped", ExitCode: st.ExitCode})
}

func (r *Router) handleIsRunning(c *gin.Context) {
	st := r.sup.Snapshot()
	writeJSON(c, http.StatusOK, runningResp{
		Running: st.Running,
		State:   st.State,
		PID:     st.PID,
	})
}

func (r *Router) handleLog(c *gin.Context) {
	metrics.IncTailRequest()
	n := defaultLogLines
	if raw := c.Query("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be an integer"})
			return
		}
		n = v
	}
	lines, err := r.tailer.Tail(n)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	exists := false
	if _, err := os.Stat(r.tailer.Path); err == nil {
		exists = true
	}
	writeJSON(c, http.StatusOK, logResp{
		Log:        strings.Join(lines, "\n"),
		Lines:      lines,
		LineCount:  len(lines),
		FileExists: exists,
	})
}

func (r *Router) handleOutcome(c *gin.Context) {
	var req outcomeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	kind := outcome.Kind(req.Result)
	if !kind.Valid() {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: `result must be "success" or "failure"`})
		return
	}
	rec := outcome.Record{Identifier: req.Identifier, Detail: req.Detail}
	if err := r.store.Record(kind, rec); err != nil {
		if errors.Is(err, outcome.ErrEmptyIdentifier) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.rec.Record(history.Event{
		Type:       history.EventType(kind),
		Identifier: req.Identifier,
		Detail:     detailString(req.Detail),
	})
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// detailString flattens an outcome detail map for the history stream.
func detailString(detail map[string]string) string {
	if len(detail) == 0 {
		return ""
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(b)
}
