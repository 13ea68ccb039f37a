// Package warden supervises one long-running worker process and reports
// its state, log tail and outcome statistics over HTTP.
package warden

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cfg "github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/outcome"
	iapi "github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/status"
	"github.com/loykin/warden/internal/supervisor"
	"github.com/loykin/warden/internal/tail"
	"github.com/prometheus/client_golang/prometheus"
)

// Version of the warden control plane, reported by /health.
const Version = iapi.Version

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type WorkerConfig = supervisor.Config

type OutcomesConfig = cfg.OutcomesConfig

type ServerConfig = cfg.ServerConfig

type MetricsConfig = cfg.MetricsConfig

type HistoryConfig = cfg.HistoryConfig

type Status = supervisor.Status

type State = supervisor.State

type Snapshot = status.Snapshot

type ProcessInfo = status.ProcessInfo

type Record = outcome.Record

type Kind = outcome.Kind

type HistorySink = history.Sink

type HistoryEvent = history.Event

// WorkerLogConfig rotates the worker's combined stdout/stderr file.
type WorkerLogConfig = logger.FileConfig

// LogConfig tunes warden's own structured logging.
type LogConfig = logger.SlogConfig

const (
	StateStopped  = supervisor.StateStopped
	StateStarting = supervisor.StateStarting
	StateRunning  = supervisor.StateRunning
	StateStopping = supervisor.StateStopping

	KindSuccess = outcome.KindSuccess
	KindFailure = outcome.KindFailure
)

// Sentinel errors for errors.Is at the embedding boundary.
var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
	ErrSpawnFailed    = supervisor.ErrSpawnFailed
	ErrStopFailed     = supervisor.ErrStopFailed
)

// Warden is a thin facade over the supervisor, outcome store, log tailer
// and status aggregator. It provides a stable public API for embedding.
type Warden struct {
	sup       *supervisor.Supervisor
	store     *outcome.FileStore
	tailer    *tail.Tailer
	agg       *status.Aggregator
	rec       *history.Recorder
	metricsOn bool
}

// New wires a Warden from configuration. A history DSN, when set, opens
// the matching sink; everything else is local state.
func New(c Config) (*Warden, error) {
	store, err := outcome.NewFileStore(c.Outcomes.StoreConfig())
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(c.Worker)
	w := &Warden{
		sup:       sup,
		store:     store,
		tailer:    tail.New(c.Worker.Log.Path),
		agg:       status.New(sup, store, c.Outcomes.RecentLimit),
		metricsOn: c.Metrics.Enabled,
	}
	if c.History.DSN != "" {
		sink, err := history.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		w.rec = history.NewRecorder(sink)
		sup.SetRecorder(w.rec)
	}
	return w, nil
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// Start spawns the worker process.
func (w *Warden) Start() error { return w.sup.Start() }

// Stop terminates the worker, escalating to SIGKILL after the configured
// grace period.
func (w *Warden) Stop() error { return w.sup.Stop() }

// IsRunning reports the reconciled liveness and lifecycle state.
func (w *Warden) IsRunning() (bool, State) { return w.sup.IsRunning() }

// Worker returns the reconciled process status.
func (w *Warden) Worker() Status { return w.sup.Snapshot() }

// Status returns the combined statistics and process snapshot.
func (w *Warden) Status() Snapshot { return w.agg.Snapshot() }

// Tail returns up to n lines from the end of the worker log.
func (w *Warden) Tail(n int) ([]string, error) { return w.tailer.Tail(n) }

// RecordSuccess upserts a success record for rec.Identifier.
func (w *Warden) RecordSuccess(rec Record) error { return w.RecordOutcome(KindSuccess, rec) }

// RecordFailure upserts a failure record for rec.Identifier.
func (w *Warden) RecordFailure(rec Record) error { return w.RecordOutcome(KindFailure, rec) }

// RecordOutcome persists one outcome and streams it to the history sinks.
func (w *Warden) RecordOutcome(kind Kind, rec Record) error {
	if err := w.store.Record(kind, rec); err != nil {
		return err
	}
	w.rec.Record(outcomeEvent(kind, rec))
	return nil
}

// SetHistorySinks replaces the lifecycle/outcome event sinks. Pass none
// to disable event streaming.
func (w *Warden) SetHistorySinks(sinks ...HistorySink) {
	w.rec = history.NewRecorder(sinks...)
	w.sup.SetRecorder(w.rec)
}

// NewHistorySink opens a sink from a DSN. Supported schemes are
// sqlite://, postgres:// and clickhouse://.
func NewHistorySink(dsn string) (HistorySink, error) { return history.NewSinkFromDSN(dsn) }

// Router returns an embeddable http.Handler serving the control API
// under basePath.
func (w *Warden) Router(basePath string) http.Handler {
	return iapi.NewRouter(w.deps(), basePath).Handler()
}

// Close releases the worker log writer and the history sinks. It does
// not stop a running worker; call Stop first when that is the intent.
func (w *Warden) Close() error {
	err := w.sup.Close()
	if cerr := w.rec.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (w *Warden) deps() iapi.Deps {
	return iapi.Deps{
		Supervisor:    w.sup,
		Status:        w.agg,
		Outcomes:      w.store,
		Tailer:        w.tailer,
		History:       w.rec,
		EnableMetrics: w.metricsOn,
	}
}

func outcomeEvent(kind Kind, rec Record) HistoryEvent {
	e := HistoryEvent{
		Type:       history.EventType(kind),
		Identifier: rec.Identifier,
	}
	if len(rec.Detail) > 0 {
		if b, err := json.Marshal(rec.Detail); err == nil {
			e.Detail = string(b)
		}
	}
	return e
}

// NewHTTPServer starts an HTTP server exposing the control API for the given warden.
func NewHTTPServer(addr, basePath string, w *Warden) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, w.deps())
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// RegisterUsageMetrics adds the per-process resource gauges, which pull
// CPU/memory samples for the worker PID on every status snapshot.
func RegisterUsageMetrics(r prometheus.Registerer) error { return metrics.RegisterUsage(r) }
func RegisterUsageMetricsDefault() error                 { return metrics.RegisterUsage(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
