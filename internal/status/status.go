package status

import (
	"time"

	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/outcome"
	"github.com/loykin/warden/internal/supervisor"
)

// DefaultRecentLimit is how many recent records each outcome list carries.
const DefaultRecentLimit = 5

// Source provides the live worker status.
type Source interface {
	Snapshot() supervisor.Status
}

// ProcessInfo is the wire form of the worker state inside a Snapshot.
// PID, run id and the timing fields appear only when they carry
// information; Uptime is a duration string like "1m30s" and is present
// only while the worker runs.
type ProcessInfo struct {
	Running   bool             `json:"running"`
	State     supervisor.State `json:"state"`
	PID       int              `json:"pid,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	StoppedAt *time.Time       `json:"stopped_at,omitempty"`
	Uptime    string           `json:"uptime,omitempty"`
	ExitCode  *int             `json:"exit_code,omitempty"`
	ExitErr   string           `json:"exit_err,omitempty"`
}

// Snapshot is the combined operator-facing view: outcome counters, the
// most recent records and the worker process state. Reporting never
// fails; counters read as zero when the outcome files are unreadable.
type Snapshot struct {
	SuccessCount   int                    `json:"success_count"`
	FailedCount    int                    `json:"failed_count"`
	TotalAttempts  int                    `json:"total_attempts"`
	LatestSuccess  []outcome.Record       `json:"latest_success"`
	LatestFailures []outcome.Record       `json:"latest_failures"`
	LastUpdated    *time.Time             `json:"last_updated,omitempty"`
	Process        ProcessInfo            `json:"process"`
	Usage          *metrics.ResourceUsage `json:"usage,omitempty"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// Aggregator builds Snapshots from a worker source and the outcome store.
type Aggregator struct {
	sup         Source
	store       *outcome.FileStore
	recentLimit int
}

func New(sup Source, store *outcome.FileStore, recentLimit int) *Aggregator {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Aggregator{sup: sup, store: store, recentLimit: recentLimit}
}

// Snapshot assembles the current view and refreshes the worker gauges as a
// side effect. Outcome files are re-read on every call so out-of-band
// writes by the worker are always reflected.
func (a *Aggregator) Snapshot() Snapshot {
	ws := a.sup.Snapshot()
	counts := a.store.Counts()

	snap := Snapshot{
		SuccessCount:   counts.Success,
		FailedCount:    counts.Failure,
		TotalAttempts:  counts.Total(),
		LatestSuccess:  a.store.Recent(outcome.KindSuccess, a.recentLimit),
		LatestFailures: a.store.Recent(outcome.KindFailure, a.recentLimit),
		Process:        processView(ws),
		GeneratedAt:    time.Now().UTC(),
	}
	if lu := a.store.LastUpdated(); !lu.IsZero() {
		snap.LastUpdated = &lu
	}

	metrics.SetOutcomeRecords(counts.Success, counts.Failure)
	if ws.Running {
		up := time.Since(ws.StartedAt)
		snap.Process.Uptime = up.Round(time.Second).String()
		metrics.SetUptimeSeconds(up.Seconds())
		if usage, err := metrics.SampleWorker(ws.PID); err == nil {
			snap.Usage = &usage
		}
	} else {
		metrics.SetUptimeSeconds(0)
		metrics.ClearWorkerUsage()
	}
	return snap
}

func processView(ws supervisor.Status) ProcessInfo {
	info := ProcessInfo{
		Running:  ws.Running,
		State:    ws.State,
		PID:      ws.PID,
		RunID:    ws.RunID,
		ExitCode: ws.ExitCode,
		ExitErr:  ws.ExitErr,
	}
	if !ws.StartedAt.IsZero() {
		t := ws.StartedAt
		info.StartedAt = &t
	}
	if !ws.StoppedAt.IsZero() {
		t := ws.StoppedAt
		info.StoppedAt = &t
	}
	return info
}
