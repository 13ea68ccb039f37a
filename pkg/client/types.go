package client

import "time"

// HealthInfo is the GET /health response.
type HealthInfo struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// OutcomeRecord is one stored worker outcome.
type OutcomeRecord struct {
	Identifier string            `json:"identifier"`
	Timestamp  time.Time         `json:"timestamp"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// ProcessInfo is the process block inside a status report.
type ProcessInfo struct {
	Running   bool       `json:"running"`
	State     string     `json:"state"`
	PID       int        `json:"pid,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Uptime    string     `json:"uptime,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	ExitErr   string     `json:"exit_err,omitempty"`
}

// ResourceUsage is the sampled CPU/memory block, present while the
// worker runs.
type ResourceUsage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusReport is the GET /status response.
type StatusReport struct {
	SuccessCount   int             `json:"success_count"`
	FailedCount    int             `json:"failed_count"`
	TotalAttempts  int             `json:"total_attempts"`
	LatestSuccess  []OutcomeRecord `json:"latest_success"`
	LatestFailures []OutcomeRecord `json:"latest_failures"`
	LastUpdated    *time.Time      `json:"last_updated,omitempty"`
	Process        ProcessInfo     `json:"process"`
	Usage          *ResourceUsage  `json:"usage,omitempty"`
	ServerStatus   string          `json:"server_status"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// StartResult is the POST /start response.
type StartResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

// StopResult is the POST /stop response.
type StopResult struct {
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// RunningInfo is the GET /is_running response.
type RunningInfo struct {
	Running bool   `json:"running"`
	State   string `json:"state"`
	PID     int    `json:"pid,omitempty"`
}

// LogChunk is the GET /log response.
type LogChunk struct {
	Log        string   `json:"log"`
	Lines      []string `json:"lines"`
	LineCount  int      `json:"line_count"`
	FileExists bool     `json:"file_exists"`
}

// OutcomeRequest reports one worker outcome through POST /outcomes.
type OutcomeRequest struct {
	Result     string            `json:"result"`
	Identifier string            `json:"identifier"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
