package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/metrics"
)

var (
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
	ErrSpawnFailed    = errors.New("worker spawn failed")
	ErrStopFailed     = errors.New("worker stop failed")
)

const (
	// DefaultStopTimeout bounds the SIGTERM grace period before escalation.
	DefaultStopTimeout = 5 * time.Second

	// reapGrace bounds how long callers wait for the reaper to record an
	// exit that liveness probing has already observed.
	reapGrace = 2 * time.Second

	// killGrace bounds the wait for the reaper after SIGKILL.
	killGrace = 200 * time.Millisecond
)

// State is the lifecycle state of the supervised worker.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is a point-in-time view of the worker. PID is nonzero exactly
// while Running is true; ExitCode and ExitErr describe the most recent
// completed run.
type Status struct {
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	ExitErr   string    `json:"exit_err,omitempty"`
}

// Config describes the worker command and how to run it.
type Config struct {
	Command     string            `json:"command" mapstructure:"command"`
	WorkDir     string            `json:"work_dir" mapstructure:"work_dir"`
	Env         []string          `json:"env" mapstructure:"env"`
	EnvFiles    []string          `json:"env_files" mapstructure:"env_files"`
	StopTimeout time.Duration     `json:"stop_timeout" mapstructure:"stop_timeout"`
	StartWindow time.Duration     `json:"start_window" mapstructure:"start_window"`
	Log         logger.FileConfig `json:"log" mapstructure:"log"`
}

// Supervisor owns exactly one worker process at a time. Start, Stop,
// IsRunning and Snapshot are safe for concurrent use.
type Supervisor struct {
	mu       sync.Mutex
	cfg      Config
	launch   LaunchFunc
	handle   Handle
	status   Status
	stopping bool          // Stop has been requested for the current run
	waitDone chan struct{} // closed by the reaper when the run ends
	logW     io.WriteCloser
	rec      *history.Recorder
}

func New(cfg Config) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		cfg:    cfg,
		launch: launchWorker,
		status: Status{State: StateStopped},
	}
}

// SetRecorder attaches a history recorder. Events are best-effort; a nil
// recorder disables them.
func (s *Supervisor) SetRecorder(r *history.Recorder) {
	s.mu.Lock()
	s.rec = r
	s.mu.Unlock()
}

// Config returns a copy of the worker configuration.
func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Start spawns the worker. It returns ErrAlreadyRunning when a worker is
// being started, running, or still shutting down, so at most one process
// exists at any time. With a start window configured, Start additionally
// requires the worker to stay up for that duration.
func (s *Supervisor) Start() error {
	// Probe the live process first so a worker that died out of band can
	// be restarted right away instead of reporting ErrAlreadyRunning.
	s.reconcile()
	s.mu.Lock()
	if s.status.State != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = Status{State: StateStarting}
	runID := uuid.NewString()
	cfg := s.cfg
	launch := s.launch
	out := s.ensureLogWriterLocked()
	s.mu.Unlock()

	h, err := launch(cfg, out)
	if err != nil {
		s.mu.Lock()
		s.status = Status{State: StateStopped, ExitErr: err.Error()}
		s.mu.Unlock()
		metrics.IncSpawnFailure()
		slog.Warn("worker spawn failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.handle = h
	s.stopping = false
	s.waitDone = done
	s.status = Status{
		State:     StateRunning,
		Running:   true,
		PID:       h.PID(),
		RunID:     runID,
		StartedAt: time.Now(),
	}
	s.mu.Unlock()

	metrics.IncStart()
	metrics.SetRunning(true)
	s.record(history.Event{Type: history.EventStart, RunID: runID, PID: h.PID()})
	slog.Info("worker started", "pid", h.PID(), "run_id", runID)

	go s.reap(h, done)

	if cfg.StartWindow > 0 {
		if err := s.enforceStartWindow(h, done, cfg.StartWindow); err != nil {
			return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
		}
	}
	return nil
}

// Stop asks the worker to shut down and waits for it to exit. The first
// caller sends SIGTERM to the process group, waits up to the configured
// stop timeout, then escalates to SIGKILL. Concurrent callers do not
// signal again; they wait for the same exit and observe the same result.
// A worker that exits nonzero after SIGTERM still counts as stopped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	h := s.handle
	wd := s.waitDone
	if h == nil || wd == nil || s.status.State == StateStopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	timeout := s.cfg.StopTimeout
	runID := s.status.RunID
	claimed := !s.stopping
	if claimed {
		s.stopping = true
		s.status.State = StateStopping
	}
	s.mu.Unlock()

	if !claimed {
		select {
		case <-wd:
			return nil
		case <-time.After(timeout + killGrace + time.Second):
			return fmt.Errorf("%w: timed out waiting for worker exit", ErrStopFailed)
		}
	}

	pid := h.PID()
	metrics.IncStop()
	s.record(history.Event{Type: history.EventStop, RunID: runID, PID: pid})
	slog.Info("stopping worker", "pid", pid, "run_id", runID)
	_ = h.Terminate()

	select {
	case <-wd:
		return nil
	case <-time.After(timeout):
	}

	slog.Warn("worker did not exit in time, killing", "pid", pid, "timeout", timeout)
	metrics.IncKill()
	_ = h.Kill()
	select {
	case <-wd:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("%w: worker did not exit after SIGKILL", ErrStopFailed)
	}
}

// IsRunning reports whether the worker is alive, reconciling against the
// actual process first so an out-of-band death is reflected immediately.
func (s *Supervisor) IsRunning() (bool, State) {
	st := s.Snapshot()
	return st.Running, st.State
}

// Snapshot returns the current status after reconciling it against the
// actual process state.
func (s *Supervisor) Snapshot() Status {
	s.reconcile()
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	if st.ExitCode != nil {
		c := *st.ExitCode
		st.ExitCode = &c
	}
	return st
}

// Close releases the worker log writer. It does not stop the worker.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	w := s.logW
	s.logW = nil
	s.mu.Unlock()
	if w != nil {
		return w.Close()
	}
	return nil
}

// reconcile probes the process when we believe a run is active. When the
// process is gone it waits briefly for the reaper so the recorded status
// reflects the exit before callers read it.
func (s *Supervisor) reconcile() {
	s.mu.Lock()
	h := s.handle
	wd := s.waitDone
	st := s.status.State
	s.mu.Unlock()

	if h == nil || wd == nil || st == StateStopped {
		return
	}
	if h.Alive() {
		return
	}
	select {
	case <-wd:
	case <-time.After(reapGrace):
	}
}

// reap waits for the worker to exit and records the terminal status. It is
// the only goroutine that calls Handle.Wait and the only closer of done.
func (s *Supervisor) reap(h Handle, done chan struct{}) {
	ex := h.Wait()
	code := ex.Code

	s.mu.Lock()
	runID := s.status.RunID
	pid := s.status.PID
	s.status.Running = false
	s.status.State = StateStopped
	s.status.StoppedAt = time.Now()
	s.status.PID = 0
	s.status.ExitCode = &code
	if ex.Err != nil {
		s.status.ExitErr = ex.Err.Error()
	}
	s.waitDone = nil
	s.stopping = false
	s.mu.Unlock()
	close(done)

	metrics.SetRunning(false)
	s.record(history.Event{Type: history.EventExit, RunID: runID, PID: pid, ExitCode: &code})
	slog.Info("worker exited", "run_id", runID, "pid", pid, "exit_code", code)
}

// enforceStartWindow waits until d ensuring the worker stays up; it
// returns an error if the worker exits early.
func (s *Supervisor) enforceStartWindow(h Handle, done chan struct{}, d time.Duration) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return fmt.Errorf("worker exited before start window %s", d)
		case <-time.After(10 * time.Millisecond):
		}
		if !h.Alive() {
			select {
			case <-done:
			case <-time.After(reapGrace):
			}
			return fmt.Errorf("worker exited before start window %s", d)
		}
	}
	return nil
}

// ensureLogWriterLocked lazily opens the rotating worker log writer and
// reuses it across restarts. Callers must hold s.mu.
func (s *Supervisor) ensureLogWriterLocked() io.Writer {
	if s.logW == nil && s.cfg.Log.Path != "" {
		s.logW = s.cfg.Log.Writer()
	}
	if s.logW == nil {
		return nil
	}
	return s.logW
}

func (s *Supervisor) record(e history.Event) {
	s.mu.Lock()
	r := s.rec
	s.mu.Unlock()
	r.Record(e)
}
