package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"

	"github.com/loykin/warden/internal/env"
)

// ExitState describes how a worker run ended. Code is the process exit
// code, or -1 when the process was signaled or could not be waited on.
type ExitState struct {
	Code int
	Err  error
}

// Handle is the supervisor's view of a spawned worker. Exactly one
// goroutine calls Wait; PID, Alive and the signal methods are safe to
// call concurrently with it.
type Handle interface {
	PID() int
	Alive() bool
	Terminate() error
	Kill() error
	Wait() ExitState
}

// LaunchFunc spawns the worker and returns a handle to it. Tests
// substitute a fake implementation.
type LaunchFunc func(cfg Config, out io.Writer) (Handle, error)

type execHandle struct {
	cmd       *exec.Cmd
	pid       int
	startUnix int64
}

// launchWorker builds the worker command, assembles its environment and
// starts it in its own process group with stdout and stderr combined
// into out (or discarded when out is nil).
func launchWorker(cfg Config, out io.Writer) (Handle, error) {
	cmd := BuildCommand(cfg.Command)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	em := env.New()
	for _, f := range cfg.EnvFiles {
		if err := em.LoadFile(f); err != nil {
			return nil, err
		}
	}
	cmd.Env = em.Merge(cfg.Env)

	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = out
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	pid := cmd.Process.Pid
	return &execHandle{cmd: cmd, pid: pid, startUnix: procStartUnix(pid)}, nil
}

func (h *execHandle) PID() int { return h.pid }

// Alive probes the process without touching os/exec internals so it stays
// race-free with the concurrent Wait. A zombie counts as dead, and a
// recycled PID is rejected via the recorded start timestamp.
func (h *execHandle) Alive() bool {
	return pidAlive(h.pid, h.startUnix)
}

func (h *execHandle) Terminate() error { return terminateGroup(h.pid) }

func (h *execHandle) Kill() error { return killGroup(h.pid) }

func (h *execHandle) Wait() ExitState {
	err := h.cmd.Wait()
	if err == nil {
		return ExitState{Code: 0}
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ExitState{Code: ee.ExitCode(), Err: err}
	}
	return ExitState{Code: -1, Err: err}
}
