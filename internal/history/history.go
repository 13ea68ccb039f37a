// Package history streams worker lifecycle and outcome events into
// external audit stores. Sinks are write-only: warden never reads them
// back, so a broken sink degrades to warnings instead of failures.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of event being exported.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventExit    EventType = "exit"
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
)

// Event is one audit entry. Lifecycle events carry RunID/PID/ExitCode,
// outcome events carry Identifier; both may attach free-form Detail.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id,omitempty"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/audit systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// sendTimeout bounds each sink write so a stuck backend cannot stall a
// lifecycle operation.
const sendTimeout = 2 * time.Second

// Recorder fans events out to zero or more sinks, best-effort. The zero
// value records nothing and is always safe to call.
type Recorder struct {
	sinks []Sink
}

func NewRecorder(sinks ...Sink) *Recorder {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Recorder{sinks: out}
}

// Record stamps and delivers e to every sink. Failures are logged at
// warn and dropped; delivery never blocks longer than sendTimeout per
// sink.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := s.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close closes all sinks, keeping the first error.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var first error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
