package outcome

import "time"

// Kind selects one of the two outcome collections.
type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
)

// Valid reports whether k names a known collection.
func (k Kind) Valid() bool { return k == KindSuccess || k == KindFailure }

// Record is one outcome event observed for an identifier. Identifier is
// the stable key (an account or session id); Detail carries whatever
// extra context the reporter attached. The worker writes records in this
// exact shape, so field names must stay as they are.
type Record struct {
	Identifier string            `json:"identifier"`
	Timestamp  time.Time         `json:"timestamp"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Counts summarizes both collections.
type Counts struct {
	Success int `json:"success_count"`
	Failure int `json:"failed_count"`
}

// Total is the combined number of recorded outcomes.
func (c Counts) Total() int { return c.Success + c.Failure }
