package outcome

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestCountsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if c := s.Counts(); c.Success != 0 || c.Failure != 0 {
		t.Fatalf("fresh store should be empty, got %+v", c)
	}
	if err := s.RecordSuccess(Record{Identifier: "acct-1"}); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := s.RecordFailure(Record{Identifier: "acct-2"}); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := s.RecordFailure(Record{Identifier: "acct-3"}); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	c := s.Counts()
	if c.Success != 1 || c.Failure != 2 {
		t.Fatalf("expected 1/2, got %+v", c)
	}
	if c.Total() != 3 {
		t.Fatalf("expected total 3, got %d", c.Total())
	}
}

func TestDuplicateIdentifierLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	first := Record{Identifier: "acct-1", Detail: map[string]string{"attempt": "1"}}
	second := Record{Identifier: "acct-1", Detail: map[string]string{"attempt": "2"}}
	if err := s.RecordSuccess(first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSuccess(second); err != nil {
		t.Fatalf("record: %v", err)
	}
	if c := s.Counts(); c.Success != 1 {
		t.Fatalf("duplicate identifier must not add entries, got %+v", c)
	}
	m, err := s.Load(KindSuccess)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m["acct-1"].Detail["attempt"] != "2" {
		t.Fatalf("expected last write to win, got %+v", m["acct-1"])
	}
}

func TestEmptyIdentifierRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordSuccess(Record{})
	if !errors.Is(err, ErrEmptyIdentifier) {
		t.Fatalf("expected ErrEmptyIdentifier, got %v", err)
	}
	if _, statErr := os.Stat(s.Path(KindSuccess)); !os.IsNotExist(statErr) {
		t.Fatalf("rejected record must not create the file")
	}
}

func TestMissingFilesAreEmpty(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Load(KindFailure)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
	if got := s.Recent(KindFailure, 5); len(got) != 0 {
		t.Fatalf("expected no recent records, got %v", got)
	}
}

func TestMalformedFileTreatedAsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(KindSuccess), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := s.Load(KindSuccess)
	if err != nil {
		t.Fatalf("malformed file must not error: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got %v", m)
	}
	if c := s.Counts(); c.Success != 0 {
		t.Fatalf("expected zero counts, got %+v", c)
	}
	// A new record replaces the damaged file with a consistent one.
	if err := s.RecordSuccess(Record{Identifier: "acct-1"}); err != nil {
		t.Fatalf("record over malformed: %v", err)
	}
	if c := s.Counts(); c.Success != 1 {
		t.Fatalf("expected 1 after rewrite, got %+v", c)
	}
}

func TestStrayTempFileNeverCorruptsCollection(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordSuccess(Record{Identifier: "acct-1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Simulate a writer that died mid-write: a truncated temp file next
	// to the real one.
	dir := filepath.Dir(s.Path(KindSuccess))
	stray := filepath.Join(dir, ".successful.json.12345.tmp")
	if err := os.WriteFile(stray, []byte(`{"trunc`), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}
	m, err := s.Load(KindSuccess)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("stray temp file changed the collection: %v", m)
	}
	// The final file itself stays valid JSON.
	b, err := os.ReadFile(s.Path(KindSuccess))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("final file not valid JSON: %v", err)
	}
}

func TestRecentOrderingAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		rec := Record{
			Identifier: fmt.Sprintf("acct-%d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordFailure(rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got := s.Recent(KindFailure, 5)
	if len(got) != 5 {
		t.Fatalf("expected 5 records, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("expected newest first, got %v then %v", got[i-1].Timestamp, got[i].Timestamp)
		}
	}
	if got[0].Identifier != "acct-6" {
		t.Fatalf("expected newest record first, got %s", got[0].Identifier)
	}
	if s.LastUpdated() != base.Add(6*time.Minute) {
		t.Fatalf("unexpected last updated %v", s.LastUpdated())
	}
}

func TestTimestampDefaultsToNow(t *testing.T) {
	s := newTestStore(t)
	before := time.Now().UTC().Add(-time.Second)
	if err := s.RecordSuccess(Record{Identifier: "acct-1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	m, _ := s.Load(KindSuccess)
	ts := m["acct-1"].Timestamp
	if ts.Before(before) || ts.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("timestamp not defaulted sensibly: %v", ts)
	}
}

func TestUnknownKindRejected(t *testing.T) {
	s := newTestStore(t)
	if err := s.Record(Kind("bogus"), Record{Identifier: "x"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := s.Load(Kind("bogus")); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestConcurrentRecorders(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.RecordSuccess(Record{Identifier: fmt.Sprintf("acct-%d", i)})
		}(i)
	}
	wg.Wait()
	if c := s.Counts(); c.Success != 10 {
		t.Fatalf("expected 10 records after concurrent writes, got %+v", c)
	}
}
