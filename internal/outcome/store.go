// Package outcome persists the worker's success/failure records as two
// JSON files, each an identifier-keyed mapping. The worker rewrites these
// files on its own schedule, so every read goes back to disk and a missing
// or damaged file is treated as an empty collection rather than an error.
package outcome

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	ErrStorageRead     = errors.New("outcome storage read failure")
	ErrStorageWrite    = errors.New("outcome storage write failure")
	ErrEmptyIdentifier = errors.New("outcome record requires an identifier")
	ErrUnknownKind     = errors.New("unknown outcome kind")
)

// Config locates the two collection files inside one state directory.
type Config struct {
	Dir         string `json:"dir" mapstructure:"dir"`
	SuccessFile string `json:"success_file" mapstructure:"success_file"`
	FailureFile string `json:"failure_file" mapstructure:"failure_file"`
}

// FileStore reads and writes the outcome collections. The mutex only
// serializes writers within this process; the worker may replace the
// files out-of-band at any time and the last writer wins.
type FileStore struct {
	mu          sync.Mutex
	successPath string
	failurePath string
}

// NewFileStore ensures the state directory exists and returns a store
// over the two collection files.
func NewFileStore(cfg Config) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("outcome dir required")
	}
	if cfg.SuccessFile == "" {
		cfg.SuccessFile = "successful.json"
	}
	if cfg.FailureFile == "" {
		cfg.FailureFile = "failed.json"
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create outcome dir: %w", err)
	}
	return &FileStore{
		successPath: filepath.Join(cfg.Dir, cfg.SuccessFile),
		failurePath: filepath.Join(cfg.Dir, cfg.FailureFile),
	}, nil
}

// Path returns the backing file for a kind, mainly for tests and tooling.
func (s *FileStore) Path(kind Kind) string {
	if kind == KindFailure {
		return s.failurePath
	}
	return s.successPath
}

// RecordSuccess upserts a record into the success collection.
func (s *FileStore) RecordSuccess(rec Record) error { return s.record(KindSuccess, rec) }

// RecordFailure upserts a record into the failure collection.
func (s *FileStore) RecordFailure(rec Record) error { return s.record(KindFailure, rec) }

// Record upserts into the collection named by kind.
func (s *FileStore) Record(kind Kind, rec Record) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return s.record(kind, rec)
}

func (s *FileStore) record(kind Kind, rec Record) error {
	if rec.Identifier == "" {
		return ErrEmptyIdentifier
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(kind)
	m, err := readCollection(path)
	if err != nil {
		// The previous contents are unreadable; start from empty rather
		// than refuse the new record.
		slog.Warn("outcome collection unreadable, rewriting", "path", path, "error", err)
		m = map[string]Record{}
	}
	m[rec.Identifier] = rec

	if err := writeCollection(path, m); err != nil {
		slog.Warn("outcome write failed, retrying once", "path", path, "error", err)
		if err = writeCollection(path, m); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageWrite, err)
		}
	}
	return nil
}

// Load returns the collection for kind. A missing file is an empty
// collection; malformed JSON is logged and treated as empty too, so a
// half-written file from the worker never surfaces as a hard failure.
func (s *FileStore) Load(kind Kind) (map[string]Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return readCollection(s.Path(kind))
}

// Counts re-reads both files and tallies them. It never fails: any read
// trouble degrades that collection to zero with a warning.
func (s *FileStore) Counts() Counts {
	var c Counts
	c.Success = len(s.loadOrEmpty(KindSuccess))
	c.Failure = len(s.loadOrEmpty(KindFailure))
	return c
}

// Recent returns up to n records of one collection, newest first.
func (s *FileStore) Recent(kind Kind, n int) []Record {
	if n <= 0 {
		return []Record{}
	}
	m := s.loadOrEmpty(kind)
	recs := make([]Record, 0, len(m))
	for _, r := range m {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp.After(recs[j].Timestamp) })
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs
}

// LastUpdated returns the newest timestamp across both collections, or
// the zero time when there are no records.
func (s *FileStore) LastUpdated() time.Time {
	var last time.Time
	for _, kind := range []Kind{KindSuccess, KindFailure} {
		for _, r := range s.loadOrEmpty(kind) {
			if r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
	}
	return last
}

func (s *FileStore) loadOrEmpty(kind Kind) map[string]Record {
	m, err := readCollection(s.Path(kind))
	if err != nil {
		slog.Warn("outcome collection unreadable", "path", s.Path(kind), "error", err)
		return map[string]Record{}
	}
	return m
}

func readCollection(path string) (map[string]Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageRead, path, err)
	}
	if len(b) == 0 {
		return map[string]Record{}, nil
	}
	var m map[string]Record
	if err := json.Unmarshal(b, &m); err != nil {
		slog.Warn("outcome collection malformed, treating as empty", "path", path, "error", err)
		return map[string]Record{}, nil
	}
	if m == nil {
		m = map[string]Record{}
	}
	return m, nil
}

// writeCollection replaces path atomically: marshal to a uniquely named
// temp file in the same directory, then rename over the final path. A
// crash mid-write leaves only a stray temp file, never a torn final file.
func writeCollection(path string, m map[string]Record) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal collection: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
