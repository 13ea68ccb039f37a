package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkerWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.log")
	w := FileConfig{Path: path}.Writer()
	if w == nil {
		t.Fatalf("expected writer when path is set")
	}
	if _, err := w.Write([]byte("hello-worker\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log not created at %s: %v", path, err)
	}
	if !strings.Contains(string(b), "hello-worker") {
		t.Fatalf("unexpected log contents: %q", b)
	}
}

func TestWorkerWriterNilWithoutPath(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer when no path configured")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewSloggerJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.log")
	lg := SlogConfig{Level: "debug", Format: FormatJSON, File: path}.NewSlogger()
	lg.Debug("json test", "k", "v")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", b, err)
	}
	if entry["msg"] != "json test" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewSloggerRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.log")
	lg := SlogConfig{Level: "warn", File: path}.NewSlogger()
	lg.Info("hidden")
	lg.Warn("visible")

	b, _ := os.ReadFile(path)
	s := string(b)
	if strings.Contains(s, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %q", s)
	}
	if !strings.Contains(s, "visible") {
		t.Fatalf("warn line missing: %q", s)
	}
}

func TestColorHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := slog.New(NewColorTextHandler(&buf, nil))
	lg.Error("boom")
	out := buf.String()
	if !strings.Contains(out, "\033[31m") || !strings.Contains(out, "boom") {
		t.Fatalf("expected colored error output, got %q", out)
	}
}
