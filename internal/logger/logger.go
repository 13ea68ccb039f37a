// Package logger carries the two logging concerns of warden: structured
// slog output for the control plane itself, and the rotated file the
// supervised worker's stdout/stderr stream into.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Log formats for warden's own output.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// SlogConfig configures warden's own structured logging.
type SlogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug|info|warn|error
	Format string `json:"format" mapstructure:"format"` // text|json
	Color  bool   `json:"color" mapstructure:"color"`   // ANSI colors (text format only)
	File   string `json:"file" mapstructure:"file"`     // write to a rotated file instead of stderr
}

// FileConfig configures the worker's combined stdout/stderr log file.
// The tailer reads Path, so rotation keeps writing to the same name.
type FileConfig struct {
	Path       string `json:"path" mapstructure:"path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Config bundles both concerns the way the config file groups them.
type Config struct {
	Slog SlogConfig `json:"slog" mapstructure:"slog"`
	File FileConfig `json:"file" mapstructure:"file"`
}

// ParseLevel maps a config string to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds warden's application logger from the config. With a
// File set, output rotates via lumberjack and colors are disabled; the
// caller usually installs the result with slog.SetDefault.
func (c SlogConfig) NewSlogger() *slog.Logger {
	var w io.Writer = os.Stderr
	color := c.Color
	if c.File != "" {
		_ = os.MkdirAll(filepath.Dir(c.File), 0o750)
		w = &lj.Logger{
			Filename:   c.File,
			MaxSize:    DefaultMaxSizeMB,
			MaxBackups: DefaultMaxBackups,
			MaxAge:     DefaultMaxAgeDays,
		}
		color = false
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var h slog.Handler
	switch {
	case strings.EqualFold(c.Format, FormatJSON):
		h = slog.NewJSONHandler(w, opts)
	case color:
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Writer returns the WriteCloser the worker's stdout and stderr are both
// attached to. Returns nil when no path is configured; the caller then
// discards worker output.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	_ = os.MkdirAll(filepath.Dir(c.Path), 0o750)
	return &lj.Logger{
		Filename:   c.Path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
