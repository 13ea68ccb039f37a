// Package tail reads the last N lines of a plain text log file without
// loading the whole file. The worker appends to its log concurrently, so
// reads are best-effort snapshots of whatever is on disk at open time.
package tail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const (
	// DefaultMaxLines caps how many lines a single Tail call may return.
	DefaultMaxLines = 500
	// DefaultMaxWindow caps how many bytes are scanned backwards from EOF.
	DefaultMaxWindow = 1 << 20 // 1 MiB

	chunkSize = 4096
)

// ErrLogRead marks I/O failures other than the file not existing yet.
var ErrLogRead = errors.New("log read failure")

// Tailer reads line suffixes of one log file.
type Tailer struct {
	Path      string
	MaxLines  int   // per-request cap; <=0 uses DefaultMaxLines
	MaxWindow int64 // scan budget in bytes; <=0 uses DefaultMaxWindow
}

func New(path string) *Tailer { return &Tailer{Path: path} }

// Tail returns up to n lines from the end of the file in file order
// (oldest of the returned lines first). A missing file yields no lines
// and no error; the worker may simply not have logged yet. n <= 0 is an
// empty request and also yields no lines.
func (t *Tailer) Tail(n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	maxLines := t.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if n > maxLines {
		n = maxLines
	}
	window := t.MaxWindow
	if window <= 0 {
		window = DefaultMaxWindow
	}

	f, err := os.Open(t.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrLogRead, t.Path, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrLogRead, t.Path, err)
	}
	size := fi.Size()
	if size == 0 {
		return []string{}, nil
	}

	lines, err := scanBackward(f, size, n, window)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrLogRead, t.Path, err)
	}
	return lines, nil
}

// scanBackward reads fixed-size chunks from the end of f until it has seen
// n lines or exhausted the byte window, then splits the collected suffix.
func scanBackward(f *os.File, size int64, n int, window int64) ([]string, error) {
	if window > size {
		window = size
	}

	var (
		buf      []byte // collected suffix, grows toward the front
		off      = size
		newlines int
	)
	for off > 0 && size-off < window {
		readLen := int64(chunkSize)
		if off < readLen {
			readLen = off
		}
		if size-off+readLen > window {
			readLen = window - (size - off)
		}
		off -= readLen
		chunk := make([]byte, readLen)
		if _, err := f.ReadAt(chunk, off); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
		newlines += bytes.Count(chunk, []byte{'\n'})
		// One extra newline guarantees n complete lines before it.
		if newlines > n {
			break
		}
	}

	// A trailing newline terminates the last line; it is not a line itself.
	trimmed := bytes.TrimSuffix(buf, []byte{'\n'})
	if len(trimmed) == 0 {
		return []string{}, nil
	}
	parts := bytes.Split(trimmed, []byte{'\n'})
	if off > 0 && len(parts) > 0 {
		// The scan stopped mid-file, so the first piece may be a cut line.
		parts = parts[1:]
	}
	if len(parts) > n {
		parts = parts[len(parts)-n:]
	}
	if len(parts) == 0 {
		return []string{}, nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, string(bytes.TrimSuffix(p, []byte{'\r'})))
	}
	return out, nil
}
