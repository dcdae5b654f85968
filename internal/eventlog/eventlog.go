package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/statusr/internal/event"
	"github.com/loykin/statusr/internal/metrics"
)

const (
	DefaultPath     = "data/events.jsonl"
	DefaultMaxBytes = 100 * 1024
	DefaultWindow   = 24 * time.Hour
	DefaultKeepLast = 100
	// DefaultReadLimit is the number of records ReadLast callers use when
	// no limit was given.
	DefaultReadLimit = 200
)

// maxLineBytes bounds a single record when scanning the file.
const maxLineBytes = 1 << 20

type Options struct {
	Path     string
	MaxBytes int64         // Append trims once the file grows past this size
	Window   time.Duration // records younger than now-Window survive a trim
	KeepLast int           // records kept when the window is empty
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.KeepLast <= 0 {
		o.KeepLast = DefaultKeepLast
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// TrimResult describes one rewrite of the log.
type TrimResult struct {
	Kept     int
	Dropped  int  // well-formed records older than the window
	Corrupt  int  // lines that did not decode into an event
	Fallback bool // the window was empty and the last KeepLast lines were kept
}

// TrimError reports a failed trim after Append already wrote and synced its
// records. The log is left intact and the next Append trims again.
type TrimError struct {
	Err error
}

func (e *TrimError) Error() string { return "eventlog: trim after append: " + e.Err.Error() }
func (e *TrimError) Unwrap() error { return e.Err }

// Log is an append-only JSON Lines file of events with size-triggered,
// time-windowed retention. Writes are serialized by mu; readers see either
// the old or the rewritten file since a trim replaces it by rename.
type Log struct {
	opts Options
	mu   sync.Mutex
}

// Open returns a Log for opts.Path. The file is created lazily on the
// first Append.
func Open(opts Options) *Log {
	return &Log{opts: opts.withDefaults()}
}

func (l *Log) Path() string { return l.opts.Path }

// Append writes events as one line each, in order, and syncs the file. When
// the file then exceeds MaxBytes it is trimmed before Append returns. A
// failed trim is returned as *TrimError; the events are stored regardless.
// Events that fail Validate are rejected before anything is written.
func (l *Log) Append(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("eventlog: append %s/%s: %w", e.SourceID, e.EventID, err)
		}
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("eventlog: encode %s/%s: %w", e.SourceID, e.EventID, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("eventlog: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("eventlog: open: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("eventlog: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("eventlog: sync: %w", err)
	}
	fi, err := f.Stat()
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("eventlog: stat: %w", err)
	}
	metrics.SetLogSize(fi.Size())

	if fi.Size() > l.opts.MaxBytes {
		if _, err := l.trimLocked(); err != nil {
			return &TrimError{Err: err}
		}
	}
	return nil
}

// Trim rewrites the file keeping records whose timestamp is within Window of
// now. Corrupt lines are dropped. If no record is recent enough the last
// KeepLast non-empty lines are kept instead, so the log never trims to empty.
func (l *Log) Trim() (TrimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimLocked()
}

func (l *Log) trimLocked() (TrimResult, error) {
	var res TrimResult
	lines, err := readLines(l.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("eventlog: read: %w", err)
	}

	cutoff := l.opts.Now().UTC().Add(-l.opts.Window)
	keep := make([][]byte, 0, len(lines))
	for _, ln := range lines {
		e, ok := decode(ln)
		switch {
		case !ok:
			res.Corrupt++
		case e.Timestamp.Before(cutoff):
			res.Dropped++
		default:
			keep = append(keep, ln)
		}
	}
	if len(keep) == 0 && len(lines) > 0 {
		res.Fallback = true
		n := min(l.opts.KeepLast, len(lines))
		keep = lines[len(lines)-n:]
	}
	res.Kept = len(keep)

	size, err := l.rewrite(keep)
	if err != nil {
		return res, err
	}
	metrics.IncTrim()
	metrics.AddCorrupt(res.Corrupt)
	metrics.SetLogSize(size)
	return res, nil
}

// rewrite replaces the log with lines through a synced temp file in the same
// directory and a rename.
func (l *Log) rewrite(lines [][]byte) (int64, error) {
	dir := filepath.Dir(l.opts.Path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.opts.Path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("eventlog: temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	w := bufio.NewWriter(tmp)
	var size int64
	for _, ln := range lines {
		n, err := w.Write(ln)
		if err == nil {
			err = w.WriteByte('\n')
		}
		if err != nil {
			cleanup()
			return 0, fmt.Errorf("eventlog: rewrite: %w", err)
		}
		size += int64(n) + 1
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return 0, fmt.Errorf("eventlog: rewrite: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("eventlog: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("eventlog: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("eventlog: chmod: %w", err)
	}
	if err := os.Rename(tmpName, l.opts.Path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("eventlog: replace: %w", err)
	}
	return size, nil
}

// ReadLast returns up to limit of the most recent records, newest first.
// Lines that do not decode are skipped and do not count against limit. A
// missing file yields no events.
func (l *Log) ReadLast(limit int) ([]event.Event, error) {
	if limit <= 0 {
		return []event.Event{}, nil
	}
	lines, err := readLines(l.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return []event.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: read: %w", err)
	}
	out := make([]event.Event, 0, min(limit, len(lines)))
	for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
		if e, ok := decode(lines[i]); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Size returns the current file size, 0 when the file does not exist.
func (l *Log) Size() (int64, error) {
	fi, err := os.Stat(l.opts.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// readLines returns the non-empty lines of path in file order.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines [][]byte
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		ln, err := r.ReadBytes('\n')
		if len(ln) > 0 {
			ln = bytes.TrimSpace(ln)
			if len(ln) > 0 && len(ln) <= maxLineBytes {
				lines = append(lines, ln)
			}
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// decode parses one record. A record missing any identifying field or with
// a zero timestamp is treated as corrupt.
func decode(ln []byte) (event.Event, bool) {
	var e event.Event
	if err := json.Unmarshal(ln, &e); err != nil {
		return event.Event{}, false
	}
	if e.Validate() != nil {
		return event.Event{}, false
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, true
}
