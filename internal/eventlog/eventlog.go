// Package eventlog implements the append-only audit log: one JSON object per
// line, appended under the light filelock profile and never rewritten.
package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"planstore/internal/filelock"
	"planstore/internal/planstore"
)

// Entry is one immutable audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Subject   string         `json:"subject,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log appends to and reads one event log file. It is safe for concurrent use
// within and across processes.
type Log struct {
	path   string
	locker *filelock.Locker
	clock  planstore.Clock
	ids    planstore.IDGenerator
	logger planstore.Logger
}

// Options configures a Log. Zero fields get defaults.
type Options struct {
	Locker *filelock.Locker
	Clock  planstore.Clock
	IDs    planstore.IDGenerator
	Logger planstore.Logger
}

// Open prepares the log at path. The file itself is created by the first
// Append.
func Open(path string, opts Options) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	l := &Log{
		path:   path,
		locker: opts.Locker,
		clock:  opts.Clock,
		ids:    opts.IDs,
		logger: planstore.EnsureLogger(opts.Logger),
	}
	if l.clock == nil {
		l.clock = planstore.RealClock{}
	}
	if l.ids == nil {
		l.ids = planstore.UUIDGenerator{}
	}
	if l.locker == nil {
		l.locker = filelock.New(filelock.Light, filelock.WithLogger(l.logger), filelock.WithClock(l.clock))
	}
	return l, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append stamps e with a new id and the current UTC time and appends it.
// When the lock cannot be taken the line is still appended: a single
// O_APPEND write of one line does not interleave with other appenders on a
// local filesystem, so the lock only orders writers.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	e.ID = l.ids.New()
	e.Timestamp = l.clock.Now().UTC()

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding log entry: %w", err)
	}
	line = append(line, '\n')

	err = l.locker.Do(ctx, l.path, func() error { return l.appendLine(line) })
	if errors.Is(err, filelock.ErrUnavailable) {
		l.logger.Warn("appending to event log without lock", "path", l.path, "reason", err.Error())
		err = l.appendLine(line)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: appending to event log: %w", planstore.ErrSaveFailed, err)
	}
	return e, nil
}

func (l *Log) appendLine(line []byte) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadAll returns every well-formed entry in append order.
func (l *Log) ReadAll(ctx context.Context) ([]Entry, error) {
	entries, _, err := l.ReadFrom(ctx, 0)
	return entries, err
}

// ReadFrom returns the well-formed entries that start at or after byte
// offset, and the offset just past the last complete line. A trailing line
// without a newline is an append in progress and is left for the next call.
// Malformed lines are skipped and logged.
func (l *Log) ReadFrom(ctx context.Context, offset int64) ([]Entry, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, offset, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, fmt.Errorf("seeking event log: %w", err)
		}
	}

	var entries []Entry
	skipped := 0
	r := bufio.NewReader(f)
	pos := offset
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return entries, pos, fmt.Errorf("reading event log: %w", err)
		}
		lineStart := pos
		pos += int64(len(line))

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(trimmed, &e); err != nil {
			skipped++
			l.logger.Debug("skipping malformed event log line", "path", l.path, "offset", lineStart, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if skipped > 0 {
		l.logger.Warn("skipped malformed event log lines", "path", l.path, "count", skipped)
	}
	return entries, pos, nil
}

// Tail returns the last n entries in append order.
func (l *Log) Tail(ctx context.Context, n int) ([]Entry, error) {
	entries, err := l.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
