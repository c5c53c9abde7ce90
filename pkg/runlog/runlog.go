// Package runlog writes the per-run CSV log used for validation and replay.
//
// Every non-skipped tick produces one row:
//
//	t_sec,target_a1,target_a2,target_a3,actual_a1,actual_a2,actual_a3,mode,transport
//
// Rows are flushed as they are written so a crash loses at most the row in
// flight.
package runlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/angles"
)

// Header is the fixed column layout of a run log.
var Header = []string{
	"t_sec",
	"target_a1", "target_a2", "target_a3",
	"actual_a1", "actual_a2", "actual_a3",
	"mode", "transport",
}

const (
	filePrefix = "run_"
	fileExt    = ".csv"
	timeLayout = "20060102_150405"

	// maxNameAttempts bounds the _N suffix search for a free filename.
	maxNameAttempts = 100
)

// Record is one logged tick.
type Record struct {
	Elapsed   float64       `json:"t_sec"`
	Target    angles.Triple `json:"target"`
	Actual    angles.Triple `json:"actual"`
	Observed  bool          `json:"observed"` // false when Actual was substituted from Target
	Mode      string        `json:"mode"`
	Transport string        `json:"transport"`
}

// Row renders the record as CSV fields.
func (r Record) Row() []string {
	return []string{
		strconv.FormatFloat(r.Elapsed, 'f', 4, 64),
		fmtAngle(r.Target.A1), fmtAngle(r.Target.A2), fmtAngle(r.Target.A3),
		fmtAngle(r.Actual.A1), fmtAngle(r.Actual.A2), fmtAngle(r.Actual.A3),
		r.Mode, r.Transport,
	}
}

func fmtAngle(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Config describes a run session.
type Config struct {
	Dir       string
	Mode      string
	Transport string

	// Now overrides the wall clock (tests).
	Now func() time.Time
}

// Logger is the append-only sink for one run session. It is owned by a
// single control loop and is not safe for concurrent writes.
type Logger struct {
	path      string
	sessionID string
	mode      string
	transport string
	now       func() time.Time
	start     time.Time

	file   *os.File
	w      *csv.Writer
	rows   int
	log    *slog.Logger
	closed sync.Once
}

// New creates the log directory if needed, opens a fresh run file named from
// the current time, and writes the header.
func New(cfg Config) (*Logger, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Dir, err)
	}

	start := now()
	path, f, err := createUnique(cfg.Dir, start)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		path:      path,
		sessionID: uuid.New().String(),
		mode:      cfg.Mode,
		transport: cfg.Transport,
		now:       now,
		start:     start,
		file:      f,
		w:         csv.NewWriter(f),
	}
	l.log = log.Component("runlog").With("session", l.sessionID)

	if err := l.w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush header: %w", err)
	}

	return l, nil
}

// createUnique opens run_<timestamp>.csv, adding a _N suffix until the
// name is free.
func createUnique(dir string, t time.Time) (string, *os.File, error) {
	base := filePrefix + t.Format(timeLayout)
	for i := 0; i < maxNameAttempts; i++ {
		name := base + fileExt
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, fileExt)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("open run log %s: %w", path, err)
		}
	}
	return "", nil, fmt.Errorf("no free run log name for %s in %s", base, dir)
}

// Path returns the run file path.
func (l *Logger) Path() string {
	return l.path
}

// SessionID returns the unique identifier of this run.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Rows returns how many records have been written.
func (l *Logger) Rows() int {
	return l.rows
}

// Write appends one row. A nil actual is recorded as equal to target.
func (l *Logger) Write(target angles.Triple, actual *angles.Triple) (Record, error) {
	rec := Record{
		Elapsed:   l.now().Sub(l.start).Seconds(),
		Target:    target,
		Actual:    target,
		Mode:      l.mode,
		Transport: l.transport,
	}
	if actual != nil {
		rec.Actual = *actual
		rec.Observed = true
	}

	if err := l.w.Write(rec.Row()); err != nil {
		return rec, fmt.Errorf("write row: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return rec, fmt.Errorf("flush row: %w", err)
	}

	l.rows++
	return rec, nil
}

// Close closes the run file. Failures are logged and not returned.
func (l *Logger) Close() error {
	l.closed.Do(func() {
		l.w.Flush()
		if err := l.file.Close(); err != nil {
			l.log.Warn("close run log failed", "path", l.path, "error", err)
		}
	})
	return nil
}

// Latest returns the most recently modified run log in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileExt))
	if err != nil {
		return "", err
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = m
			bestMod = info.ModTime()
		}
	}

	if best == "" {
		return "", fmt.Errorf("no %s*%s files in %s: %w", filePrefix, fileExt, dir, fs.ErrNotExist)
	}
	return best, nil
}
