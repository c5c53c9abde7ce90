package input

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/teslashibe/go-armctl/pkg/angles"
	"github.com/teslashibe/go-armctl/pkg/runlog"
)

// MinReplaySpeed is the slowest accepted replay multiplier.
const MinReplaySpeed = 0.1

// ReplayConfig configures a Replay source.
type ReplayConfig struct {
	Path       string
	Speed      float64       // Multiplier on recorded timing; 1.0 = original pace
	FallbackDT time.Duration // Pace per row when the log has no t_sec column
	Limits     angles.Limits
}

// DefaultReplayConfig returns real-time replay of path.
func DefaultReplayConfig(path string) ReplayConfig {
	return ReplayConfig{
		Path:       path,
		Speed:      1.0,
		FallbackDT: 20 * time.Millisecond,
		Limits:     angles.DefaultLimits(),
	}
}

// ResolveReplayPath picks the replay file: the newest run log in dir when
// latest is set, otherwise file.
func ResolveReplayPath(file string, latest bool, dir string) (string, error) {
	if latest {
		path, err := runlog.Latest(dir)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoReplayFile, err)
		}
		return path, nil
	}
	if file == "" {
		return "", ErrNoReplayFile
	}
	return file, nil
}

// Replay re-issues the targets of a recorded run, paced to the recorded
// timing divided by the speed multiplier.
type Replay struct {
	rows       []runlog.ReplayRow
	hasTime    bool
	speed      float64
	fallbackDT time.Duration

	i     int
	prevT float64
}

// NewReplay loads the whole log up front. A missing or malformed file is a
// construction error.
func NewReplay(cfg ReplayConfig) (*Replay, error) {
	rp, err := runlog.ReadReplayFile(cfg.Path, cfg.Limits)
	if err != nil {
		return nil, err
	}

	speed := cfg.Speed
	if math.IsNaN(speed) || speed < MinReplaySpeed {
		speed = MinReplaySpeed
	}

	return &Replay{
		rows:       rp.Rows,
		hasTime:    rp.HasTime,
		speed:      speed,
		fallbackDT: cfg.FallbackDT,
	}, nil
}

// Len returns the number of recorded rows.
func (r *Replay) Len() int {
	return len(r.rows)
}

// Speed returns the effective speed multiplier.
func (r *Replay) Speed() float64 {
	return r.speed
}

// Next waits out the recorded gap to the next row and returns its target.
func (r *Replay) Next(ctx context.Context) (Payload, error) {
	if r.i >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.i]

	var wait time.Duration
	if r.hasTime {
		if r.i == 0 {
			r.prevT = row.T
		}
		dt := (row.T - r.prevT) / r.speed
		if dt > 0 {
			wait = time.Duration(dt * float64(time.Second))
		}
		r.prevT = row.T
	} else {
		wait = time.Duration(float64(r.fallbackDT) / r.speed)
	}

	if err := sleepCtx(ctx, wait); err != nil {
		return nil, err
	}

	r.i++
	return Pose{Angles: row.Target}, nil
}

// Close is a no-op; the file was read at construction.
func (r *Replay) Close() error {
	return nil
}

var _ Source = (*Replay)(nil)
