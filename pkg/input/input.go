// Package input provides the per-tick payload producers that feed the
// control pipeline: keyboard and remote manual control, log replay, and
// scripted sequences. The camera tracker lives in input/vision.
package input

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

// ErrNoReplayFile is returned when replay has neither a file nor a previous
// run log to read.
var ErrNoReplayFile = errors.New("replay requires a file or the latest run log")

// Payload is what a Source yields for one tick. It is either a Pose or an
// Offset; which one depends on the run's mode.
type Payload interface {
	payload()
}

// Pose is a payload of joint angles (manual and replay modes).
type Pose struct {
	Angles angles.Triple
}

// Offset is a normalized image-plane offset of the tracked object from the
// frame centre, each axis in [-1, 1] (vision mode).
type Offset struct {
	DX, DY float64
}

func (Pose) payload()   {}
func (Offset) payload() {}

// Source produces payloads for the control loop.
//
// Next returns (nil, nil) when no payload is available this tick and io.EOF
// once the source is exhausted or the operator asked to stop. Next may block
// (replay pacing) but returns early when ctx is cancelled. Close is
// idempotent and best-effort.
type Source interface {
	Next(ctx context.Context) (Payload, error)
	Close() error
}

// NormalizeOffset converts a pixel position in a w×h frame to an offset from
// the centre, each axis clamped to [-1, 1].
func NormalizeOffset(cx, cy, w, h float64) Offset {
	if w <= 0 || h <= 0 {
		return Offset{}
	}
	return Offset{
		DX: clampUnit((cx - w/2) / (w / 2)),
		DY: clampUnit((cy - h/2) / (h / 2)),
	}
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
