package pipeline

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-armctl/pkg/angles"
	"github.com/teslashibe/go-armctl/pkg/controller"
	"github.com/teslashibe/go-armctl/pkg/input"
)

var (
	// ErrUnknownMode is returned for a mode outside Manual, Vision, Replay.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrPayloadMismatch means the source produced a payload shape the
	// run's mode cannot map, which is a wiring fault.
	ErrPayloadMismatch = errors.New("payload does not match mode")
)

// Mode selects the input payload shape and the controller mapping. It is
// fixed for the lifetime of a run.
type Mode int

const (
	// ModeManual maps operator angles straight through.
	ModeManual Mode = iota
	// ModeVision maps a normalized image offset around the base pose.
	ModeVision
	// ModeReplay re-issues recorded targets.
	ModeReplay
)

var modeNames = map[Mode]string{
	ModeManual: "manual",
	ModeVision: "vision",
	ModeReplay: "replay",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "unknown"
}

// ParseMode maps "manual", "vision" or "replay" to a Mode.
func ParseMode(s string) (Mode, error) {
	for m, n := range modeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want manual, vision or replay)", ErrUnknownMode, s)
}

// mapFunc turns one payload into a clamped target.
type mapFunc func(input.Payload) (angles.Triple, error)

// bindMapping picks the controller mapping for mode once, at construction.
func bindMapping(mode Mode, m *controller.JointMapper) (mapFunc, error) {
	switch mode {
	case ModeManual:
		return func(p input.Payload) (angles.Triple, error) {
			pose, ok := p.(input.Pose)
			if !ok {
				return angles.Triple{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, mode, p)
			}
			return m.FromManual(pose.Angles.A1, pose.Angles.A2, pose.Angles.A3), nil
		}, nil

	case ModeVision:
		return func(p input.Payload) (angles.Triple, error) {
			off, ok := p.(input.Offset)
			if !ok {
				return angles.Triple{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, mode, p)
			}
			return m.FromVision(off.DX, off.DY), nil
		}, nil

	case ModeReplay:
		return func(p input.Payload) (angles.Triple, error) {
			pose, ok := p.(input.Pose)
			if !ok {
				return angles.Triple{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, mode, p)
			}
			return m.FromReplay(pose.Angles), nil
		}, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
}
