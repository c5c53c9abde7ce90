// Package controller maps input payloads into clamped joint targets.
package controller

import (
	"github.com/teslashibe/go-armctl/pkg/angles"
)

// Config holds the base pose and proportional gains for the joint mapping.
type Config struct {
	Base   angles.Triple // Pose held when the vision offset is zero
	Kx     float64       // Degrees of J1 per unit of normalized horizontal offset
	Ky     float64       // Degrees of J2 per unit of normalized vertical offset
	Limits angles.Limits // Admissible joint range
}

// DefaultConfig returns the neutral base pose with 25°/unit gains.
func DefaultConfig() Config {
	return Config{
		Base:   angles.Neutral,
		Kx:     25.0,
		Ky:     25.0,
		Limits: angles.DefaultLimits(),
	}
}

// JointMapper converts manual angles, vision offsets, or replayed angles into
// a target pose. It holds no mutable state, so calls are independent.
type JointMapper struct {
	cfg Config
}

// New creates a JointMapper with the given configuration.
func New(cfg Config) *JointMapper {
	return &JointMapper{cfg: cfg}
}

// Config returns the mapper's configuration.
func (m *JointMapper) Config() Config {
	return m.cfg
}

// FromManual passes user angles through, clamping each joint.
func (m *JointMapper) FromManual(a1, a2, a3 float64) angles.Triple {
	return m.cfg.Limits.ClampTriple(angles.Triple{A1: a1, A2: a2, A3: a3})
}

// FromVision maps a normalized image offset (each axis nominally in [-1, 1])
// onto J1/J2 around the base pose. A positive dy (object below centre)
// lowers J2. J3 stays at the base.
func (m *JointMapper) FromVision(dx, dy float64) angles.Triple {
	return m.cfg.Limits.ClampTriple(angles.Triple{
		A1: m.cfg.Base.A1 + dx*m.cfg.Kx,
		A2: m.cfg.Base.A2 - dy*m.cfg.Ky,
		A3: m.cfg.Base.A3,
	})
}

// FromReplay re-clamps a replayed target; the source file is not trusted.
func (m *JointMapper) FromReplay(t angles.Triple) angles.Triple {
	return m.cfg.Limits.ClampTriple(t)
}
