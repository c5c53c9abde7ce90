// Package angles defines joint angle triples and the admissible range every
// commanded angle is clamped into before it crosses a component boundary.
package angles

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Default joint range in degrees.
const (
	DefaultMin = 0.0
	DefaultMax = 180.0
)

// Neutral is the mid-range pose used as the base pose and the initial
// simulated feedback.
var Neutral = Triple{A1: 90, A2: 90, A3: 90}

// Triple holds three joint angles in degrees.
type Triple struct {
	A1 float64 `json:"a1"`
	A2 float64 `json:"a2"`
	A3 float64 `json:"a3"`
}

// String formats the triple with two decimals per joint.
func (t Triple) String() string {
	return fmt.Sprintf("(%.2f,%.2f,%.2f)", t.A1, t.A2, t.A3)
}

// Limits is the admissible joint range [Min, Max].
type Limits struct {
	Min, Max float64
}

// DefaultLimits returns the [0, 180] degree range.
func DefaultLimits() Limits {
	return Limits{Min: DefaultMin, Max: DefaultMax}
}

// Validate reports whether the range is usable.
func (l Limits) Validate() error {
	if math.IsNaN(l.Min) || math.IsNaN(l.Max) || math.IsInf(l.Min, 0) || math.IsInf(l.Max, 0) {
		return fmt.Errorf("angle limits must be finite, got [%v, %v]", l.Min, l.Max)
	}
	if l.Min >= l.Max {
		return fmt.Errorf("angle min %v must be below max %v", l.Min, l.Max)
	}
	return nil
}

// Clamp restricts x to [Min, Max]. Values that are not finite numbers
// resolve to Min.
func (l Limits) Clamp(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return l.Min
	}
	if x < l.Min {
		return l.Min
	}
	if x > l.Max {
		return l.Max
	}
	return x
}

// ClampTriple clamps each joint independently.
func (l Limits) ClampTriple(t Triple) Triple {
	return Triple{
		A1: l.Clamp(t.A1),
		A2: l.Clamp(t.A2),
		A3: l.Clamp(t.A3),
	}
}

// ParseOr interprets s as an angle and clamps it. Text that does not parse
// as a number resolves to Min.
func (l Limits) ParseOr(s string) float64 {
	x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return l.Min
	}
	return l.Clamp(x)
}

// Clamp restricts x to the default range.
func Clamp(x float64) float64 {
	return DefaultLimits().Clamp(x)
}
