package transport

import "github.com/teslashibe/go-armctl/pkg/angles"

// Simulated is a transport that cannot fail and always reports the last
// commanded pose as feedback. It is used to validate the pipeline without
// hardware.
type Simulated struct {
	limits   angles.Limits
	lastSent angles.Triple
}

// NewSimulated creates a simulated transport holding the neutral pose.
func NewSimulated(limits angles.Limits) *Simulated {
	return &Simulated{
		limits:   limits,
		lastSent: limits.ClampTriple(angles.Neutral),
	}
}

// Send stores the clamped target.
func (s *Simulated) Send(target angles.Triple, speed int) {
	s.lastSent = s.limits.ClampTriple(target)
}

// ReadFeedback returns the last commanded pose.
func (s *Simulated) ReadFeedback() (angles.Triple, bool) {
	return s.lastSent, true
}

// LastSent returns the last commanded pose.
func (s *Simulated) LastSent() angles.Triple {
	return s.lastSent
}

// Close is a no-op.
func (s *Simulated) Close() error {
	return nil
}

var _ Transport = (*Simulated)(nil)
