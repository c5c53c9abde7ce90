package input

import (
	"context"
	"io"
	"sync"
)

// Scripted yields a fixed sequence of payloads, then io.EOF. A nil entry
// yields an empty tick.
type Scripted struct {
	mu       sync.Mutex
	payloads []Payload
	next     int
	closed   int
}

// NewScripted creates a source over payloads.
func NewScripted(payloads ...Payload) *Scripted {
	return &Scripted{payloads: payloads}
}

// NewScriptedPoses is NewScripted for a sequence of manual poses.
func NewScriptedPoses(poses ...Pose) *Scripted {
	p := make([]Payload, len(poses))
	for i := range poses {
		p[i] = poses[i]
	}
	return NewScripted(p...)
}

// Next returns the next scripted payload.
func (s *Scripted) Next(ctx context.Context) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.payloads) {
		return nil, io.EOF
	}
	p := s.payloads[s.next]
	s.next++
	return p, nil
}

// Remaining returns how many payloads have not been consumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads) - s.next
}

// Closed reports how many times Close was called.
func (s *Scripted) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close records the call.
func (s *Scripted) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

var _ Source = (*Scripted)(nil)
