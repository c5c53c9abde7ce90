// Package transport delivers target poses to an actuator and reports what
// the actuator observed.
//
// Two backends are provided: Simulated, which echoes the last command, and
// Serial, which frames targets onto a byte stream. Both are selected once at
// construction and never swapped mid-run.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

// NominalSpeed is the speed field sent with every target.
const NominalSpeed = 100

// ErrUnknownKind is returned by ParseKind for an unrecognized transport name.
var ErrUnknownKind = errors.New("unknown transport")

// Transport sends targets and reads back optional feedback.
//
// Send and ReadFeedback never block for long: Send is fire-and-forget and
// ReadFeedback returns false immediately when nothing new has arrived.
// Close is idempotent and best-effort.
type Transport interface {
	Send(target angles.Triple, speed int)
	ReadFeedback() (angles.Triple, bool)
	Close() error
}

// Kind selects a Transport implementation.
type Kind int

const (
	// KindSimulated echoes commands back as feedback.
	KindSimulated Kind = iota
	// KindSerial talks to a device over a serial line.
	KindSerial
)

var kindNames = map[Kind]string{
	KindSimulated: "sim",
	KindSerial:    "serial",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseKind maps "sim" or "serial" to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (want sim or serial)", ErrUnknownKind, s)
}

// FormatTarget renders the outbound wire line: T,<a1>,<a2>,<a3>,<speed>\n
// with angles fixed to two decimals.
func FormatTarget(t angles.Triple, speed int) string {
	return fmt.Sprintf("T,%.2f,%.2f,%.2f,%d\n", t.A1, t.A2, t.A3, speed)
}

// ParseFeedback parses an inbound feedback line of the form F,<a1>,<a2>,<a3>
// with optional trailing fields. Any other shape yields false.
func ParseFeedback(line string) (angles.Triple, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "F") {
		return angles.Triple{}, false
	}

	parts := strings.Split(line, ",")
	if len(parts) < 4 {
		return angles.Triple{}, false
	}

	var v [3]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			return angles.Triple{}, false
		}
		v[i] = f
	}

	return angles.Triple{A1: v[0], A2: v[1], A3: v[2]}, true
}
