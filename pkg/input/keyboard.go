package input

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/angles"
)

const (
	keyEsc   = 0x1b
	keyCtrlC = 0x03
)

// KeyboardConfig configures the keyboard source.
type KeyboardConfig struct {
	Start  angles.Triple // Initial pose
	Step   float64       // Degrees per key press
	Limits angles.Limits
}

// DefaultKeyboardConfig starts at the neutral pose with one degree per press.
func DefaultKeyboardConfig() KeyboardConfig {
	return KeyboardConfig{
		Start:  angles.Neutral,
		Step:   1.0,
		Limits: angles.DefaultLimits(),
	}
}

// Keyboard drives the three joints from key presses:
//
//	q/a  J1 +/-
//	w/s  J2 +/-
//	e/d  J3 +/-
//	ESC  stop
//
// It yields the current pose every tick, whether or not a key was pressed.
type Keyboard struct {
	cfg  KeyboardConfig
	pose angles.Triple

	keys    chan byte
	restore func() error
	stopped bool
	once    sync.Once
}

// NewKeyboard reads keys from the controlling terminal, switching it to
// unbuffered input without echo until Close.
func NewKeyboard(cfg KeyboardConfig) (*Keyboard, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("keyboard input needs a terminal on stdin")
	}

	restore, err := enterCbreak(fd)
	if err != nil {
		return nil, fmt.Errorf("configure terminal: %w", err)
	}

	k := NewKeyboardReader(os.Stdin, cfg)
	k.restore = restore
	return k, nil
}

// NewKeyboardReader reads key bytes from r without touching any terminal.
func NewKeyboardReader(r io.Reader, cfg KeyboardConfig) *Keyboard {
	k := &Keyboard{
		cfg:  cfg,
		pose: cfg.Limits.ClampTriple(cfg.Start),
		keys: make(chan byte, 64),
	}
	go k.readLoop(r)
	return k
}

// readLoop forwards key bytes until r fails. A blocked terminal read cannot
// be interrupted, so on Close this goroutine is left to the process exit.
func (k *Keyboard) readLoop(r io.Reader) {
	defer close(k.keys)
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			select {
			case k.keys <- b:
			default:
				// Drop if the loop is not keeping up
			}
		}
		if err != nil {
			return
		}
	}
}

// Next applies every key pressed since the previous tick and returns the
// resulting pose. It returns io.EOF after ESC, Ctrl-C, or end of input.
func (k *Keyboard) Next(ctx context.Context) (Payload, error) {
	if k.stopped {
		return nil, io.EOF
	}

drain:
	for {
		select {
		case b, ok := <-k.keys:
			if !ok {
				k.stopped = true
				break drain
			}
			k.apply(b)
		default:
			break drain
		}
	}

	if k.stopped {
		return nil, io.EOF
	}
	return Pose{Angles: k.pose}, nil
}

// apply updates the pose for one key. The pose is kept inside the limits so
// holding a key at the end stop does not wind up.
func (k *Keyboard) apply(b byte) {
	step := k.cfg.Step
	switch b {
	case 'q', 'Q':
		k.pose.A1 += step
	case 'a', 'A':
		k.pose.A1 -= step
	case 'w', 'W':
		k.pose.A2 += step
	case 's', 'S':
		k.pose.A2 -= step
	case 'e', 'E':
		k.pose.A3 += step
	case 'd', 'D':
		k.pose.A3 -= step
	case keyEsc, keyCtrlC:
		k.stopped = true
		return
	default:
		return
	}
	k.pose = k.cfg.Limits.ClampTriple(k.pose)
}

// Close restores the terminal.
func (k *Keyboard) Close() error {
	var err error
	k.once.Do(func() {
		k.stopped = true
		if k.restore != nil {
			if rerr := k.restore(); rerr != nil {
				log.Component("input.keyboard").Warn("restore terminal failed", "error", rerr)
				err = rerr
			}
		}
	})
	return err
}

var _ Source = (*Keyboard)(nil)
