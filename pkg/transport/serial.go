package transport

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/angles"
)

const (
	// feedbackBuffer is how many unread feedback lines are kept. Reads
	// consume them oldest first; when full, the oldest is discarded to make
	// room, so a slow reader lags the device by at most this many lines.
	feedbackBuffer = 16

	// maxPendingLine caps a partial line without a newline terminator.
	maxPendingLine = 1024

	// closeWait bounds how long Close waits for the reader to exit.
	closeWait = 500 * time.Millisecond

	// readBackoff is the pause after a failed read.
	readBackoff = 50 * time.Millisecond
)

// SerialConfig configures a Serial transport.
type SerialConfig struct {
	Port PortConfig

	// SettleDelay is waited after opening so the device can finish its
	// reset before the first target arrives.
	SettleDelay time.Duration

	Limits angles.Limits
}

// DefaultSerialConfig returns a configuration for the given device at
// 115200 baud with a one second settle delay.
func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{
		Port: PortConfig{
			Device:      device,
			Baud:        115200,
			ReadTimeout: 100 * time.Millisecond,
		},
		SettleDelay: time.Second,
		Limits:      angles.DefaultLimits(),
	}
}

// Serial frames targets onto a serial line and parses feedback lines from
// it. A background reader splits incoming bytes into lines so ReadFeedback
// never waits on the device.
type Serial struct {
	port        Port
	limits      angles.Limits
	readTimeout time.Duration
	log         *slog.Logger

	lastSent angles.Triple
	writeErr log.Limiter

	lines     chan string
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSerial opens the device and waits out the settle delay. Failing to open
// the device is a construction error.
func NewSerial(cfg SerialConfig) (*Serial, error) {
	port, err := OpenPort(cfg.Port)
	if err != nil {
		return nil, err
	}
	return NewSerialOnPort(port, cfg), nil
}

// NewSerialOnPort wraps an already-open port.
func NewSerialOnPort(port Port, cfg SerialConfig) *Serial {
	s := &Serial{
		port:        port,
		limits:      cfg.Limits,
		readTimeout: cfg.Port.ReadTimeout,
		log:         log.Component("transport.serial").With("device", cfg.Port.Device),
		lastSent:    cfg.Limits.ClampTriple(angles.Neutral),
		lines:       make(chan string, feedbackBuffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cfg.SettleDelay > 0 {
		time.Sleep(cfg.SettleDelay)
	}

	go s.readLoop()
	return s
}

// Send clamps the target and writes one T line. Write failures are logged
// and otherwise ignored.
func (s *Serial) Send(target angles.Triple, speed int) {
	t := s.limits.ClampTriple(target)
	s.lastSent = t

	if _, err := io.WriteString(s.port, FormatTarget(t, speed)); err != nil {
		if ok, n := s.writeErr.Allow(time.Now()); ok {
			s.log.Warn("serial write failed", "error", err, "total_errors", n)
		}
	}
}

// ReadFeedback consumes at most one buffered line. It returns false when no
// line is waiting or the line is not valid feedback.
func (s *Serial) ReadFeedback() (angles.Triple, bool) {
	select {
	case line := <-s.lines:
		return ParseFeedback(line)
	default:
		return angles.Triple{}, false
	}
}

// LastSent returns the last clamped target passed to Send.
func (s *Serial) LastSent() angles.Triple {
	return s.lastSent
}

// WriteErrors returns how many writes have failed.
func (s *Serial) WriteErrors() uint64 {
	return s.writeErr.Count()
}

// Close releases the port. Errors are logged, never returned.
func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if err := s.port.Close(); err != nil {
			s.log.Warn("serial close failed", "error", err)
		}
		select {
		case <-s.done:
		case <-time.After(closeWait):
			s.log.Warn("serial reader did not exit")
		}
	})
	return nil
}

// readLoop continuously reads from the port and queues complete lines.
func (s *Serial) readLoop() {
	defer close(s.done)

	var readErr log.Limiter
	buf := make([]byte, 256)
	var pending []byte

	for {
		start := time.Now()
		n, err := s.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				s.deliver(strings.ToValidUTF8(string(pending[:i]), ""))
				pending = pending[i+1:]
			}
			if len(pending) > maxPendingLine {
				pending = pending[:0]
			}
		}

		select {
		case <-s.stop:
			return
		default:
		}

		if err == nil {
			continue
		}
		// tarm/serial reports a read timeout as io.EOF. An empty EOF that
		// comes back well before the timeout is a hung-up line instead.
		if errors.Is(err, io.EOF) && (n > 0 || s.timedOut(time.Since(start))) {
			continue
		}
		if ok, count := readErr.Allow(time.Now()); ok {
			s.log.Warn("serial read failed", "error", err, "total_errors", count)
		}
		select {
		case <-s.stop:
			return
		case <-time.After(readBackoff):
		}
	}
}

// timedOut reports whether a read that took elapsed could have been ended
// by the port's read timeout.
func (s *Serial) timedOut(elapsed time.Duration) bool {
	return s.readTimeout > 0 && elapsed >= s.readTimeout/2
}

// deliver queues a line, dropping the oldest queued line when full.
func (s *Serial) deliver(line string) {
	select {
	case s.lines <- line:
		return
	default:
	}
	select {
	case <-s.lines:
	default:
	}
	select {
	case s.lines <- line:
	default:
	}
}

var _ Transport = (*Serial)(nil)
