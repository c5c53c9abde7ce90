package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

// fakePort is an in-memory serial device. Reads block until data is pushed
// or the port is closed.
type fakePort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	writeErr error
	closeErr error
	closes   int

	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.incoming:
		return copy(b, data), nil
	case <-p.closed:
		return 0, errors.New("port closed")
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.once.Do(func() { close(p.closed) })
	return p.closeErr
}

func (p *fakePort) push(s string) {
	p.incoming <- []byte(s)
}

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func testSerialConfig() SerialConfig {
	cfg := DefaultSerialConfig("fake0")
	cfg.SettleDelay = 0
	return cfg
}

// waitFeedback polls ReadFeedback until it reports a value or times out.
func waitFeedback(t *testing.T, s *Serial) angles.Triple {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fb, ok := s.ReadFeedback(); ok {
			return fb
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no feedback received")
	return angles.Triple{}
}

func TestSerial_SendWritesClampedLine(t *testing.T) {
	port := newFakePort()
	s := NewSerialOnPort(port, testSerialConfig())
	defer s.Close()

	s.Send(angles.Triple{A1: 95, A2: -4, A3: 250.456}, NominalSpeed)

	want := "T,95.00,0.00,180.00,100\n"
	if got := port.writtenString(); got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
	if s.LastSent() != (angles.Triple{A1: 95, A2: 0, A3: 180}) {
		t.Errorf("LastSent = %v", s.LastSent())
	}
}

func TestSerial_WriteErrorSwallowed(t *testing.T) {
	port := newFakePort()
	port.writeErr = io.ErrClosedPipe
	s := NewSerialOnPort(port, testSerialConfig())
	defer s.Close()

	s.Send(angles.Neutral, NominalSpeed)
	s.Send(angles.Neutral, NominalSpeed)

	if s.WriteErrors() != 2 {
		t.Errorf("WriteErrors = %d, want 2", s.WriteErrors())
	}
}

func TestSerial_ReadFeedbackNonBlocking(t *testing.T) {
	port := newFakePort()
	s := NewSerialOnPort(port, testSerialConfig())
	defer s.Close()

	start := time.Now()
	if _, ok := s.ReadFeedback(); ok {
		t.Error("expected no feedback before any bytes arrive")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("ReadFeedback blocked for %v", elapsed)
	}
}

func TestSerial_ReadFeedbackParsesLines(t *testing.T) {
	port := newFakePort()
	s := NewSerialOnPort(port, testSerialConfig())
	defer s.Close()

	// Line split across two reads
	port.push("F,10,2")
	port.push("0,30\n")

	fb := waitFeedback(t, s)
	if fb != (angles.Triple{A1: 10, A2: 20, A3: 30}) {
		t.Errorf("feedback = %v", fb)
	}

	if _, ok := s.ReadFeedback(); ok {
		t.Error("line consumed twice")
	}
}

func TestSerial_MalformedLineIsNoFeedback(t *testing.T) {
	port := newFakePort()
	s := NewSerialOnPort(port, testSerialConfig())
	defer s.Close()

	port.push("garbage\n")
	port.push("F,1,2,3\n")

	// The malformed line is read first and yields nothing; the next one parses.
	deadline := time.Now().Add(time.Second)
	var got []bool
	for time.Now().Before(deadline) && len(got) < 2 {
		select {
		case line := <-s.lines:
			_, ok := ParseFeedback(line)
			got = append(got, ok)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if len(got) != 2 || got[0] || !got[1] {
		t.Errorf("parse results = %v, want [false true]", got)
	}
}

func TestSerial_CloseIdempotentAndSuppressesErrors(t *testing.T) {
	port := newFakePort()
	port.closeErr = errors.New("already broken")
	s := NewSerialOnPort(port, testSerialConfig())

	if err := s.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	port.mu.Lock()
	closes := port.closes
	port.mu.Unlock()
	if closes != 1 {
		t.Errorf("port closed %d times, want 1", closes)
	}

	select {
	case <-s.done:
	default:
		t.Error("reader still running after Close")
	}
}

func TestSerial_SettleDelay(t *testing.T) {
	cfg := testSerialConfig()
	cfg.SettleDelay = 30 * time.Millisecond

	start := time.Now()
	s := NewSerialOnPort(newFakePort(), cfg)
	defer s.Close()

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("constructor returned after %v, want >= 30ms", elapsed)
	}
}

func TestOpenPort_RequiresDevice(t *testing.T) {
	if _, err := OpenPort(PortConfig{}); err == nil {
		t.Error("expected error for empty device")
	}
}

// hungUpPort behaves like a tty whose device went away: every read returns
// immediately with no data and io.EOF.
type hungUpPort struct {
	reads atomic.Int64
}

func (p *hungUpPort) Read(b []byte) (int, error) {
	p.reads.Add(1)
	return 0, io.EOF
}

func (p *hungUpPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *hungUpPort) Close() error                { return nil }

func TestSerial_HungUpLineBacksOff(t *testing.T) {
	port := &hungUpPort{}
	s := NewSerialOnPort(port, testSerialConfig())

	time.Sleep(100 * time.Millisecond)
	s.Close()

	// 50ms backoff: a handful of reads, not a spin
	if n := port.reads.Load(); n > 10 {
		t.Errorf("reads in ~100ms = %d, want a few", n)
	}
	if _, ok := s.ReadFeedback(); ok {
		t.Error("unexpected feedback from a hung-up line")
	}
}

func TestSerial_TimedOut(t *testing.T) {
	s := &Serial{readTimeout: 100 * time.Millisecond}

	tests := []struct {
		elapsed time.Duration
		want    bool
	}{
		{0, false},
		{time.Millisecond, false},
		{49 * time.Millisecond, false},
		{50 * time.Millisecond, true},
		{100 * time.Millisecond, true},
		{time.Second, true},
	}
	for _, tt := range tests {
		if got := s.timedOut(tt.elapsed); got != tt.want {
			t.Errorf("timedOut(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}

	// Without a read timeout every empty EOF is a hang-up
	blocking := &Serial{}
	if blocking.timedOut(time.Second) {
		t.Error("timedOut with no read timeout should be false")
	}
}
