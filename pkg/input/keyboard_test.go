package input

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

// nextUntil polls Next until cond holds for the returned pose.
func nextUntil(t *testing.T, k *Keyboard, cond func(angles.Triple) bool) angles.Triple {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p, err := k.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if pose := p.(Pose).Angles; cond(pose) {
			return pose
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
	return angles.Triple{}
}

func TestKeyboard_KeysAdjustJoints(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	k := NewKeyboardReader(r, DefaultKeyboardConfig())
	defer k.Close()

	p, err := k.Next(context.Background())
	if err != nil || p.(Pose).Angles != angles.Neutral {
		t.Fatalf("initial = %v, %v", p, err)
	}

	go w.Write([]byte("qqwsdx"))

	want := angles.Triple{A1: 92, A2: 90, A3: 89}
	got := nextUntil(t, k, func(a angles.Triple) bool { return a == want })
	if got != want {
		t.Errorf("pose = %v, want %v", got, want)
	}
}

func TestKeyboard_ClampsAtLimits(t *testing.T) {
	cfg := DefaultKeyboardConfig()
	cfg.Start = angles.Triple{A1: 179.5, A2: 0.5, A3: 90}
	r, w := io.Pipe()
	defer w.Close()
	k := NewKeyboardReader(r, cfg)

	go w.Write([]byte("qqqss"))

	got := nextUntil(t, k, func(a angles.Triple) bool { return a.A1 == 180 && a.A2 == 0 })
	if got.A1 != 180 || got.A2 != 0 {
		t.Errorf("pose = %v", got)
	}

	// One press back down moves off the end stop immediately
	go w.Write([]byte("a"))
	got = nextUntil(t, k, func(a angles.Triple) bool { return a.A1 == 179 })
	if got.A1 != 179 {
		t.Errorf("A1 = %v, want 179", got.A1)
	}
}

func TestKeyboard_EscapeStops(t *testing.T) {
	k := NewKeyboardReader(strings.NewReader("q\x1b"), DefaultKeyboardConfig())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, err := k.Next(context.Background())
		if errors.Is(err, io.EOF) {
			if _, err := k.Next(context.Background()); !errors.Is(err, io.EOF) {
				t.Error("keyboard resumed after stop")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("escape did not stop the keyboard source")
}

func TestKeyboard_EndOfInputStops(t *testing.T) {
	k := NewKeyboardReader(strings.NewReader(""), DefaultKeyboardConfig())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := k.Next(context.Background()); errors.Is(err, io.EOF) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("end of input did not stop the keyboard source")
}

func TestKeyboard_CloseIdempotent(t *testing.T) {
	restores := 0
	k := NewKeyboardReader(strings.NewReader(""), DefaultKeyboardConfig())
	k.restore = func() error { restores++; return nil }

	k.Close()
	k.Close()
	if restores != 1 {
		t.Errorf("restore called %d times, want 1", restores)
	}
}
