package hub

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	h := New("test")
	if h.ClientCount() != 0 {
		t.Error("ClientCount should be 0 initially")
	}
	if h.IsRunning() {
		t.Error("hub should not be running before Run")
	}
}

func TestRunAndStop(t *testing.T) {
	h := New("test")
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	waitFor(t, h.IsRunning)

	// Broadcast to empty hub should not panic
	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}

	h.Stop()
	h.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if h.IsRunning() {
		t.Error("IsRunning after Stop")
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	h := New("test")

	// Nothing drains the queue without Run
	for i := 0; i < cap(h.broadcast)+10; i++ {
		h.Broadcast(NewTextMessage([]byte("x")))
	}
	if got := h.Dropped(); got != 10 {
		t.Errorf("Dropped = %d, want 10", got)
	}
}

func TestBroadcastJSONRejectsUnencodable(t *testing.T) {
	h := New("test")
	if err := h.BroadcastJSON(make(chan int)); err == nil {
		t.Error("expected encode error")
	}
}

func TestNewClientAfterStop(t *testing.T) {
	h := New("test")
	h.Stop()
	if _, ok := NewClient(h, nil); ok {
		t.Error("NewClient should fail on a stopped hub")
	}
}
