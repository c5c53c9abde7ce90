package input

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

func TestRemote_AcceptValidatesMessages(t *testing.T) {
	r := &Remote{}

	if err := r.accept([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
	if err := r.accept([]byte(`{"a1":1,"a2":2}`)); err == nil {
		t.Error("expected error for missing a3")
	}
	if _, ok := r.Latest(); ok {
		t.Error("rejected messages must not set a pose")
	}

	if err := r.accept([]byte(`{"a1":10,"a2":20,"a3":30}`)); err != nil {
		t.Fatal(err)
	}
	if pose, ok := r.Latest(); !ok || pose != (angles.Triple{A1: 10, A2: 20, A3: 30}) {
		t.Errorf("Latest = %v, %v", pose, ok)
	}
}

func TestRemote_WebSocketPoseStream(t *testing.T) {
	r, err := NewRemote(RemoteConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}
	defer r.Close()
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	if p, err := r.Next(ctx); err != nil || p != nil {
		t.Fatalf("before any pose Next = %v, %v; want empty tick", p, err)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+r.Addr()+"/ws/pose", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	msg, _ := json.Marshal(map[string]float64{"a1": 95, "a2": 85, "a3": 90})
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p, err := r.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if p != nil {
			if got := p.(Pose).Angles; got != (angles.Triple{A1: 95, A2: 85, A3: 90}) {
				t.Errorf("pose = %v", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pose never arrived")
}

func TestRemote_PoseEndpointRejectsPlainHTTP(t *testing.T) {
	r, err := NewRemote(RemoteConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	resp, err := r.app.Test(httptest.NewRequest("GET", "/ws/pose", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}

	resp, err = r.app.Test(httptest.NewRequest("GET", "/api/pose", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	var got struct {
		Have bool `json:"have"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if got.Have {
		t.Error("have should be false before any pose")
	}
}

func TestNewRemote_BindFailure(t *testing.T) {
	r, err := NewRemote(RemoteConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := NewRemote(RemoteConfig{Addr: r.Addr()}); err == nil {
		t.Error("expected error binding an address in use")
	}
}
