package transport

import (
	"errors"
	"testing"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

func TestFormatTarget(t *testing.T) {
	got := FormatTarget(angles.Triple{A1: 90, A2: 45.126, A3: 0.004}, 100)
	want := "T,90.00,45.13,0.00,100\n"
	if got != want {
		t.Errorf("FormatTarget = %q, want %q", got, want)
	}

	// 45.125 is exact in binary, so %.2f rounds the half to even
	if got := FormatTarget(angles.Triple{A1: 0.5, A2: 45.125, A3: 180}, 100); got != "T,0.50,45.12,180.00,100\n" {
		t.Errorf("FormatTarget half-even = %q", got)
	}
}

func TestParseFeedback(t *testing.T) {
	tests := []struct {
		line string
		want angles.Triple
		ok   bool
	}{
		{"F,90,90,90", angles.Triple{A1: 90, A2: 90, A3: 90}, true},
		{"  F,1.5,2.5,3.5\r\n", angles.Triple{A1: 1.5, A2: 2.5, A3: 3.5}, true},
		{"F,1,2,3,100,extra", angles.Triple{A1: 1, A2: 2, A3: 3}, true},
		{"F, 10 , 20 ,30", angles.Triple{A1: 10, A2: 20, A3: 30}, true},
		{"", angles.Triple{}, false},
		{"   ", angles.Triple{}, false},
		{"X,1,2,3", angles.Triple{}, false},
		{"F,1,2", angles.Triple{}, false},
		{"F,1,two,3", angles.Triple{}, false},
		{"T,90.00,90.00,90.00,100", angles.Triple{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseFeedback(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseFeedback(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("sim"); err != nil || k != KindSimulated {
		t.Errorf("ParseKind(sim) = %v, %v", k, err)
	}
	if k, err := ParseKind("serial"); err != nil || k != KindSerial {
		t.Errorf("ParseKind(serial) = %v, %v", k, err)
	}
	if _, err := ParseKind("tcp"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(tcp) error = %v, want ErrUnknownKind", err)
	}
	if KindSerial.String() != "serial" || KindSimulated.String() != "sim" {
		t.Error("Kind.String mismatch")
	}
}

func TestSimulated_EchoesLastSent(t *testing.T) {
	s := NewSimulated(angles.DefaultLimits())

	fb, ok := s.ReadFeedback()
	if !ok || fb != angles.Neutral {
		t.Errorf("initial feedback = %v, %v; want neutral", fb, ok)
	}

	s.Send(angles.Triple{A1: 10, A2: 20, A3: 30}, NominalSpeed)
	fb, ok = s.ReadFeedback()
	if !ok || fb != (angles.Triple{A1: 10, A2: 20, A3: 30}) {
		t.Errorf("feedback = %v, %v; want (10,20,30)", fb, ok)
	}

	s.Send(angles.Triple{A1: -10, A2: 200, A3: 30}, NominalSpeed)
	fb, _ = s.ReadFeedback()
	if fb != (angles.Triple{A1: 0, A2: 180, A3: 30}) {
		t.Errorf("feedback not clamped: %v", fb)
	}
}

func TestSimulated_CloseIdempotent(t *testing.T) {
	s := NewSimulated(angles.DefaultLimits())
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
