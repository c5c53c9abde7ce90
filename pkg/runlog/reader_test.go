package runlog

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

func TestReadReplay_WithTime(t *testing.T) {
	in := strings.Join([]string{
		"t_sec,target_a1,target_a2,target_a3,actual_a1,actual_a2,actual_a3,mode,transport",
		"1.5000,90.000,90.000,90.000,90.000,90.000,90.000,manual,sim",
		"1.5200,95.000,85.000,90.000,95.000,85.000,90.000,manual,sim",
	}, "\n")

	rp, err := ReadReplay(strings.NewReader(in), angles.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if !rp.HasTime || len(rp.Rows) != 2 {
		t.Fatalf("replay = %+v", rp)
	}
	if rp.Rows[0].T != 0 {
		t.Errorf("first row T = %v, want 0", rp.Rows[0].T)
	}
	if math.Abs(rp.Rows[1].T-0.02) > 1e-9 {
		t.Errorf("second row T = %v, want 0.02", rp.Rows[1].T)
	}
	if rp.Rows[1].Target != (angles.Triple{A1: 95, A2: 85, A3: 90}) {
		t.Errorf("target = %v", rp.Rows[1].Target)
	}
}

func TestReadReplay_WithoutTimeAndBadCells(t *testing.T) {
	in := "target_a1,target_a2,target_a3\n10,oops,300\n"

	rp, err := ReadReplay(strings.NewReader(in), angles.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if rp.HasTime {
		t.Error("HasTime should be false")
	}
	if rp.Rows[0].Target != (angles.Triple{A1: 10, A2: 0, A3: 180}) {
		t.Errorf("target = %v", rp.Rows[0].Target)
	}
}

func TestReadReplay_MissingColumn(t *testing.T) {
	if _, err := ReadReplay(strings.NewReader("t_sec,target_a1\n0,1\n"), angles.DefaultLimits()); err == nil {
		t.Error("expected error for missing target columns")
	}
}

func TestReadReplayFile_RoundTripsRunLog(t *testing.T) {
	l, err := New(Config{Dir: t.TempDir(), Mode: "manual", Transport: "sim"})
	if err != nil {
		t.Fatal(err)
	}
	l.Write(angles.Triple{A1: 90, A2: 90, A3: 90}, nil)
	l.Write(angles.Triple{A1: 95, A2: 85, A3: 90}, nil)
	l.Close()

	rp, err := ReadReplayFile(l.Path(), angles.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	if len(rp.Rows) != 2 || rp.Rows[1].Target != (angles.Triple{A1: 95, A2: 85, A3: 90}) {
		t.Errorf("replay = %+v", rp.Rows)
	}

	if _, err := ReadReplayFile(filepath.Join(t.TempDir(), "missing.csv"), angles.DefaultLimits()); err == nil {
		t.Error("expected error for missing file")
	}
}
