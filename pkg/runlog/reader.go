package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/teslashibe/go-armctl/pkg/angles"
)

// ReplayRow is one target read back from a run log.
type ReplayRow struct {
	T      float64 // Seconds, relative to the first row; zero without a t_sec column
	Target angles.Triple
}

// Replay is the target sequence of a run log.
type Replay struct {
	HasTime bool
	Rows    []ReplayRow
}

// ReadReplayFile loads the targets of a run log. See ReadReplay.
func ReadReplayFile(path string, limits angles.Limits) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	rp, err := ReadReplay(f, limits)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rp, nil
}

// ReadReplay parses a CSV with target_a1..target_a3 columns and an optional
// t_sec column. Cells that are not numbers resolve to the lower limit.
func ReadReplay(r io.Reader, limits angles.Limits) (*Replay, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	var idx [3]int
	for i, name := range []string{"target_a1", "target_a2", "target_a3"} {
		c, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		idx[i] = c
	}
	tCol, hasTime := cols["t_sec"]

	rp := &Replay{HasTime: hasTime}
	var t0 float64

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		cell := func(i int) string {
			if i < len(rec) {
				return rec[i]
			}
			return ""
		}

		row := ReplayRow{
			Target: angles.Triple{
				A1: limits.ParseOr(cell(idx[0])),
				A2: limits.ParseOr(cell(idx[1])),
				A3: limits.ParseOr(cell(idx[2])),
			},
		}

		if hasTime {
			t, err := strconv.ParseFloat(strings.TrimSpace(cell(tCol)), 64)
			if err != nil {
				// Unparseable timestamps hold the previous time
				if n := len(rp.Rows); n > 0 {
					t = rp.Rows[n-1].T + t0
				} else {
					t = 0
				}
			}
			if len(rp.Rows) == 0 {
				t0 = t
			}
			row.T = t - t0
		}

		rp.Rows = append(rp.Rows, row)
	}

	return rp, nil
}
