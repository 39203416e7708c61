package parse

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Luna-leo/seriesd/pkg/models"
)

const sampleCSV = `timestamp,T1,T2
time,Temperature,Pressure
unit,degC,kPa
2024-01-01T00:00:00,1.5,100.2
2024-01-01T00:00:10,2.5,101.4
2024-01-01T00:00:20,3.5,102.6
`

func TestParseWellFormed(t *testing.T) {
	res, err := Parse([]byte(sampleCSV), "sample.csv", Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", res.Diagnostics)
	}

	table := res.Table
	if table.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", table.NumRows())
	}
	if len(table.Params) != 2 {
		t.Fatalf("params = %d, want 2", len(table.Params))
	}

	p1 := table.Param("T1")
	if p1 == nil {
		t.Fatal("param T1 missing")
	}
	if p1.Name != "Temperature" || p1.Unit != "degC" {
		t.Errorf("T1 name/unit = %q/%q, want Temperature/degC", p1.Name, p1.Unit)
	}
	if p1.Values[0] != 1.5 || p1.Values[2] != 3.5 {
		t.Errorf("T1 values = %v", p1.Values)
	}
	if table.Timestamps[1]-table.Timestamps[0] != 10000 {
		t.Errorf("timestamp delta = %d, want 10000", table.Timestamps[1]-table.Timestamps[0])
	}
	if err := table.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseDuplicateHeaderIDs(t *testing.T) {
	csv := `timestamp,T1,T1,T2
t,a,b,c
u,x,y,z
2024-01-01T00:00:00,1,2,3
`
	res, err := Parse([]byte(csv), "dup.csv", Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ids := res.Table.ParamIDs()
	want := []models.ParamID{"T1", "T1_2", "T2"}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], id)
		}
	}

	var renames int
	for _, d := range res.Diagnostics {
		if d.Kind == models.DiagDuplicateID {
			renames++
			if !strings.Contains(d.Message, "T1") || !strings.Contains(d.Message, "T1_2") {
				t.Errorf("rename diagnostic should name both ids: %s", d.Message)
			}
		}
	}
	if renames != 1 {
		t.Errorf("rename diagnostics = %d, want 1", renames)
	}
}

func TestParseRowRecovery(t *testing.T) {
	csv := `timestamp,T1,T2
t,a,b
u,x,y
2024-01-01T00:00:00,1,2
,3,4
not-a-time,5,6
2024-01-01T00:00:30,oops,8
2024-01-01T00:00:40,9
`
	res, err := Parse([]byte(csv), "messy.csv", Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	table := res.Table
	// Rows with missing/bad timestamps are dropped; degraded rows stay.
	if table.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", table.NumRows())
	}

	t1 := table.Param("T1")
	if !math.IsNaN(t1.Values[1]) {
		t.Errorf("unparseable cell should be NaN, got %v", t1.Values[1])
	}
	t2 := table.Param("T2")
	if !math.IsNaN(t2.Values[2]) {
		t.Errorf("short-row cell should be NaN, got %v", t2.Values[2])
	}

	kinds := map[models.DiagnosticKind]int{}
	for _, d := range res.Diagnostics {
		kinds[d.Kind]++
	}
	if kinds[models.DiagMissingTimestamp] != 1 {
		t.Errorf("missing_timestamp diagnostics = %d, want 1", kinds[models.DiagMissingTimestamp])
	}
	if kinds[models.DiagBadTimestamp] != 1 {
		t.Errorf("bad_timestamp diagnostics = %d, want 1", kinds[models.DiagBadTimestamp])
	}
	if kinds[models.DiagBadValue] != 1 {
		t.Errorf("bad_value diagnostics = %d, want 1", kinds[models.DiagBadValue])
	}
	if kinds[models.DiagShortRow] != 1 {
		t.Errorf("short_row diagnostics = %d, want 1", kinds[models.DiagShortRow])
	}

	// Degradation never breaks column alignment.
	if err := table.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParseStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"too few header rows", "timestamp,T1\nt,a\n"},
		{"no data rows", "timestamp,T1\nt,a\nu,x\n"},
		{"header width mismatch", "timestamp,T1,T2\nt,a\nu,x,y\n2024-01-01T00:00:00,1,2\n"},
		{"no parameter columns", "timestamp\nt\nu\n2024-01-01T00:00:00\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.csv), "bad.csv", Options{})
			var serr *StructureError
			if !errors.As(err, &serr) {
				t.Fatalf("expected StructureError, got %v", err)
			}
		})
	}
}

func TestParseEmptyCellIsMissingWithoutDiagnostic(t *testing.T) {
	csv := `timestamp,T1
t,a
u,x
2024-01-01T00:00:00,
2024-01-01T00:00:10,5
`
	res, err := Parse([]byte(csv), "gaps.csv", Options{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("empty cell should not produce diagnostics, got %v", res.Diagnostics)
	}
	if !math.IsNaN(res.Table.Param("T1").Values[0]) {
		t.Error("empty cell should decode as NaN")
	}
}
