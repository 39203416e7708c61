package models

import (
	"fmt"
	"math"
	"strings"
)

// ParamID identifies one parameter (one data column) within a table.
// IDs come from the first header row of an input file and are unique
// within a table after collision renaming (T1, T1_2, T1_3, ...).
type ParamID string

// Validate checks that the id is usable as a column identity.
func (p ParamID) Validate() error {
	if p == "" {
		return fmt.Errorf("parameter id must not be empty")
	}
	if strings.ContainsRune(string(p), '\x00') {
		return fmt.Errorf("parameter id %q contains NUL", string(p))
	}
	return nil
}

func (p ParamID) String() string { return string(p) }

// Parameter is one named value column. Values is always the same length
// as the owning table's Timestamps; cells that could not be parsed hold
// NaN rather than shifting the column.
type Parameter struct {
	ID     ParamID   `json:"id"`
	Name   string    `json:"name"`
	Unit   string    `json:"unit"`
	Values []float64 `json:"values"`
}

// Table is the columnar in-memory form of one decoded file (or of a
// multi-file merge): one timestamp column plus N aligned parameter
// columns. Timestamps are epoch milliseconds, UTC, non-decreasing.
type Table struct {
	SourceFile string      `json:"source_file"`
	Timestamps []int64     `json:"timestamps"`
	Params     []Parameter `json:"params"`
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Timestamps) }

// Param returns the parameter with the given id, or nil.
func (t *Table) Param(id ParamID) *Parameter {
	for i := range t.Params {
		if t.Params[i].ID == id {
			return &t.Params[i]
		}
	}
	return nil
}

// ParamIDs returns the column ids in table order.
func (t *Table) ParamIDs() []ParamID {
	ids := make([]ParamID, len(t.Params))
	for i := range t.Params {
		ids[i] = t.Params[i].ID
	}
	return ids
}

// EstimatedBytes is the cache accounting estimate for the table:
// rows x parameters x 8. Deliberately cheap, not exact.
func (t *Table) EstimatedBytes() int64 {
	return int64(len(t.Timestamps)) * int64(len(t.Params)) * 8
}

// TimeRange returns the covered [start, end] range, ok=false when empty.
func (t *Table) TimeRange() (TimeRange, bool) {
	if len(t.Timestamps) == 0 {
		return TimeRange{}, false
	}
	return TimeRange{Start: t.Timestamps[0], End: t.Timestamps[len(t.Timestamps)-1]}, true
}

// Validate checks the structural invariants: non-empty unique parameter
// ids and every value column aligned to the timestamp column.
func (t *Table) Validate() error {
	seen := make(map[ParamID]struct{}, len(t.Params))
	for i := range t.Params {
		p := &t.Params[i]
		if err := p.ID.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate parameter id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if len(p.Values) != len(t.Timestamps) {
			return fmt.Errorf("parameter %q has %d values for %d timestamps",
				p.ID, len(p.Values), len(t.Timestamps))
		}
	}
	return nil
}

// TimeRange is a closed [Start, End] range in epoch milliseconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Overlaps reports whether the two closed ranges intersect.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Missing is the sentinel for an absent or unparseable value.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// DiagnosticKind classifies a non-fatal parse problem.
type DiagnosticKind string

const (
	DiagMissingTimestamp DiagnosticKind = "missing_timestamp"
	DiagBadTimestamp     DiagnosticKind = "bad_timestamp"
	DiagBadValue         DiagnosticKind = "bad_value"
	DiagDuplicateID      DiagnosticKind = "duplicate_id"
	DiagShortRow         DiagnosticKind = "short_row"
	DiagLongRow          DiagnosticKind = "long_row"
	DiagEncoding         DiagnosticKind = "encoding"
)

// Diagnostic records one recovered row- or cell-level problem.
// Row is the 1-based line number in the source file (0 when the problem
// is not tied to a row); Column is the 0-based column index (-1 when not
// tied to a column).
type Diagnostic struct {
	// File names the source file; empty when the context makes it
	// unambiguous (single-file parse). Multi-file merges fill it in.
	File    string         `json:"file,omitempty"`
	Row     int            `json:"row"`
	Column  int            `json:"column"`
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	s := ""
	if d.File != "" {
		s = d.File + ": "
	}
	if d.Row > 0 {
		return fmt.Sprintf("%srow %d: %s: %s", s, d.Row, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s%s: %s", s, d.Kind, d.Message)
}
