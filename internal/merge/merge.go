// Package merge reconciles multiple parsed tables that cover overlapping
// or adjacent time ranges of the same logical source into one
// deduplicated wide table. Tables are flattened to a transient long
// format (one record per timestamp/parameter/file), then pivoted back
// with a deterministic duplicate tie-break.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Luna-leo/seriesd/internal/parse"
	"github.com/Luna-leo/seriesd/pkg/models"
)

// ErrCancelled is returned when the caller's context trips between
// files; a cancelled merge never returns a partial table.
var ErrCancelled = errors.New("merge cancelled")

// LongRecord is the transient merge unit. It has no identity beyond its
// fields; several records may share a (timestamp, parameter) pair across
// files, which is exactly the duplication the pivot resolves.
type LongRecord struct {
	Timestamp  int64
	ParamID    models.ParamID
	Value      float64
	ParamName  string
	Unit       string
	SourceFile string
	// fileIndex is the position of the source table in the merge input,
	// used by TieBreakImportOrder and as the final tie level when two
	// files share a name.
	fileIndex int
}

// TieBreak selects which record survives when two files supply the same
// (timestamp, parameter) sample.
type TieBreak int

const (
	// TieBreakFilenameDesc keeps the record from the file whose name is
	// lexicographically greatest. This reproduces the historical
	// "last file wins" behavior, where filename order is only a proxy
	// for import recency; prefer TieBreakImportOrder when the caller
	// knows the real supply order.
	TieBreakFilenameDesc TieBreak = iota
	// TieBreakImportOrder keeps the record from the file supplied last.
	TieBreakImportOrder
)

// Phase labels a coarse progress step.
type Phase string

const (
	PhaseParse   Phase = "parse"
	PhaseFlatten Phase = "flatten"
	PhasePivot   Phase = "pivot"
)

// Progress is reported through Options.OnProgress after each file so a
// host can keep a UI responsive during long merges.
type Progress struct {
	Current int   `json:"current"`
	Total   int   `json:"total"`
	Phase   Phase `json:"phase"`
}

// Options configures a merge.
type Options struct {
	TieBreak   TieBreak
	OnProgress func(Progress)
}

func (o *Options) progress(p Progress) {
	if o != nil && o.OnProgress != nil {
		o.OnProgress(p)
	}
}

// FileError records one input file excluded from a merge.
type FileError struct {
	File string `json:"file"`
	Err  error  `json:"-"`
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// Result is a merged wide table plus merge statistics.
type Result struct {
	Table *models.Table
	// RecordCount is the number of long records that went into the pivot.
	RecordCount int
	// DuplicatesResolved counts records discarded by the tie-break.
	DuplicatesResolved int
	// Warnings aggregates the per-file parse diagnostics.
	Warnings []models.Diagnostic
	// FileErrors lists inputs excluded because they failed to parse.
	FileErrors []FileError
}

// FileInput is one raw file handed to MergeFiles.
type FileInput struct {
	Name     string
	Data     []byte
	Encoding string
}

// MergeFiles parses every input and merges the tables that parsed. A
// file that fails structurally is excluded and reported in
// Result.FileErrors; the merge proceeds with the rest. The context is
// checked between files and a trip returns ErrCancelled.
func MergeFiles(ctx context.Context, inputs []FileInput, opts *Options) (*Result, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no input files")
	}

	var (
		tables     []*models.Table
		warnings   []models.Diagnostic
		fileErrors []FileError
	)
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, ErrCancelled
		}
		res, err := parse.Parse(in.Data, in.Name, parse.Options{Encoding: in.Encoding})
		if err != nil {
			fileErrors = append(fileErrors, FileError{File: in.Name, Err: err})
		} else {
			tables = append(tables, res.Table)
			// Stamp the source file so aggregated warnings stay
			// attributable across inputs.
			for _, d := range res.Diagnostics {
				d.File = in.Name
				warnings = append(warnings, d)
			}
		}
		opts.progress(Progress{Current: i + 1, Total: len(inputs), Phase: PhaseParse})
	}

	if len(tables) == 0 {
		return nil, fmt.Errorf("all %d input files failed to parse: %v",
			len(inputs), fileErrors[0].Err)
	}

	result, err := Merge(ctx, tables, opts)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(warnings, result.Warnings...)
	result.FileErrors = fileErrors
	return result, nil
}

// Merge flattens the given tables and pivots them into one wide table.
// The context is checked between tables.
func Merge(ctx context.Context, tables []*models.Table, opts *Options) (*Result, error) {
	var records []LongRecord
	for i, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, ErrCancelled
		}
		records = append(records, flattenTable(table, i)...)
		opts.progress(Progress{Current: i + 1, Total: len(tables), Phase: PhaseFlatten})
	}

	tieBreak := TieBreakFilenameDesc
	if opts != nil {
		tieBreak = opts.TieBreak
	}
	table, resolved := pivot(records, tieBreak)
	table.SourceFile = mergedName(tables)
	opts.progress(Progress{Current: 1, Total: 1, Phase: PhasePivot})

	return &Result{
		Table:              table,
		RecordCount:        len(records),
		DuplicatesResolved: resolved,
	}, nil
}

// flattenTable emits one LongRecord per (timestamp, parameter) cell.
// Missing cells are not emitted; the pivot reintroduces them as explicit
// missing values.
func flattenTable(table *models.Table, fileIndex int) []LongRecord {
	records := make([]LongRecord, 0, len(table.Timestamps)*len(table.Params))
	for row, ts := range table.Timestamps {
		for p := range table.Params {
			param := &table.Params[p]
			v := param.Values[row]
			if models.IsMissing(v) {
				continue
			}
			records = append(records, LongRecord{
				Timestamp:  ts,
				ParamID:    param.ID,
				Value:      v,
				ParamName:  param.Name,
				Unit:       param.Unit,
				SourceFile: table.SourceFile,
				fileIndex:  fileIndex,
			})
		}
	}
	return records
}

func mergedName(tables []*models.Table) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.SourceFile
	}
	return "merged:" + strings.Join(names, "+")
}
