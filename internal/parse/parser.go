package parse

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Luna-leo/seriesd/pkg/models"
)

// maxDiagnostics bounds the diagnostics list for pathological files.
// Past the cap the table keeps degrading cells silently; one final
// entry records the suppression.
const maxDiagnostics = 1000

// Options controls a single parse.
type Options struct {
	// Encoding of the raw bytes: "utf-8", "shift-jis", "euc-jp",
	// "iso-2022-jp", or ""/"auto" for detection.
	Encoding string
}

// Result is a parsed table plus its accumulated non-fatal diagnostics.
type Result struct {
	Table       *models.Table
	Diagnostics []models.Diagnostic
}

// StructureError is the fatal parse failure: the file's skeleton (three
// header rows plus at least one data row, equal header widths) is broken
// and no partial table is returned.
type StructureError struct {
	File   string
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("structural error in %s: %s", e.File, e.Reason)
}

// Parse decodes and parses one file. The format is fixed: row 1 holds
// parameter ids (column 0 is the timestamp label and is ignored), row 2
// display names, row 3 units, and every following row is a timestamp
// plus position-aligned numeric cells.
//
// Only structural problems fail the parse. Row- and cell-level problems
// degrade locally (skipped row, NaN cell) and are reported as
// diagnostics on the result.
func Parse(raw []byte, fileName string, opts Options) (*Result, error) {
	text, diags, err := DecodeText(raw, opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1 // row widths are validated manually
	r.LazyQuotes = true

	header, err := readHeader(r, fileName)
	if err != nil {
		return nil, err
	}

	p := &rowParser{
		fileName: fileName,
		numCols:  len(header.ids),
		diags:    diags,
	}
	table := &models.Table{
		SourceFile: fileName,
		Params:     make([]models.Parameter, len(header.ids)),
	}
	for i := range header.ids {
		table.Params[i] = models.Parameter{
			ID:   header.ids[i],
			Name: header.names[i],
			Unit: header.units[i],
		}
	}
	p.diags = append(p.diags, header.diags...)

	line := 3 // rows consumed so far (1-based line numbers follow)
	dataRows := 0
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			p.addDiag(models.Diagnostic{
				Row: line, Column: -1, Kind: models.DiagBadValue,
				Message: fmt.Sprintf("unreadable row: %v", err),
			})
			continue
		}
		dataRows++
		p.parseRow(line, fields, table)
	}

	if dataRows == 0 {
		return nil, &StructureError{File: fileName, Reason: "no data rows after header"}
	}
	if p.suppressed > 0 {
		p.diags = append(p.diags, models.Diagnostic{
			Column: -1, Kind: models.DiagBadValue,
			Message: fmt.Sprintf("%d further diagnostics suppressed", p.suppressed),
		})
	}

	return &Result{Table: table, Diagnostics: p.diags}, nil
}

type headerRows struct {
	ids   []models.ParamID
	names []string
	units []string
	diags []models.Diagnostic
}

// readHeader consumes the three header rows and resolves duplicate
// parameter ids by appending _2, _3, ... in first-seen order.
func readHeader(r *csv.Reader, fileName string) (*headerRows, error) {
	rows := make([][]string, 0, 3)
	for i := 0; i < 3; i++ {
		fields, err := r.Read()
		if err != nil {
			return nil, &StructureError{
				File:   fileName,
				Reason: fmt.Sprintf("fewer than 3 header rows (got %d)", i),
			}
		}
		rows = append(rows, fields)
	}

	width := len(rows[0])
	if len(rows[1]) != width || len(rows[2]) != width {
		return nil, &StructureError{
			File: fileName,
			Reason: fmt.Sprintf("header row lengths differ: %d/%d/%d",
				len(rows[0]), len(rows[1]), len(rows[2])),
		}
	}
	if width < 2 {
		return nil, &StructureError{File: fileName, Reason: "header has no parameter columns"}
	}

	h := &headerRows{}
	seen := make(map[models.ParamID]int) // id -> occurrences so far
	for col := 1; col < width; col++ {
		id := models.ParamID(strings.TrimSpace(rows[0][col]))
		if id == "" {
			id = models.ParamID(fmt.Sprintf("column_%d", col))
		}
		if n := seen[id]; n > 0 {
			renamed := models.ParamID(fmt.Sprintf("%s_%d", id, n+1))
			// The renamed id could itself collide with a later header
			// entry; bump until free.
			for seen[renamed] > 0 {
				n++
				renamed = models.ParamID(fmt.Sprintf("%s_%d", id, n+1))
			}
			h.diags = append(h.diags, models.Diagnostic{
				Row: 1, Column: col, Kind: models.DiagDuplicateID,
				Message: fmt.Sprintf("duplicate parameter id %q renamed to %q", id, renamed),
			})
			seen[id] = n + 1
			id = renamed
		}
		seen[id]++
		h.ids = append(h.ids, id)
		h.names = append(h.names, strings.TrimSpace(rows[1][col]))
		h.units = append(h.units, strings.TrimSpace(rows[2][col]))
	}
	return h, nil
}

type rowParser struct {
	fileName   string
	numCols    int
	diags      []models.Diagnostic
	suppressed int
}

func (p *rowParser) addDiag(d models.Diagnostic) {
	if len(p.diags) >= maxDiagnostics {
		p.suppressed++
		return
	}
	p.diags = append(p.diags, d)
}

// parseRow appends one data row. A bad timestamp drops the row; a bad
// cell degrades to NaN so the rest of the row survives.
func (p *rowParser) parseRow(line int, fields []string, table *models.Table) {
	if len(fields) == 0 || strings.TrimSpace(fields[0]) == "" {
		p.addDiag(models.Diagnostic{
			Row: line, Column: 0, Kind: models.DiagMissingTimestamp,
			Message: "row has no timestamp, skipped",
		})
		return
	}

	ts, ok := parseTimestamp(fields[0])
	if !ok {
		p.addDiag(models.Diagnostic{
			Row: line, Column: 0, Kind: models.DiagBadTimestamp,
			Message: fmt.Sprintf("unparseable timestamp %q, row skipped", fields[0]),
		})
		return
	}

	valueCells := fields[1:]
	if len(valueCells) < p.numCols {
		p.addDiag(models.Diagnostic{
			Row: line, Column: -1, Kind: models.DiagShortRow,
			Message: fmt.Sprintf("row has %d of %d value cells, missing cells recorded as NaN",
				len(valueCells), p.numCols),
		})
	} else if len(valueCells) > p.numCols {
		p.addDiag(models.Diagnostic{
			Row: line, Column: -1, Kind: models.DiagLongRow,
			Message: fmt.Sprintf("row has %d extra cells, ignored", len(valueCells)-p.numCols),
		})
	}

	table.Timestamps = append(table.Timestamps, ts)
	for col := 0; col < p.numCols; col++ {
		v := models.Missing()
		if col < len(valueCells) {
			cell := strings.TrimSpace(valueCells[col])
			if cell != "" {
				parsed, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					p.addDiag(models.Diagnostic{
						Row: line, Column: col + 1, Kind: models.DiagBadValue,
						Message: fmt.Sprintf("unparseable value %q for %s, recorded as NaN",
							cell, table.Params[col].ID),
					})
				} else {
					v = parsed
				}
			}
		}
		table.Params[col].Values = append(table.Params[col].Values, v)
	}
}
