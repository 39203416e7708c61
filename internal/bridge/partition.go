package bridge

import (
	"fmt"
	"sort"
	"time"

	"github.com/Luna-leo/seriesd/pkg/models"
)

// Partition pairs a partition key with the slice of a table falling in
// that key's calendar month.
type Partition struct {
	Key   string
	Table *models.Table
}

// PartitionKey builds the storage key for one calendar month of one
// logical source: "<sourceID>/<YYYY-MM>". One partition per source per
// month is the unit of persistence and of incremental re-merge.
func PartitionKey(sourceID string, tsMillis int64) string {
	t := time.UnixMilli(tsMillis).UTC()
	return fmt.Sprintf("%s/%04d-%02d", sourceID, t.Year(), int(t.Month()))
}

// SplitMonthly cuts a table into per-month partitions keyed by
// PartitionKey, preserving row order. Partitions come back sorted by
// key, which for a fixed source is chronological.
func SplitMonthly(table *models.Table, sourceID string) []Partition {
	rowsByKey := make(map[string][]int)
	for row, ts := range table.Timestamps {
		key := PartitionKey(sourceID, ts)
		rowsByKey[key] = append(rowsByKey[key], row)
	}

	keys := make([]string, 0, len(rowsByKey))
	for key := range rowsByKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]Partition, 0, len(keys))
	for _, key := range keys {
		rows := rowsByKey[key]
		sub := &models.Table{
			SourceFile: table.SourceFile,
			Timestamps: make([]int64, len(rows)),
			Params:     make([]models.Parameter, len(table.Params)),
		}
		for i := range table.Params {
			src := &table.Params[i]
			sub.Params[i] = models.Parameter{
				ID:     src.ID,
				Name:   src.Name,
				Unit:   src.Unit,
				Values: make([]float64, len(rows)),
			}
		}
		for out, row := range rows {
			sub.Timestamps[out] = table.Timestamps[row]
			for p := range table.Params {
				sub.Params[p].Values[out] = table.Params[p].Values[row]
			}
		}
		parts = append(parts, Partition{Key: key, Table: sub})
	}
	return parts
}

// Concat stitches same-shaped partition tables back together in the
// order given. Partitions loaded in key order yield a chronologically
// ordered table. Column sets must match; parameters missing from a
// partition are padded with missing values.
func Concat(tables []*models.Table) *models.Table {
	if len(tables) == 0 {
		return &models.Table{}
	}

	out := &models.Table{SourceFile: tables[0].SourceFile}
	var order []models.ParamID
	meta := make(map[models.ParamID]models.Parameter)
	total := 0
	for _, t := range tables {
		total += len(t.Timestamps)
		for i := range t.Params {
			p := &t.Params[i]
			if _, ok := meta[p.ID]; !ok {
				meta[p.ID] = models.Parameter{ID: p.ID, Name: p.Name, Unit: p.Unit}
				order = append(order, p.ID)
			}
		}
	}

	out.Timestamps = make([]int64, 0, total)
	out.Params = make([]models.Parameter, len(order))
	for i, id := range order {
		m := meta[id]
		m.Values = make([]float64, 0, total)
		out.Params[i] = m
	}

	for _, t := range tables {
		out.Timestamps = append(out.Timestamps, t.Timestamps...)
		for i, id := range order {
			if src := t.Param(id); src != nil {
				out.Params[i].Values = append(out.Params[i].Values, src.Values...)
			} else {
				for range t.Timestamps {
					out.Params[i].Values = append(out.Params[i].Values, models.Missing())
				}
			}
		}
	}
	return out
}

// FilterRange returns the sub-table of samples inside the closed range,
// assuming non-decreasing timestamps.
func FilterRange(table *models.Table, tr models.TimeRange) *models.Table {
	i := sort.Search(len(table.Timestamps), func(k int) bool {
		return table.Timestamps[k] >= tr.Start
	})
	j := sort.Search(len(table.Timestamps), func(k int) bool {
		return table.Timestamps[k] > tr.End
	})
	if i > j {
		i = j
	}

	out := &models.Table{
		SourceFile: table.SourceFile,
		Timestamps: table.Timestamps[i:j],
		Params:     make([]models.Parameter, len(table.Params)),
	}
	for p := range table.Params {
		src := &table.Params[p]
		out.Params[p] = models.Parameter{
			ID:     src.ID,
			Name:   src.Name,
			Unit:   src.Unit,
			Values: src.Values[i:j],
		}
	}
	return out
}
