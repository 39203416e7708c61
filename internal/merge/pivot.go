package merge

import (
	"sort"

	"github.com/Luna-leo/seriesd/pkg/models"
)

type cellKey struct {
	ts int64
	id models.ParamID
}

// pivot collapses long records into one wide row per distinct timestamp
// with one column per parameter. Columns are ordered by first appearance
// across the inputs; rows are sorted by timestamp. Combinations never
// observed stay explicitly missing. Returns the table and the number of
// records discarded by the tie-break.
func pivot(records []LongRecord, tieBreak TieBreak) (*models.Table, int) {
	winners := make(map[cellKey]LongRecord, len(records))
	resolved := 0

	var (
		paramOrder []models.ParamID
		paramMeta  = make(map[models.ParamID]LongRecord)
		tsSet      = make(map[int64]struct{})
	)

	for _, rec := range records {
		if _, seen := paramMeta[rec.ParamID]; !seen {
			paramMeta[rec.ParamID] = rec
			paramOrder = append(paramOrder, rec.ParamID)
		}
		tsSet[rec.Timestamp] = struct{}{}

		key := cellKey{ts: rec.Timestamp, id: rec.ParamID}
		cur, exists := winners[key]
		if !exists {
			winners[key] = rec
			continue
		}
		resolved++
		if beats(rec, cur, tieBreak) {
			winners[key] = rec
		}
	}

	timestamps := make([]int64, 0, len(tsSet))
	for ts := range tsSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	table := &models.Table{
		Timestamps: timestamps,
		Params:     make([]models.Parameter, len(paramOrder)),
	}
	for i, id := range paramOrder {
		meta := paramMeta[id]
		values := make([]float64, len(timestamps))
		for row, ts := range timestamps {
			if rec, ok := winners[cellKey{ts: ts, id: id}]; ok {
				values[row] = rec.Value
			} else {
				values[row] = models.Missing()
			}
		}
		table.Params[i] = models.Parameter{
			ID:     id,
			Name:   meta.ParamName,
			Unit:   meta.Unit,
			Values: values,
		}
	}
	return table, resolved
}

// beats reports whether challenger wins the duplicate cell over the
// current holder under the given policy.
func beats(challenger, holder LongRecord, tieBreak TieBreak) bool {
	switch tieBreak {
	case TieBreakImportOrder:
		return challenger.fileIndex > holder.fileIndex
	default: // TieBreakFilenameDesc
		if challenger.SourceFile != holder.SourceFile {
			return challenger.SourceFile > holder.SourceFile
		}
		return challenger.fileIndex > holder.fileIndex
	}
}
