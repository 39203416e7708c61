package registry

import (
	"math"

	"github.com/Luna-leo/seriesd/pkg/models"
)

// intervalSampleGaps is how many leading timestamp gaps feed the
// sampling-interval estimate.
const intervalSampleGaps = 10

// computeMetadata derives the cached per-reference metadata: parameter
// statistics over non-missing values, time range, and an estimated
// sampling interval. Computed once at registration; the backing table is
// replace-only, so the result is never recomputed.
func computeMetadata(refID string, table *models.Table) *models.Metadata {
	meta := &models.Metadata{
		ReferenceID:    refID,
		TimestampCount: len(table.Timestamps),
		Params:         make([]models.ParamStats, len(table.Params)),
	}
	if n := len(table.Timestamps); n > 0 {
		meta.Start = table.Timestamps[0]
		meta.End = table.Timestamps[n-1]
	}
	meta.IntervalMS = estimateInterval(table.Timestamps)

	for i := range table.Params {
		meta.Params[i] = paramStats(&table.Params[i])
	}
	return meta
}

// estimateInterval returns the mean delta over the first
// intervalSampleGaps timestamp gaps, or 0 with fewer than 2 samples.
func estimateInterval(timestamps []int64) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	gaps := len(timestamps) - 1
	if gaps > intervalSampleGaps {
		gaps = intervalSampleGaps
	}
	var sum int64
	for i := 0; i < gaps; i++ {
		sum += timestamps[i+1] - timestamps[i]
	}
	return float64(sum) / float64(gaps)
}

// paramStats computes min/max/mean/stddev over non-missing values using
// Welford's online update.
func paramStats(p *models.Parameter) models.ParamStats {
	stats := models.ParamStats{
		ID:   p.ID,
		Name: p.Name,
		Unit: p.Unit,
		Min:  math.Inf(1),
		Max:  math.Inf(-1),
	}

	var mean, m2 float64
	for _, v := range p.Values {
		if models.IsMissing(v) {
			continue
		}
		stats.Count++
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		delta := v - mean
		mean += delta / float64(stats.Count)
		m2 += delta * (v - mean)
	}

	if stats.Count == 0 {
		stats.Min = math.NaN()
		stats.Max = math.NaN()
		stats.Mean = math.NaN()
		stats.StdDev = math.NaN()
		return stats
	}

	stats.Mean = mean
	if stats.Count > 1 {
		stats.StdDev = math.Sqrt(m2 / float64(stats.Count))
	}
	return stats
}
