package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Luna-leo/seriesd/internal/bridge"
	"github.com/Luna-leo/seriesd/internal/registry"
	"github.com/Luna-leo/seriesd/pkg/models"
)

// Request is one window-and-downsample query against a registered
// dataset. Range is a closed window in epoch milliseconds; nil means
// the whole series. Empty Params means every parameter; MaxPoints 0
// disables downsampling.
type Request struct {
	ReferenceID string            `json:"reference_id"`
	Range       *models.TimeRange `json:"range,omitempty"`
	Params      []models.ParamID  `json:"params,omitempty"`
	MaxPoints   int               `json:"max_points,omitempty"`
	Method      Method            `json:"method,omitempty"`
}

// Series is one parameter's slice of the response, aligned to the shared
// timestamp column.
type Series struct {
	ID     models.ParamID `json:"id"`
	Name   string         `json:"name"`
	Unit   string         `json:"unit"`
	Values []float64      `json:"values"`
}

// ResponseMeta describes what the query did to the data.
type ResponseMeta struct {
	// TotalPoints counts samples in range before downsampling, summed
	// over the selected series.
	TotalPoints  int    `json:"total_points"`
	ActualPoints int    `json:"actual_points"`
	Downsampled  bool   `json:"downsampled"`
	Method       Method `json:"method,omitempty"`
	// TimeRange covers the filtered data before downsampling; after
	// downsampling the output timestamps are window middles, so this is
	// the only place the true covered range survives. Omitted when the
	// window is empty.
	TimeRange *models.TimeRange `json:"time_range,omitempty"`
	// Reloaded is set when the query pulled partitions back from
	// external storage.
	Reloaded bool `json:"reloaded,omitempty"`
}

// Response carries the windowed, possibly downsampled result.
type Response struct {
	ReferenceID string       `json:"reference_id"`
	Timestamps  []int64      `json:"timestamps"`
	Series      []Series     `json:"series"`
	Meta        ResponseMeta `json:"meta"`
}

// Engine answers range queries over registered datasets, transparently
// reloading evicted data from the persistence bridge. Concurrent queries
// for the same evicted reference collapse into a single reload.
type Engine struct {
	registry *registry.Registry
	bridge   bridge.Bridge
	reloads  singleflight.Group
	logger   zerolog.Logger
}

func New(reg *registry.Registry, br bridge.Bridge, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: reg,
		bridge:   br,
		logger:   logger.With().Str("component", "query-engine").Logger(),
	}
}

// Query resolves the reference, slices the closed requested window (or
// takes the whole series when no range is given), selects the requested
// parameters and downsamples when the window holds more than MaxPoints
// samples.
func (e *Engine) Query(ctx context.Context, req *Request) (*Response, error) {
	if req.Range != nil && req.Range.Start > req.Range.End {
		return nil, fmt.Errorf("invalid time range: start %d after end %d",
			req.Range.Start, req.Range.End)
	}
	if req.MaxPoints < 0 {
		return nil, fmt.Errorf("max_points must not be negative")
	}
	method := req.Method
	if method == "" {
		method = MethodAverage
	}

	ref, table, err := e.registry.Lookup(req.ReferenceID)
	if err != nil {
		return nil, err
	}
	reloaded := false
	if table == nil {
		table, err = e.reload(ctx, ref)
		if err != nil {
			return nil, err
		}
		reloaded = true
	}

	window := table
	if req.Range != nil {
		window = bridge.FilterRange(table, *req.Range)
	}
	selected, err := selectParams(window, req.Params)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		ReferenceID: ref.ID,
		Meta: ResponseMeta{
			TotalPoints: window.NumRows() * len(selected),
			Reloaded:    reloaded,
		},
	}
	if tr, ok := window.TimeRange(); ok {
		resp.Meta.TimeRange = &tr
	}

	count := window.NumRows()
	if req.MaxPoints > 0 && count > req.MaxPoints {
		ratio := windowRatio(count, req.MaxPoints)
		resp.Timestamps = downsampleTimestamps(window.Timestamps, ratio)
		resp.Series = make([]Series, len(selected))
		for i, p := range selected {
			resp.Series[i] = Series{
				ID:     p.ID,
				Name:   p.Name,
				Unit:   p.Unit,
				Values: reduceValues(p.Values, ratio, method),
			}
		}
		resp.Meta.Downsampled = true
		resp.Meta.Method = method
	} else {
		resp.Timestamps = window.Timestamps
		resp.Series = make([]Series, len(selected))
		for i, p := range selected {
			resp.Series[i] = Series{ID: p.ID, Name: p.Name, Unit: p.Unit, Values: p.Values}
		}
	}

	for i := range resp.Series {
		resp.Meta.ActualPoints += len(resp.Series[i].Values)
	}

	e.logger.Debug().
		Str("reference_id", ref.ID).
		Int("window_rows", count).
		Int("series", len(resp.Series)).
		Bool("downsampled", resp.Meta.Downsampled).
		Bool("reloaded", reloaded).
		Msg("Answered query")
	return resp, nil
}

// reload pulls every partition of an externally stored reference back
// and rehydrates the cache. Whole partitions are loaded rather than the
// query's sub-range so the cached copy serves later queries too.
func (e *Engine) reload(ctx context.Context, ref *models.DataReference) (*models.Table, error) {
	v, err, _ := e.reloads.Do(ref.ID, func() (interface{}, error) {
		// Another flight may have finished while we queued.
		if _, table, err := e.registry.Lookup(ref.ID); err == nil && table != nil {
			return table, nil
		}

		keys := ref.PartitionKeys
		if len(keys) == 0 {
			listed, err := e.bridge.ListPartitions(ctx, ref.SourceID)
			if err != nil {
				return nil, fmt.Errorf("list partitions for %s: %w", ref.ID, err)
			}
			keys = listed
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("reference %s has no stored partitions", ref.ID)
		}

		tables := make([]*models.Table, 0, len(keys))
		for _, key := range keys {
			t, err := e.bridge.Load(ctx, key, nil)
			if err != nil {
				return nil, fmt.Errorf("reload %s: %w", ref.ID, err)
			}
			tables = append(tables, t)
		}
		table := bridge.Concat(tables)

		if err := e.registry.Rehydrate(ref.ID, table); err != nil {
			return nil, fmt.Errorf("rehydrate %s: %w", ref.ID, err)
		}
		e.logger.Info().
			Str("reference_id", ref.ID).
			Int("partitions", len(keys)).
			Int("rows", table.NumRows()).
			Msg("Reloaded dataset from external storage")
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Table), nil
}

// selectParams resolves the requested parameter ids against the table,
// preserving request order. Empty selection means every column.
func selectParams(table *models.Table, ids []models.ParamID) ([]*models.Parameter, error) {
	if len(ids) == 0 {
		out := make([]*models.Parameter, len(table.Params))
		for i := range table.Params {
			out[i] = &table.Params[i]
		}
		return out, nil
	}
	out := make([]*models.Parameter, 0, len(ids))
	for _, id := range ids {
		p := table.Param(id)
		if p == nil {
			return nil, fmt.Errorf("parameter %q not found", id)
		}
		out = append(out, p)
	}
	return out, nil
}
