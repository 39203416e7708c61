package registry

import (
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/pkg/models"
)

// Usage is a point-in-time view of cache occupancy.
type Usage struct {
	UsedBytes  int64   `json:"used_bytes"`
	MaxBytes   int64   `json:"max_bytes"`
	Percentage float64 `json:"percentage"`
}

// DefaultWarnThresholds are the usage percentages that log a warning on
// the rising edge.
var DefaultWarnThresholds = []int{50, 70, 85, 95}

type cacheSlot struct {
	table *models.Table
	bytes int64
}

type threshold struct {
	percent int
	tripped bool
}

// tableCache is the memory-bounded cache wrapping the registry's
// in-memory slot per reference. Byte accounting uses the cheap
// rows x params x 8 estimate. Eviction is FIFO by registration order,
// tracked in an explicit queue so ordering never depends on map
// iteration; the entry that triggered the eviction check is never
// evicted. Each warning threshold fires once per rising edge and
// re-arms when usage falls back below it.
//
// tableCache is not safe for concurrent use on its own; the owning
// Registry's lock is the single mutual-exclusion boundary.
type tableCache struct {
	maxBytes   int64
	used       int64
	slots      map[string]*cacheSlot
	queue      []string // FIFO of ids; stale ids are skipped lazily
	thresholds []threshold
	logger     zerolog.Logger
}

func newTableCache(maxBytes int64, warnPercents []int, logger zerolog.Logger) *tableCache {
	if len(warnPercents) == 0 {
		warnPercents = DefaultWarnThresholds
	}
	ths := make([]threshold, len(warnPercents))
	for i, p := range warnPercents {
		ths[i] = threshold{percent: p}
	}
	return &tableCache{
		maxBytes:   maxBytes,
		slots:      make(map[string]*cacheSlot),
		thresholds: ths,
		logger:     logger.With().Str("component", "table-cache").Logger(),
	}
}

// put stores a table under id and evicts oldest-first until the cache is
// back under budget or only the new entry remains. Returns the ids whose
// in-memory slot was dropped.
func (c *tableCache) put(id string, table *models.Table) []string {
	if old, ok := c.slots[id]; ok {
		c.used -= old.bytes
		delete(c.slots, id)
		// Drop the old queue position too. Leaving it behind would make
		// a later eviction sweep stop at a stale duplicate of id and
		// strand evictable younger entries behind it.
		c.dropQueued(id)
	}

	bytes := table.EstimatedBytes()
	c.slots[id] = &cacheSlot{table: table, bytes: bytes}
	c.queue = append(c.queue, id)
	c.used += bytes

	var evicted []string
	for c.used > c.maxBytes && len(c.queue) > 0 {
		victim := c.queue[0]
		if victim == id {
			// Never evict the entry that triggered the check, even
			// when it alone exceeds the budget.
			break
		}
		c.queue = c.queue[1:]
		slot, ok := c.slots[victim]
		if !ok {
			continue // stale queue entry, already removed
		}
		delete(c.slots, victim)
		c.used -= slot.bytes
		evicted = append(evicted, victim)
		c.logger.Info().
			Str("reference_id", victim).
			Int64("freed_bytes", slot.bytes).
			Int64("used_bytes", c.used).
			Msg("Evicted table from cache")
	}

	c.checkThresholds()
	return evicted
}

// dropQueued removes every queued occurrence of id.
func (c *tableCache) dropQueued(id string) {
	kept := c.queue[:0]
	for _, q := range c.queue {
		if q != id {
			kept = append(kept, q)
		}
	}
	c.queue = kept
}

func (c *tableCache) get(id string) (*models.Table, bool) {
	slot, ok := c.slots[id]
	if !ok {
		return nil, false
	}
	return slot.table, true
}

func (c *tableCache) remove(id string) {
	if slot, ok := c.slots[id]; ok {
		c.used -= slot.bytes
		delete(c.slots, id)
	}
	c.checkThresholds()
}

func (c *tableCache) clear() {
	c.slots = make(map[string]*cacheSlot)
	c.queue = nil
	c.used = 0
	for i := range c.thresholds {
		c.thresholds[i].tripped = false
	}
}

func (c *tableCache) usage() Usage {
	pct := 0.0
	if c.maxBytes > 0 {
		pct = float64(c.used) / float64(c.maxBytes) * 100
	}
	return Usage{UsedBytes: c.used, MaxBytes: c.maxBytes, Percentage: pct}
}

// checkThresholds logs each configured threshold once per rising edge
// and re-arms it when usage drops back below.
func (c *tableCache) checkThresholds() {
	pct := c.usage().Percentage
	for i := range c.thresholds {
		t := &c.thresholds[i]
		switch {
		case pct >= float64(t.percent) && !t.tripped:
			t.tripped = true
			c.logger.Warn().
				Float64("usage_percent", pct).
				Int("threshold_percent", t.percent).
				Int64("used_bytes", c.used).
				Int64("max_bytes", c.maxBytes).
				Msg("Cache usage crossed warning threshold")
		case pct < float64(t.percent) && t.tripped:
			t.tripped = false
		}
	}
}
