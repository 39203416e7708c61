package registry

import (
	"testing"

	"github.com/Luna-leo/seriesd/pkg/models"
)

func cacheTable(rows int) *models.Table {
	t := &models.Table{
		Timestamps: make([]int64, rows),
		Params: []models.Parameter{
			{ID: "v", Values: make([]float64, rows)},
		},
	}
	return t
}

func TestThresholdsFireOncePerRisingEdge(t *testing.T) {
	// Budget 1000 bytes; each 25-row single-param table is 200 bytes.
	c := newTableCache(1000, []int{50}, testLogger())

	c.put("a", cacheTable(25)) // 20%
	c.put("b", cacheTable(25)) // 40%
	if c.thresholds[0].tripped {
		t.Fatal("threshold tripped below 50%")
	}

	c.put("c", cacheTable(25)) // 60%, rising edge
	if !c.thresholds[0].tripped {
		t.Fatal("threshold should trip at 60%")
	}

	c.put("d", cacheTable(25)) // 80%, still tripped, no re-fire path to check
	if !c.thresholds[0].tripped {
		t.Fatal("threshold should stay tripped while above")
	}

	// Dropping back below re-arms it.
	c.remove("a")
	c.remove("b")
	if c.thresholds[0].tripped {
		t.Fatal("threshold should re-arm once usage falls below")
	}
	c.put("e", cacheTable(25)) // back to 60%, fires again
	if !c.thresholds[0].tripped {
		t.Fatal("re-armed threshold should fire on the next rising edge")
	}
}

func TestPutReplacesExistingEntry(t *testing.T) {
	c := newTableCache(1<<20, nil, testLogger())

	c.put("a", cacheTable(10))
	if c.used != 80 {
		t.Fatalf("used = %d, want 80", c.used)
	}
	c.put("a", cacheTable(20))
	if c.used != 160 {
		t.Errorf("used after replace = %d, want 160", c.used)
	}
	if len(c.slots) != 1 {
		t.Errorf("slots = %d, want 1", len(c.slots))
	}
	if len(c.queue) != 1 {
		t.Errorf("queue = %d entries, want 1", len(c.queue))
	}
}

func TestReputDoesNotStrandEvictableEntries(t *testing.T) {
	// Budget 1000 bytes; 50-row tables are 400 bytes each.
	c := newTableCache(1000, nil, testLogger())

	c.put("a", cacheTable(50))
	c.put("b", cacheTable(50))

	// Re-storing "a" (a rehydrate does this) must not leave its old
	// queue position at the front: the over-budget sweep it triggers
	// has to reach "b" instead of stopping at a stale "a".
	evicted := c.put("a", cacheTable(100)) // 800 bytes, usage 1200
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
	if _, ok := c.get("b"); ok {
		t.Error("b should have been evicted")
	}
	if tbl, ok := c.get("a"); !ok || tbl.NumRows() != 100 {
		t.Errorf("a should hold the re-put 100-row table, got ok=%v", ok)
	}
	if c.used != 800 {
		t.Errorf("used = %d, want 800", c.used)
	}
}
