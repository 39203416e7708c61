package engine

import (
	"math"
	"testing"
)

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in   string
		want Method
		ok   bool
	}{
		{"", MethodAverage, true},
		{"average", MethodAverage, true},
		{"AVG", MethodAverage, true},
		{"mean", MethodAverage, true},
		{"min", MethodMin, true},
		{"MAX", MethodMax, true},
		{"first", MethodFirst, true},
		{"last", MethodLast, true},
		{"median", "", false},
	}
	for _, c := range cases {
		got, err := ParseMethod(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseMethod(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseMethod(%q) should fail", c.in)
		}
	}
}

func TestWindowRatioKeepsOutputUnderTarget(t *testing.T) {
	for _, c := range []struct{ count, target int }{
		{10, 3}, {100, 7}, {1000, 500}, {5, 5}, {6, 5}, {1, 1}, {1000000, 1000},
	} {
		ratio := windowRatio(c.count, c.target)
		windows := (c.count + ratio - 1) / ratio
		if windows > c.target {
			t.Errorf("count=%d target=%d: ratio %d yields %d windows",
				c.count, c.target, ratio, windows)
		}
	}
}

func TestReduceWindowMethods(t *testing.T) {
	window := []float64{1, 2, 3, 4}
	cases := []struct {
		method Method
		want   float64
	}{
		{MethodAverage, 2.5},
		{MethodMin, 1},
		{MethodMax, 4},
		{MethodFirst, 1},
		{MethodLast, 4},
	}
	for _, c := range cases {
		if got := reduceWindow(window, c.method); got != c.want {
			t.Errorf("%s(%v) = %v, want %v", c.method, window, got, c.want)
		}
	}
}

func TestReduceWindowSkipsMissing(t *testing.T) {
	nan := math.NaN()

	window := []float64{nan, 2, nan, 6}
	if got := reduceWindow(window, MethodAverage); got != 4 {
		t.Errorf("average over missing = %v, want 4", got)
	}
	if got := reduceWindow(window, MethodMin); got != 2 {
		t.Errorf("min over missing = %v, want 2", got)
	}
	if got := reduceWindow(window, MethodMax); got != 6 {
		t.Errorf("max over missing = %v, want 6", got)
	}

	// First and last take the raw edge samples, missing or not.
	if got := reduceWindow(window, MethodFirst); !math.IsNaN(got) {
		t.Errorf("first = %v, want NaN", got)
	}
	if got := reduceWindow(window, MethodLast); got != 6 {
		t.Errorf("last = %v, want 6", got)
	}

	allMissing := []float64{nan, nan}
	for _, m := range []Method{MethodAverage, MethodMin, MethodMax} {
		if got := reduceWindow(allMissing, m); !math.IsNaN(got) {
			t.Errorf("%s over all-missing = %v, want NaN", m, got)
		}
	}
}

func TestDownsampleTimestampsPicksWindowMiddle(t *testing.T) {
	ts := []int64{0, 10, 20, 30}

	got := downsampleTimestamps(ts, 4)
	if len(got) != 1 || got[0] != 20 {
		t.Errorf("ratio 4: got %v, want [20]", got)
	}

	got = downsampleTimestamps(ts, 2)
	if len(got) != 2 || got[0] != 10 || got[1] != 30 {
		t.Errorf("ratio 2: got %v, want [10 30]", got)
	}

	// Short trailing window still gets a middle sample.
	got = downsampleTimestamps([]int64{0, 10, 20, 30, 40}, 2)
	if len(got) != 3 || got[2] != 40 {
		t.Errorf("trailing window: got %v", got)
	}
}

func TestReduceValuesAlignsWithTimestamps(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7}
	ts := []int64{0, 1, 2, 3, 4, 5, 6}

	reduced := reduceValues(values, 3, MethodAverage)
	middles := downsampleTimestamps(ts, 3)
	if len(reduced) != len(middles) {
		t.Fatalf("values %d windows, timestamps %d windows", len(reduced), len(middles))
	}
	want := []float64{2, 5, 7}
	for i := range want {
		if reduced[i] != want[i] {
			t.Errorf("window %d = %v, want %v", i, reduced[i], want[i])
		}
	}
}
