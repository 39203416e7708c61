package parse

import (
	"strconv"
	"strings"
	"time"
)

// Epoch sanity window: [1970-01-01, 2100-01-01) in seconds and millis.
const (
	maxEpochSeconds = 4102444800
	maxEpochMillis  = maxEpochSeconds * 1000
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var slashLayouts = []string{
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
}

// parseTimestamp converts one timestamp cell to epoch milliseconds (UTC).
// Formats are tried in a fixed order and the first success wins:
// ISO-8601, the YYYY/MM/DD family, then a Unix-epoch heuristic that
// decides seconds vs milliseconds by which unit lands the value inside
// the [1970, 2100) calendar window.
func parseTimestamp(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli(), true
		}
	}
	for _, layout := range slashLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli(), true
		}
	}
	return parseEpoch(s)
}

func parseEpoch(s string) (int64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}

	switch {
	case f < maxEpochSeconds:
		// Seconds; keep sub-second precision from fractional input.
		return int64(f * 1000), true
	case f < maxEpochMillis:
		return int64(f), true
	default:
		// Beyond year 2100 even as milliseconds: not a timestamp.
		return 0, false
	}
}
