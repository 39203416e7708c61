package parse

import (
	"testing"
	"time"
)

func TestParseTimestampFormats(t *testing.T) {
	ref := time.Date(2024, 3, 15, 12, 30, 45, 0, time.UTC).UnixMilli()

	tests := []struct {
		input    string
		expected int64
	}{
		{"2024-03-15T12:30:45Z", ref},
		{"2024-03-15T12:30:45", ref},
		{"2024-03-15 12:30:45", ref},
		{"2024/03/15 12:30:45", ref},
		{"2024-03-15T12:30:45.500Z", ref + 500},
		{"1710505845", ref},        // epoch seconds
		{"1710505845000", ref},     // epoch millis
		{"1710505845.25", ref + 250}, // fractional seconds
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseTimestamp(tt.input)
			if !ok {
				t.Fatalf("parseTimestamp(%q) failed", tt.input)
			}
			if got != tt.expected {
				t.Errorf("parseTimestamp(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseTimestampRejects(t *testing.T) {
	inputs := []string{
		"",
		"not a time",
		"-100",
		"99999999999999999", // past 2100 even as millis
	}
	for _, input := range inputs {
		if got, ok := parseTimestamp(input); ok {
			t.Errorf("parseTimestamp(%q) = %d, expected failure", input, got)
		}
	}
}

func TestEpochHeuristicBoundary(t *testing.T) {
	// Just below the 2100 cutoff parses as seconds, at the cutoff the
	// value flips to milliseconds.
	secs := int64(maxEpochSeconds - 1)
	got, ok := parseTimestamp("4102444799")
	if !ok || got != secs*1000 {
		t.Errorf("below cutoff: got %d ok=%v, want %d", got, ok, secs*1000)
	}

	got, ok = parseTimestamp("4102444800")
	if !ok || got != maxEpochSeconds {
		t.Errorf("at cutoff: got %d ok=%v, want %d (millis)", got, ok, int64(maxEpochSeconds))
	}
}
