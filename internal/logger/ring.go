package logger

import (
	"io"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}

// Ring is a fixed-size circular buffer of recent log entries. It backs
// the /api/v1/logs endpoint so a host UI can show engine activity
// without tailing the process output.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	next    int
	count   int
}

var (
	globalRing *Ring
	ringOnce   sync.Once
)

// GetRing returns the process-wide capture ring.
func GetRing() *Ring {
	ringOnce.Do(func() {
		globalRing = NewRing(5000)
	})
	return globalRing
}

// NewRing creates a ring holding up to size entries.
func NewRing(size int) *Ring {
	return &Ring{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = e
	r.next = (r.next + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Recent returns up to limit entries, newest first, optionally filtered
// to the given minimum level.
func (r *Ring) Recent(limit int, level string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}

	var out []Entry
	for i := 0; i < r.count && len(out) < limit; i++ {
		idx := (r.next - 1 - i + r.size) % r.size
		e := r.entries[idx]
		if level != "" && !atLeast(e.Level, level) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Count returns the number of captured entries.
func (r *Ring) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
}

func atLeast(entryLevel, filterLevel string) bool {
	e, ok1 := levelRank[strings.ToUpper(entryLevel)]
	f, ok2 := levelRank[strings.ToUpper(filterLevel)]
	if !ok1 || !ok2 {
		return strings.EqualFold(entryLevel, filterLevel)
	}
	return e >= f
}

// RingWriter tees zerolog output into the capture ring.
type RingWriter struct {
	ring *Ring
	out  io.Writer
}

// NewRingWriter wraps out so every line written through it is also
// parsed into the global ring.
func NewRingWriter(out io.Writer) *RingWriter {
	return &RingWriter{ring: GetRing(), out: out}
}

// Write implements io.Writer.
func (w *RingWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if w.out != nil {
		n, err = w.out.Write(p)
	}

	e := parseLine(string(p))
	if e.Message != "" || e.Level != "" {
		w.ring.Add(e)
	}
	return n, err
}

// parseLine pulls the interesting fields out of a zerolog JSON line.
// Best effort only; a line that doesn't look like zerolog JSON is kept
// as a bare message.
func parseLine(line string) Entry {
	e := Entry{Timestamp: time.Now()}
	e.Level = strings.ToUpper(jsonField(line, "level"))
	e.Component = jsonField(line, "component")
	e.Message = jsonField(line, "message")
	if ts := jsonField(line, "time"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Timestamp = t
		}
	}
	return e
}

func jsonField(line, key string) string {
	marker := `"` + key + `":"`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return ""
	}
	start := idx + len(marker)
	end := strings.Index(line[start:], `"`)
	if end <= 0 {
		return ""
	}
	return line[start : start+end]
}
