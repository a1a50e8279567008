package logging

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRecorderCapacity = 256

// Entry is a single log record captured by a Recorder.
type Entry struct {
	Time      time.Time      `yaml:"time"`
	Level     string         `yaml:"level"`
	Component string         `yaml:"component"`
	Message   string         `yaml:"message"`
	Fields    map[string]any `yaml:"fields,omitempty"`
}

// Recorder keeps a bounded, in-memory copy of log records so a test
// result can carry the warnings emitted while it ran.
type Recorder struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	minLevel slog.Level
	dropped  atomic.Int64
}

// NewRecorder creates a recorder keeping at most capacity entries at or
// above minLevel ("debug", "info", "warn", "error").
func NewRecorder(minLevel string, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRecorderCapacity
	}
	return &Recorder{
		capacity: capacity,
		minLevel: parseLevel(minLevel),
	}
}

// ShouldRecord reports whether a record at level would be kept.
func (r *Recorder) ShouldRecord(level slog.Level) bool {
	return level >= r.minLevel
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.capacity {
		r.dropped.Add(1)
		return
	}
	r.entries = append(r.entries, e)
}

// Drain returns the recorded entries and resets the buffer.
func (r *Recorder) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries
	r.entries = nil
	return out
}

// Dropped returns how many entries were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
