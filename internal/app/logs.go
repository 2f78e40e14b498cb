package app

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/config"
)

// LogEntry is one log line kept for /api/logs and mirrored to watchers.
type LogEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
}

// LogBuffer is a zerolog output that keeps the most recent lines in memory
// and optionally forwards each one.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
	forward func(LogEntry)
}

// NewLogBuffer keeps at most max entries.
func NewLogBuffer(max int) *LogBuffer {
	if max < 1 {
		max = 1
	}
	return &LogBuffer{max: max}
}

// NewLogger builds the agent logger: console or JSON on w at the configured
// level, with every line also captured by buf.
func NewLogger(cfg config.Config, w io.Writer, buf *LogBuffer) zerolog.Logger {
	out := w
	if cfg.Logging.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	if buf != nil {
		out = zerolog.MultiLevelWriter(out, buf)
	}
	return zerolog.New(out).Level(cfg.LogLevel()).With().Timestamp().Logger()
}

// Write receives one JSON-encoded zerolog event.
func (b *LogBuffer) Write(p []byte) (int, error) {
	var raw struct {
		Time      string `json:"time"`
		Level     string `json:"level"`
		Message   string `json:"message"`
		Component string `json:"component"`
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		// Not ours to fail the logger over.
		return len(p), nil
	}
	e := LogEntry{TS: raw.Time, Level: raw.Level, Message: raw.Message, Component: raw.Component}
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = append(b.entries[:0], b.entries[over:]...)
	}
	forward := b.forward
	b.mu.Unlock()

	if forward != nil {
		forward(e)
	}
	return len(p), nil
}

// Forward sets fn to receive every subsequent entry.
func (b *LogBuffer) Forward(fn func(LogEntry)) {
	b.mu.Lock()
	b.forward = fn
	b.mu.Unlock()
}

// Entries returns buffered lines oldest first, optionally filtered to one
// level and trimmed to the newest limit entries.
func (b *LogBuffer) Entries(level string, limit int) []LogEntry {
	b.mu.Lock()
	out := make([]LogEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	b.mu.Unlock()

	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}
