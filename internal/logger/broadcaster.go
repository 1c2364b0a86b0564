package logger

import (
	"encoding/json"
	"sync"

	"github.com/medialoom/medialoom/internal/events"
)

const defaultBufferSize = 1000

// LogEntry represents a parsed log entry for streaming.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// StreamWriter implements io.Writer and republishes log entries on the
// event bus, keeping a ring buffer of recent entries for catch-up reads.
type StreamWriter struct {
	publisher events.Publisher
	buffer    *RingBuffer[LogEntry]
	mu        sync.RWMutex
}

// NewStreamWriter creates a stream writer. The publisher can be nil
// initially and set later with SetPublisher.
func NewStreamWriter(publisher events.Publisher, bufferSize int) *StreamWriter {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &StreamWriter{
		publisher: publisher,
		buffer:    NewRingBuffer[LogEntry](bufferSize),
	}
}

// SetPublisher sets the event publisher for streaming entries.
func (w *StreamWriter) SetPublisher(publisher events.Publisher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.publisher = publisher
}

// Write implements io.Writer. It receives JSON log entries from zerolog.
func (w *StreamWriter) Write(p []byte) (n int, err error) {
	n = len(p)

	entry, parseErr := parseLogEntry(p)
	if parseErr != nil {
		return n, nil //nolint:nilerr // Silently ignore malformed log entries
	}

	// The bus logs dropped events; republishing those would feed back.
	if entry.Component == "events" {
		return n, nil
	}

	w.buffer.Push(entry)

	w.mu.RLock()
	publisher := w.publisher
	w.mu.RUnlock()

	if publisher != nil {
		publisher.Publish(events.TypeLogEntry, entry)
	}

	return n, nil
}

// GetRecentLogs returns all buffered log entries.
func (w *StreamWriter) GetRecentLogs() []LogEntry {
	return w.buffer.GetAll()
}

// parseLogEntry parses a zerolog JSON entry into a LogEntry.
func parseLogEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{
		Fields: make(map[string]any),
	}

	if ts, ok := raw["time"].(string); ok {
		entry.Timestamp = ts
		delete(raw, "time")
	}

	if level, ok := raw["level"].(string); ok {
		entry.Level = level
		delete(raw, "level")
	}

	if component, ok := raw["component"].(string); ok {
		entry.Component = component
		delete(raw, "component")
	}

	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
		delete(raw, "message")
	}

	for k, v := range raw {
		entry.Fields[k] = v
	}

	return entry, nil
}
