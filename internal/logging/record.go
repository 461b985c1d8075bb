package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/drover-dev/drover/internal/stream"
)

// Record is one line in a run's JSONL log.
type Record struct {
	// Type mirrors the stream event kind, plus "usage" and "run" records.
	Type string `json:"type"`

	// Timestamp is when the record was written.
	Timestamp time.Time `json:"timestamp"`

	// Engine is the engine that produced the record.
	Engine string `json:"engine,omitempty"`

	// Text is the event text (assistant output, status lines, errors).
	Text string `json:"text,omitempty"`

	// Tool is the tool name (for tool records).
	Tool string `json:"tool,omitempty"`

	// IsError marks failed tool results and error records.
	IsError bool `json:"is_error,omitempty"`

	// Token counters (for usage records).
	TokensIn  int `json:"tokens_in,omitempty"`
	TokensOut int `json:"tokens_out,omitempty"`
	Cached    int `json:"cached,omitempty"`

	// ExitCode is the engine exit code (for run records).
	ExitCode int `json:"exit_code,omitempty"`
}

// RecordFromEvent converts a stream event into a log record.
func RecordFromEvent(engine string, ev stream.Event) Record {
	return Record{
		Type:      string(ev.Kind),
		Timestamp: time.Now().UTC(),
		Engine:    engine,
		Text:      ev.Text,
		Tool:      ev.Tool,
		IsError:   ev.IsError,
	}
}

// RecordFromUsage converts a usage snapshot into a log record.
func RecordFromUsage(engine string, u stream.UsageSnapshot) Record {
	return Record{
		Type:      "usage",
		Timestamp: time.Now().UTC(),
		Engine:    engine,
		TokensIn:  u.TokensIn,
		TokensOut: u.TokensOut,
		Cached:    u.Cached,
	}
}

// RecordWriter writes log records.
type RecordWriter interface {
	Write(rec Record) error
}

// JSONLWriter writes records as JSON lines to an io.Writer.
type JSONLWriter struct {
	w io.Writer
}

// NewJSONLWriter creates a record writer that writes JSON lines.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w}
}

// Write writes one record as a JSON line.
func (l *JSONLWriter) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	data = append(data, '\n')
	_, err = l.w.Write(data)
	return err
}

// MultiWriter writes to multiple record writers.
type MultiWriter struct {
	writers []RecordWriter
}

// NewMultiWriter creates a record writer that fans out to all writers.
func NewMultiWriter(writers ...RecordWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write writes the record to all underlying writers.
func (m *MultiWriter) Write(rec Record) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multi-writer errors: %v", errs)
	}
	return nil
}

// NullWriter is a no-op record writer.
type NullWriter struct{}

// Write does nothing.
func (NullWriter) Write(rec Record) error {
	return nil
}

type lockedWriter struct {
	mu     sync.Mutex
	writer RecordWriter
}

func (l *lockedWriter) Write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Write(rec)
}

// Normalize wraps a writer so concurrent stream callbacks can share it.
// A nil writer becomes a NullWriter.
func Normalize(writer RecordWriter) RecordWriter {
	if writer == nil {
		return NullWriter{}
	}
	return &lockedWriter{writer: writer}
}
