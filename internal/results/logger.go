// Package results persists test outcomes as an append-only JSONL sink.
//
// Each operation run through the node facade leaves one record here so
// field measurements survive the process. The file rotates by size; old
// records are never rewritten.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one persisted test outcome.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	Operation string                 `json:"op"`
	Target    string                 `json:"target,omitempty"`
	Outcome   string                 `json:"outcome"`
	Detail    string                 `json:"detail,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Logger writes entries through a size-rotated file.
type Logger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// NewLogger opens (creating if needed) the results sink under dir.
func NewLogger(dir string, maxSizeMB, maxBackups int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return &Logger{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "results.jsonl"),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
	}, nil
}

// Record appends one outcome. Failures to persist are returned but are
// never fatal to the operation that produced the result.
func (l *Logger) Record(op, target, outcome, detail string, metrics map[string]interface{}) error {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Operation: op,
		Target:    target,
		Outcome:   outcome,
		Detail:    detail,
		Metrics:   metrics,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal result entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write result entry: %w", err)
	}
	return nil
}

// Close flushes and closes the sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
