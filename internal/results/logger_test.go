package results

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRecordAppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 1, 1)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	if err := l.Record("ping", "NODE_B", "ok", "", map[string]interface{}{"sent": 5, "received": 5}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record("beacon", "", "stopped", "beacon stopping", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "results.jsonl"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Operation != "ping" || entries[0].Target != "NODE_B" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if got := entries[0].Metrics["sent"]; got != float64(5) {
		t.Errorf("metric sent = %v, want 5", got)
	}
	if entries[1].Operation != "beacon" || entries[1].Outcome != "stopped" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestNewLoggerCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "results")
	l, err := NewLogger(dir, 0, 0)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.Close()

	if err := l.Record("status", "", "ok", "", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "results.jsonl")); err != nil {
		t.Errorf("sink file missing: %v", err)
	}
}
