package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("malformed log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelWarn, &buf)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept warn")
	logger.Error("kept error")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf).WithComponent("detection")

	logger.Info("pass complete", "pass", "principle_contradiction", "pairs", 12)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["component"] != "detection" {
		t.Errorf("component = %v, want detection", e["component"])
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields missing: %v", e)
	}
	if fields["pass"] != "principle_contradiction" {
		t.Errorf("pass field = %v", fields["pass"])
	}
	if fields["pairs"] != float64(12) {
		t.Errorf("pairs field = %v", fields["pairs"])
	}
}

func TestTraceIDPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf)

	ctx := WithTraceID(context.Background(), "run-42")
	logger.InfoContext(ctx, "batch started")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["trace_id"] != "run-42" {
		t.Errorf("trace_id = %v, want run-42", entries[0]["trace_id"])
	}
}

func TestWithTraceIDGeneratesWhenEmpty(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if TraceID(ctx) == "" {
		t.Error("empty trace ID should be replaced with a generated one")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
