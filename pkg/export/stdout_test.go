package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testEvent() *Event {
	return &Event{
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Severity:       "INFO",
		SeverityNumber: SeverityInfo,
		Body:           "Minimal syscall hooks enabled",
		Attributes: map[string]interface{}{
			"rehook.set":       "minimal",
			"rehook.installed": 1,
		},
	}
}

func TestStdoutExporterText(t *testing.T) {
	var buf bytes.Buffer
	e := NewStdoutExporter("", zap.NewNop())
	e.out = &buf

	if err := e.ExportEvents(context.Background(), []*Event{testEvent()}); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	line := buf.String()
	if !strings.HasPrefix(line, "[AUDIT] 2026-03-01T12:00:00Z INFO ") {
		t.Errorf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "Minimal syscall hooks enabled installed=1 set=minimal") {
		t.Errorf("missing body or attributes: %q", line)
	}
}

func TestStdoutExporterJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewStdoutExporter("json", zap.NewNop())
	e.out = &buf

	if err := e.ExportEvents(context.Background(), []*Event{testEvent(), testEvent()}); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["_type"] != "audit" {
		t.Errorf("_type = %v, want audit", decoded["_type"])
	}
	if decoded["body"] != "Minimal syscall hooks enabled" {
		t.Errorf("body = %v", decoded["body"])
	}
}
