package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StdoutExporter prints audit events to stdout, one line per event.
type StdoutExporter struct {
	format string // "text" or "json"
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewStdoutExporter creates a new stdout exporter.
func NewStdoutExporter(format string, logger *zap.Logger) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	return &StdoutExporter{
		format: format,
		logger: logger,
		out:    os.Stdout,
	}
}

// ExportEvents prints events.
func (e *StdoutExporter) ExportEvents(ctx context.Context, events []*Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ev := range events {
		if e.format == "json" {
			if err := e.printJSON(ev); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(e.out, "[AUDIT] %s %-5s %s %s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Severity, ev.Body, formatAttrs(ev.Attributes),
		); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(ctx context.Context) error {
	return nil
}

func (e *StdoutExporter) printJSON(ev *Event) error {
	data := map[string]interface{}{
		"_type":      "audit",
		"timestamp":  ev.Timestamp.Format(time.RFC3339Nano),
		"severity":   ev.Severity,
		"body":       ev.Body,
		"attributes": ev.Attributes,
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.out, "%s\n", b)
	return err
}

func formatAttrs(attrs map[string]interface{}) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", strings.TrimPrefix(k, "rehook."), attrs[k]))
	}
	return strings.Join(parts, " ")
}
