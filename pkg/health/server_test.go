// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/control"
	"github.com/mbeema/rehook/pkg/hook"
)

type fakeCoordinator struct{ snap activation.Snapshot }

func (f fakeCoordinator) Snapshot() activation.Snapshot { return f.snap }

type fakeGate struct{ stats control.GateStats }

func (f fakeGate) Stats() control.GateStats { return f.stats }

type fakeExport struct{}

func (fakeExport) Exported() int64 { return 12 }
func (fakeExport) DropCount() int64 { return 1 }
func (fakeExport) QueueDepth() int  { return 0 }

func testSources() Sources {
	last := activation.Transition{At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	filter := hook.NewCredentialFilter(0, false)
	filter.Before(&hook.Call{Caller: hook.Caller{UID: 1000}})

	table := hook.NewSlotTable(8)
	return Sources{
		Coordinator: fakeCoordinator{snap: activation.Snapshot{
			State:       activation.MinimalActive,
			ActiveSet:   hook.SetMinimal,
			Installed:   1,
			Declared:    1,
			Transitions: 3,
			Conflicts:   2,
			Last:        &last,
		}},
		Gate:    fakeGate{stats: control.GateStats{Requests: 9, Unauthorized: 1}},
		Table:   table,
		Filters: map[string]FilterSource{hook.SetMinimal: filter},
		Export:  fakeExport{},
	}
}

func TestHealthEndpoint(t *testing.T) {
	stats := NewStats(testSources())
	srv := NewServer(":0", "1.0.0-test", stats, zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var hr healthResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if hr.Status != "healthy" {
		t.Errorf("expected status=healthy, got %q", hr.Status)
	}
	if hr.Version != "1.0.0-test" {
		t.Errorf("expected version=1.0.0-test, got %q", hr.Version)
	}
	if hr.State != "minimal_active" {
		t.Errorf("expected state=minimal_active, got %q", hr.State)
	}
}

func TestReadyEndpoint_NotReady(t *testing.T) {
	srv := NewServer(":0", "test", NewStats(Sources{}), zap.NewNop())

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	srv.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestReadyEndpoint_Ready(t *testing.T) {
	srv := NewServer(":0", "test", NewStats(Sources{}), zap.NewNop())
	srv.SetReady(true)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	srv.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(":0", "test", NewStats(testSources()), zap.NewNop())
	srv.SetReady(true)

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, req)

	var got map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["state"] != "minimal_active" {
		t.Errorf("state = %v", got["state"])
	}
	if got["active_set"] != "minimal" {
		t.Errorf("active_set = %v", got["active_set"])
	}
	if got["ready"] != true {
		t.Errorf("ready = %v", got["ready"])
	}
	if got["conflicts"] != float64(2) {
		t.Errorf("conflicts = %v", got["conflicts"])
	}
	if got["last_transition"] != "2026-03-01T00:00:00Z" {
		t.Errorf("last_transition = %v", got["last_transition"])
	}
}

func TestStatusWithoutSources(t *testing.T) {
	snap := NewStats(Sources{}).Snapshot()
	if snap.State != "inactive" {
		t.Errorf("state = %q, want inactive", snap.State)
	}
	if snap.Filters != nil {
		t.Errorf("filters = %v, want nil", snap.Filters)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	stats := NewStats(testSources())
	stats.ConfigReloads.Add(4)

	srv := NewServer(":0", "test", stats, zap.NewNop())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.handleMetrics(w, req)

	body := w.Body.String()
	for _, want := range []string{
		`rehook_hooks_active{set="minimal"} 1`,
		`rehook_hooks_active{set="target"} 0`,
		"rehook_conflicts_total 2",
		"rehook_control_requests_total 9",
		"rehook_control_unauthorized_total 1",
		`rehook_filter_calls_total{set="minimal",caller="unprivileged"} 1`,
		"rehook_audit_exported_total 12",
		"rehook_config_reloads_total 4",
		"# TYPE rehook_uptime_seconds gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestAppendFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-3, "-3"},
		{1.5, "1.5"},
	}
	for _, tt := range tests {
		if got := string(appendFloat(nil, tt.in)); got != tt.want {
			t.Errorf("appendFloat(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestServerStartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "test", NewStats(Sources{}), zap.NewNop())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
