// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/control"
	"github.com/mbeema/rehook/pkg/hook"
)

// CoordinatorSource reports activation state.
type CoordinatorSource interface {
	Snapshot() activation.Snapshot
}

// GateSource reports control request counters.
type GateSource interface {
	Stats() control.GateStats
}

// FilterSource reports per-set filter counters.
type FilterSource interface {
	Stats() hook.FilterStats
}

// TableSource reports dispatch counters of the hook table.
type TableSource interface {
	HookedCount() int
	DispatchStats() (dispatched, denied int64)
}

// ExportSource reports audit export counters.
type ExportSource interface {
	Exported() int64
	DropCount() int64
	QueueDepth() int
}

// Sources are the components Stats reads from. Any of them may be nil.
type Sources struct {
	Coordinator CoordinatorSource
	Gate        GateSource
	Table       TableSource
	Filters     map[string]FilterSource
	Export      ExportSource
}

// Stats tracks self-monitoring counters for the daemon.
type Stats struct {
	startTime time.Time
	src       Sources

	ConfigReloads      atomic.Int64
	ConfigReloadErrors atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats(src Sources) *Stats {
	return &Stats{
		startTime: time.Now(),
		src:       src,
	}
}

// Uptime returns daemon uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Goroutines     int     `json:"goroutines"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`

	State          string     `json:"state"`
	ActiveSet      string     `json:"active_set,omitempty"`
	Installed      int        `json:"installed"`
	Declared       int        `json:"declared"`
	Transitions    uint64     `json:"transitions"`
	Conflicts      int64      `json:"conflicts"`
	LastTransition *time.Time `json:"last_transition,omitempty"`

	Requests     int64 `json:"requests"`
	Unauthorized int64 `json:"unauthorized"`
	Invalid      int64 `json:"invalid"`
	Failed       int64 `json:"failed"`

	Hooked     int   `json:"hooked"`
	Dispatched int64 `json:"dispatched"`
	Denied     int64 `json:"denied"`

	Filters map[string]hook.FilterStats `json:"filters,omitempty"`

	EventsExported int64 `json:"events_exported"`
	EventsDropped  int64 `json:"events_dropped"`
	ExportQueue    int   `json:"export_queue"`

	ConfigReloads      int64 `json:"config_reloads"`
	ConfigReloadErrors int64 `json:"config_reload_errors"`
}

// Snapshot returns current stats.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds:      s.Uptime().Seconds(),
		Goroutines:         runtime.NumGoroutine(),
		MemoryRSSBytes:     rssBytes(),
		State:              activation.Inactive.String(),
		ConfigReloads:      s.ConfigReloads.Load(),
		ConfigReloadErrors: s.ConfigReloadErrors.Load(),
	}

	if c := s.src.Coordinator; c != nil {
		cs := c.Snapshot()
		snap.State = cs.State.String()
		snap.ActiveSet = cs.ActiveSet
		snap.Installed = cs.Installed
		snap.Declared = cs.Declared
		snap.Transitions = cs.Transitions
		snap.Conflicts = cs.Conflicts
		if cs.Last != nil {
			at := cs.Last.At
			snap.LastTransition = &at
		}
	}
	if g := s.src.Gate; g != nil {
		gs := g.Stats()
		snap.Requests = gs.Requests
		snap.Unauthorized = gs.Unauthorized
		snap.Invalid = gs.Invalid
		snap.Failed = gs.Failed
	}
	if t := s.src.Table; t != nil {
		snap.Hooked = t.HookedCount()
		snap.Dispatched, snap.Denied = t.DispatchStats()
	}
	if len(s.src.Filters) > 0 {
		snap.Filters = make(map[string]hook.FilterStats, len(s.src.Filters))
		for name, f := range s.src.Filters {
			snap.Filters[name] = f.Stats()
		}
	}
	if e := s.src.Export; e != nil {
		snap.EventsExported = e.Exported()
		snap.EventsDropped = e.DropCount()
		snap.ExportQueue = e.QueueDepth()
	}
	return snap
}

// rssBytes reads the resident set size of this process, falling back to
// the Go runtime's view of memory obtained from the OS.
func rssBytes() uint64 {
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			return mi.RSS
		}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return memStats.Sys
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "rehook_uptime_seconds", "gauge", "Daemon uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "rehook_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "rehook_memory_rss_bytes", "gauge", "Resident memory in bytes", float64(snap.MemoryRSSBytes))

	b = appendHeader(b, "rehook_hooks_active", "gauge", "Whether a hook set is active")
	for _, set := range []string{hook.SetMinimal, hook.SetTarget} {
		v := 0.0
		if snap.ActiveSet == set {
			v = 1
		}
		b = appendSample(b, "rehook_hooks_active", "set", set, v)
	}
	b = appendMetric(b, "rehook_hooks_installed", "gauge", "Syscalls hooked by the active set", float64(snap.Installed))
	b = appendMetric(b, "rehook_hooks_declared", "gauge", "Syscalls declared by the active set", float64(snap.Declared))
	b = appendMetric(b, "rehook_transitions_total", "counter", "Total activation state transitions", float64(snap.Transitions))
	b = appendMetric(b, "rehook_conflicts_total", "counter", "Total enable requests rejected by a conflicting set", float64(snap.Conflicts))

	b = appendMetric(b, "rehook_control_requests_total", "counter", "Total control requests", float64(snap.Requests))
	b = appendMetric(b, "rehook_control_unauthorized_total", "counter", "Total control requests with a bad token", float64(snap.Unauthorized))
	b = appendMetric(b, "rehook_control_invalid_total", "counter", "Total malformed control requests", float64(snap.Invalid))
	b = appendMetric(b, "rehook_control_failed_total", "counter", "Total control requests that failed", float64(snap.Failed))

	b = appendMetric(b, "rehook_table_hooked", "gauge", "Table slots currently hooked", float64(snap.Hooked))
	b = appendMetric(b, "rehook_dispatch_total", "counter", "Total calls dispatched through hooked slots", float64(snap.Dispatched))
	b = appendMetric(b, "rehook_dispatch_denied_total", "counter", "Total calls denied by a filter", float64(snap.Denied))

	if len(snap.Filters) > 0 {
		names := make([]string, 0, len(snap.Filters))
		for name := range snap.Filters {
			names = append(names, name)
		}
		sort.Strings(names)
		b = appendHeader(b, "rehook_filter_calls_total", "counter", "Calls seen by a set filter")
		for _, name := range names {
			fs := snap.Filters[name]
			b = appendSample2(b, "rehook_filter_calls_total", "set", name, "caller", "privileged", float64(fs.Privileged))
			b = appendSample2(b, "rehook_filter_calls_total", "set", name, "caller", "unprivileged", float64(fs.Unprivileged))
		}
		b = appendHeader(b, "rehook_filter_denied_total", "counter", "Calls denied by a set filter")
		for _, name := range names {
			b = appendSample(b, "rehook_filter_denied_total", "set", name, float64(snap.Filters[name].Denied))
		}
	}

	b = appendMetric(b, "rehook_audit_exported_total", "counter", "Total audit events exported", float64(snap.EventsExported))
	b = appendMetric(b, "rehook_audit_dropped_total", "counter", "Total audit events dropped", float64(snap.EventsDropped))
	b = appendMetric(b, "rehook_audit_queue_depth", "gauge", "Audit events waiting for export", float64(snap.ExportQueue))
	b = appendMetric(b, "rehook_config_reloads_total", "counter", "Total configuration reloads applied", float64(snap.ConfigReloads))
	b = appendMetric(b, "rehook_config_reload_errors_total", "counter", "Total configuration reloads rejected", float64(snap.ConfigReloadErrors))
	return string(b)
}

func appendHeader(b []byte, name, typ, help string) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	return b
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = appendHeader(b, name, typ, help)
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendSample(b []byte, name, key, val string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = appendLabel(b, key, val)
	b = append(b, "} "...)
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendSample2(b []byte, name, k1, v1, k2, v2 string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = appendLabel(b, k1, v1)
	b = append(b, ',')
	b = appendLabel(b, k2, v2)
	b = append(b, "} "...)
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendLabel(b []byte, key, val string) []byte {
	b = append(b, key...)
	b = append(b, '=')
	return strconv.AppendQuote(b, val)
}

func appendFloat(b []byte, f float64) []byte {
	if f == float64(int64(f)) {
		return strconv.AppendInt(b, int64(f), 10)
	}
	return strconv.AppendFloat(b, f, 'f', -1, 64)
}
