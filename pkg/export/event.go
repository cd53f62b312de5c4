// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbeema/rehook/pkg/activation"
)

// OTEL severity numbers used for audit events.
const (
	SeverityInfo int32 = 9
	SeverityWarn int32 = 13
)

// Event is one audit record derived from an activation transition.
type Event struct {
	Timestamp      time.Time
	Severity       string
	SeverityNumber int32
	Body           string
	Attributes     map[string]interface{}
}

// EventFromTransition builds the audit event for t. Degraded enables are
// reported at WARN.
func EventFromTransition(t activation.Transition) *Event {
	verb := "enabled"
	if t.Op == activation.OpDisable {
		verb = "disabled"
	}
	body := fmt.Sprintf("%s syscall hooks %s", titleCase(t.Set), verb)

	ev := &Event{
		Timestamp:      t.At,
		Severity:       "INFO",
		SeverityNumber: SeverityInfo,
		Body:           body,
		Attributes: map[string]interface{}{
			"rehook.seq":        int64(t.Seq),
			"rehook.op":         string(t.Op),
			"rehook.set":        t.Set,
			"rehook.state.from": t.From.String(),
			"rehook.state.to":   t.To.String(),
			"rehook.installed":  t.Installed,
			"rehook.declared":   t.Declared,
			"rehook.failed":     t.Failed,
		},
	}
	if t.Degraded() {
		ev.Severity = "WARN"
		ev.SeverityNumber = SeverityWarn
		ev.Body = fmt.Sprintf("%s (degraded: %d/%d syscalls hooked)", body, t.Installed, t.Declared)
	}
	if t.Actor.RequestID != "" {
		ev.Attributes["rehook.request_id"] = t.Actor.RequestID
	}
	if t.Actor.PID > 0 {
		ev.Attributes["process.pid"] = int64(t.Actor.PID)
		ev.Attributes["user.id"] = int64(t.Actor.UID)
	}
	if t.Actor.Process != "" {
		ev.Attributes["process.executable.name"] = t.Actor.Process
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
