// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(threshold, reset)
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(5, 30*time.Second)
	if cb.State() != CircuitClosed {
		t.Errorf("expected CircuitClosed, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow() to return true in Closed state")
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected CircuitClosed with 2/3 failures, got %v", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Errorf("expected CircuitOpen after 3 failures, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("expected Allow() to return false in Open state")
	}
	if cb.Trips() != 1 {
		t.Errorf("Trips = %d, want 1", cb.Trips())
	}
}

func TestCircuitBreakerHalfOpenCycle(t *testing.T) {
	cb, clk := newTestBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()

	clk.advance(59 * time.Second)
	if cb.Allow() {
		t.Fatal("expected circuit still open before reset timeout")
	}

	clk.advance(time.Second)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected CircuitHalfOpen after timeout, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow() in HalfOpen state")
	}

	// A failed probe reopens immediately.
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected CircuitOpen after failed probe, got %v", cb.State())
	}

	clk.advance(time.Minute)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("expected CircuitClosed after successful probe, got %v", cb.State())
	}
	if cb.FailureCount() != 0 {
		t.Errorf("expected failure count 0 after success, got %d", cb.FailureCount())
	}
	if cb.Trips() != 2 {
		t.Errorf("Trips = %d, want 2", cb.Trips())
	}
}

func TestCircuitBreakerOnChange(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Second)
	var seen []string
	cb.OnChange(func(from, to CircuitState) {
		seen = append(seen, from.String()+">"+to.String())
	})

	cb.RecordFailure()
	clk.advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()
	cb.RecordSuccess()

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
