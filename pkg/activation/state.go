// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package activation

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbeema/rehook/pkg/hook"
)

// State is the process-wide activation state.
type State uint32

const (
	Inactive State = iota
	MinimalActive
	TargetActive
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case MinimalActive:
		return "minimal_active"
	case TargetActive:
		return "target_active"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(s))
	}
}

// Set returns the name of the active hook set, or "" when inactive.
func (s State) Set() string {
	switch s {
	case MinimalActive:
		return hook.SetMinimal
	case TargetActive:
		return hook.SetTarget
	default:
		return ""
	}
}

// ActiveFor returns the state in which the named set is active.
func ActiveFor(set string) (State, error) {
	switch set {
	case hook.SetMinimal:
		return MinimalActive, nil
	case hook.SetTarget:
		return TargetActive, nil
	default:
		return Inactive, fmt.Errorf("%w: %q", ErrUnknownSet, set)
	}
}

var allowedTransitions = map[State]map[State]bool{
	Inactive: {
		Inactive:      true,
		MinimalActive: true,
		TargetActive:  true,
	},
	MinimalActive: {
		MinimalActive: true,
		Inactive:      true,
	},
	TargetActive: {
		TargetActive: true,
		Inactive:     true,
	},
}

func validateTransition(from, to State) error {
	allowed := allowedTransitions[from]
	if len(allowed) == 0 || !allowed[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// StateCell owns the activation state. Transitions are serialized by a
// mutex; reads are lock-free so status never waits behind an install.
type StateCell struct {
	mu sync.Mutex
	v  atomic.Uint32
}

// NewStateCell returns a cell holding Inactive.
func NewStateCell() *StateCell {
	return &StateCell{}
}

// Load returns the current state without locking.
func (c *StateCell) Load() State {
	return State(c.v.Load())
}

// Transact runs fn with the transition lock held. fn receives the current
// state and returns the next one; the store happens only when fn returns a
// nil error and the transition is legal. If commit is non-nil it runs after
// the store, still under the lock.
func (c *StateCell) Transact(fn func(cur State) (State, error), commit func(from, to State)) (from, to State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from = c.Load()
	to, err = fn(from)
	if err != nil {
		return from, from, err
	}
	if err := validateTransition(from, to); err != nil {
		return from, from, err
	}
	c.v.Store(uint32(to))
	if commit != nil {
		commit(from, to)
	}
	return from, to, nil
}
