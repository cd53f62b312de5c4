// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package activation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/hook"
)

// Op names a coordinator mutation.
type Op string

const (
	OpEnable  Op = "enable"
	OpDisable Op = "disable"
)

// Actor describes who asked for a transition. It travels in the context.
type Actor struct {
	RequestID string
	PID       int32
	UID       uint32
	Process   string
}

type actorKey struct{}

// WithActor attaches the requesting actor to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or the zero Actor.
func ActorFrom(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// Transition is emitted to observers every time the state changes.
type Transition struct {
	Seq       uint64
	Op        Op
	Set       string
	From      State
	To        State
	Installed int
	Declared  int
	Failed    int
	At        time.Time
	Actor     Actor
}

// Degraded reports an enable that hooked fewer syscalls than declared.
func (t Transition) Degraded() bool {
	return t.Op == OpEnable && t.Installed < t.Declared
}

// Observer receives transitions. Observers run under the transition lock,
// in registration order, and must not call back into the Coordinator's
// mutating methods.
type Observer func(Transition)

// Result is what Enable and Disable report to the caller.
type Result struct {
	Set       string
	State     State
	Changed   bool
	Installed int
	Declared  int
}

// Degraded reports whether the set is active with fewer syscalls hooked than
// it declares.
func (r Result) Degraded() bool {
	return r.State.Set() == r.Set && r.Installed < r.Declared
}

// Snapshot is a point-in-time view for status and health reporting.
type Snapshot struct {
	State       State
	ActiveSet   string
	Installed   int
	Declared    int
	Transitions uint64
	Conflicts   int64
	Last        *Transition
}

// Coordinator is the mutual-exclusion state machine over the minimal and
// target hook sets. At most one set is active; enabling the other is
// rejected with a ConflictError.
type Coordinator struct {
	cell      *StateCell
	installer *hook.Installer
	sets      map[string]*hook.SetDescriptor
	logger    *zap.Logger

	obsMu     sync.RWMutex
	observers []Observer

	seq       atomic.Uint64
	conflicts atomic.Int64
	closed    atomic.Bool
	last      atomic.Pointer[Transition]

	now func() time.Time
}

// NewCoordinator binds the two hook sets to an installer. The cell is
// injected so tests and the daemon own its lifetime.
func NewCoordinator(cell *StateCell, installer *hook.Installer, minimal, target *hook.SetDescriptor, logger *zap.Logger) (*Coordinator, error) {
	if cell == nil {
		cell = NewStateCell()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if installer == nil {
		return nil, fmt.Errorf("coordinator: installer is required")
	}
	sets := make(map[string]*hook.SetDescriptor, 2)
	for want, s := range map[string]*hook.SetDescriptor{hook.SetMinimal: minimal, hook.SetTarget: target} {
		if s == nil {
			return nil, fmt.Errorf("coordinator: %w: %s set missing", ErrUnknownSet, want)
		}
		if s.Name != want {
			return nil, fmt.Errorf("coordinator: %s set is named %q", want, s.Name)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}
		sets[want] = s
	}
	return &Coordinator{
		cell:      cell,
		installer: installer,
		sets:      sets,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// OnTransition registers an observer.
func (c *Coordinator) OnTransition(fn Observer) {
	c.obsMu.Lock()
	c.observers = append(c.observers, fn)
	c.obsMu.Unlock()
}

func (c *Coordinator) set(name string) (*hook.SetDescriptor, State, error) {
	want, err := ActiveFor(name)
	if err != nil {
		return nil, Inactive, err
	}
	return c.sets[name], want, nil
}

// Enable activates the named set. Enabling the active set is a no-op
// success; enabling while the other set is active returns a ConflictError.
// If no syscall of the set can be hooked the state stays Inactive and
// ErrInstallFailed is returned.
func (c *Coordinator) Enable(ctx context.Context, name string) (Result, error) {
	desc, want, err := c.set(name)
	if err != nil {
		return Result{Set: name, State: c.State()}, err
	}
	res := Result{Set: name, Declared: desc.Size()}
	var outcome hook.InstallOutcome

	from, to, err := c.cell.Transact(func(cur State) (State, error) {
		switch cur {
		case want:
			res.Installed = len(c.installer.Records(desc))
			return cur, nil
		case Inactive:
			if c.closed.Load() {
				return cur, ErrClosed
			}
			outcome = c.installer.Install(desc)
			res.Installed = outcome.Installed
			if outcome.Installed == 0 {
				return cur, fmt.Errorf("%s: %w", name, ErrInstallFailed)
			}
			return want, nil
		default:
			c.conflicts.Add(1)
			return cur, &ConflictError{Requested: name, Active: cur.Set()}
		}
	}, func(from, to State) {
		if from == to {
			return
		}
		c.emit(ctx, Transition{
			Op:        OpEnable,
			Set:       name,
			From:      from,
			To:        to,
			Installed: outcome.Installed,
			Declared:  outcome.Declared,
			Failed:    outcome.Failed,
		})
	})
	res.State = to
	res.Changed = from != to

	switch {
	case err != nil:
		c.logger.Warn("enable rejected", zap.String("set", name), zap.Stringer("state", from), zap.Error(err))
	case !res.Changed:
		c.logger.Debug("hook set already enabled", zap.String("set", name))
	case res.Degraded():
		c.logger.Warn("hook set enabled degraded",
			zap.String("set", name),
			zap.Int("installed", res.Installed),
			zap.Int("declared", res.Declared),
		)
	default:
		c.logger.Info("hook set enabled", zap.String("set", name), zap.Int("installed", res.Installed))
	}
	return res, err
}

// Disable deactivates the named set. Disabling a set that is not active is
// a no-op success. Once uninstall runs the state is Inactive whatever the
// per-syscall outcome was.
func (c *Coordinator) Disable(ctx context.Context, name string) (Result, error) {
	desc, want, err := c.set(name)
	if err != nil {
		return Result{Set: name, State: c.State()}, err
	}
	res := Result{Set: name, Declared: desc.Size()}
	var outcome hook.UninstallOutcome

	from, to, err := c.cell.Transact(func(cur State) (State, error) {
		if cur != want {
			return cur, nil
		}
		outcome = c.installer.Uninstall(desc)
		return Inactive, nil
	}, func(from, to State) {
		if from == to {
			return
		}
		c.emit(ctx, Transition{
			Op:        OpDisable,
			Set:       name,
			From:      from,
			To:        to,
			Installed: len(c.installer.Records(desc)),
			Declared:  outcome.Declared,
			Failed:    outcome.Failed,
		})
	})
	res.State = to
	res.Changed = from != to
	res.Installed = len(c.installer.Records(desc))

	switch {
	case err != nil:
		c.logger.Warn("disable failed", zap.String("set", name), zap.Error(err))
	case !res.Changed:
		c.logger.Debug("hook set already disabled", zap.String("set", name))
	case outcome.Failed > 0:
		c.logger.Warn("hook set disabled with unhook failures",
			zap.String("set", name),
			zap.Int("removed", outcome.Removed),
			zap.Int("failed", outcome.Failed),
		)
	default:
		c.logger.Info("hook set disabled", zap.String("set", name), zap.Int("removed", outcome.Removed))
	}
	return res, err
}

// Status reports whether the named set is active.
func (c *Coordinator) Status(name string) (bool, error) {
	want, err := ActiveFor(name)
	if err != nil {
		return false, err
	}
	return c.State() == want, nil
}

// State returns the current activation state.
func (c *Coordinator) State() State {
	return c.cell.Load()
}

// Snapshot returns the current state with counters. It takes the
// transition lock briefly to read installer records consistently.
func (c *Coordinator) Snapshot() Snapshot {
	var snap Snapshot
	c.cell.Transact(func(cur State) (State, error) {
		snap.State = cur
		snap.ActiveSet = cur.Set()
		if desc, ok := c.sets[snap.ActiveSet]; ok {
			snap.Installed = len(c.installer.Records(desc))
			snap.Declared = desc.Size()
		}
		return cur, nil
	}, nil)
	snap.Transitions = c.seq.Load()
	snap.Conflicts = c.conflicts.Load()
	if last := c.last.Load(); last != nil {
		t := *last
		snap.Last = &t
	}
	return snap
}

// Sets returns the set descriptors by name.
func (c *Coordinator) Sets() map[string]*hook.SetDescriptor {
	out := make(map[string]*hook.SetDescriptor, len(c.sets))
	for k, v := range c.sets {
		out[k] = v
	}
	return out
}

// Close disables the active set and refuses further enables.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closed.Store(true)
	if set := c.State().Set(); set != "" {
		if _, err := c.Disable(ctx, set); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) emit(ctx context.Context, t Transition) {
	t.Seq = c.seq.Add(1)
	t.At = c.now()
	t.Actor = ActorFrom(ctx)
	c.last.Store(&t)

	c.obsMu.RLock()
	observers := c.observers
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(t)
	}
}
