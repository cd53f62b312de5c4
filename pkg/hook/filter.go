// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Verdict is a pre-call filter decision.
type Verdict struct {
	Deny  bool
	Errno unix.Errno
}

// Allow lets the original entry point run.
var Allow = Verdict{}

// Deny stops the call and returns errno to the caller.
func Deny(errno unix.Errno) Verdict {
	if errno == 0 {
		errno = unix.EPERM
	}
	return Verdict{Deny: true, Errno: errno}
}

// Filter runs immediately before a hooked syscall body. Implementations must
// be comparable (pointer types) because the table identifies hooks by filter.
type Filter interface {
	Before(call *Call) Verdict
}

// FilterStats counts what a CredentialFilter has seen.
type FilterStats struct {
	Privileged   int64
	Unprivileged int64
	Denied       int64
}

// CredentialFilter inspects the caller's uid. In observe mode (the default)
// it only counts callers and always allows; with enforcement on, callers
// other than the privileged uid are denied with EPERM.
type CredentialFilter struct {
	privilegedUID atomic.Uint32
	enforce       atomic.Bool

	privileged   atomic.Int64
	unprivileged atomic.Int64
	denied       atomic.Int64
}

// NewCredentialFilter creates a filter keyed on privilegedUID.
func NewCredentialFilter(privilegedUID uint32, enforce bool) *CredentialFilter {
	f := &CredentialFilter{}
	f.privilegedUID.Store(privilegedUID)
	f.enforce.Store(enforce)
	return f
}

// SetPolicy updates the policy. Safe to call while calls are in flight.
func (f *CredentialFilter) SetPolicy(privilegedUID uint32, enforce bool) {
	f.privilegedUID.Store(privilegedUID)
	f.enforce.Store(enforce)
}

// Enforcing reports whether non-privileged callers are denied.
func (f *CredentialFilter) Enforcing() bool {
	return f.enforce.Load()
}

func (f *CredentialFilter) Before(call *Call) Verdict {
	if call.Caller.UID == f.privilegedUID.Load() {
		f.privileged.Add(1)
		return Allow
	}
	f.unprivileged.Add(1)
	if f.enforce.Load() {
		f.denied.Add(1)
		return Deny(unix.EPERM)
	}
	return Allow
}

// Stats returns a snapshot of the caller counters.
func (f *CredentialFilter) Stats() FilterStats {
	return FilterStats{
		Privileged:   f.privileged.Load(),
		Unprivileged: f.unprivileged.Load(),
		Denied:       f.denied.Load(),
	}
}

// GuardedFilter wraps a filter so a panic inside it degrades to Allow
// instead of unwinding through the syscall path.
type GuardedFilter struct {
	inner  Filter
	logger *zap.Logger
	panics atomic.Int64
}

// Guard wraps f. Each hook set gets exactly one guard so the table can match
// install and remove by identity.
func Guard(f Filter, logger *zap.Logger) *GuardedFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardedFilter{inner: f, logger: logger}
}

func (g *GuardedFilter) Before(call *Call) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			g.panics.Add(1)
			g.logger.Error("pre-call filter panicked, allowing call",
				zap.Int("nr", call.Nr),
				zap.Int32("pid", call.Caller.PID),
				zap.Any("panic", r),
			)
			v = Allow
		}
	}()
	if g.inner == nil {
		return Allow
	}
	return g.inner.Before(call)
}

// Panics returns how many times the wrapped filter panicked.
func (g *GuardedFilter) Panics() int64 {
	return g.panics.Load()
}

// Inner returns the wrapped filter.
func (g *GuardedFilter) Inner() Filter {
	return g.inner
}
