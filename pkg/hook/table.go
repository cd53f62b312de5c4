// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MaxArgs is the number of argument registers a syscall entry point receives.
const MaxArgs = 6

// Caller identifies the task that issued a syscall.
type Caller struct {
	PID int32
	UID uint32
	GID uint32
}

// Call is one syscall invocation travelling through the table.
type Call struct {
	Nr     int
	Args   [MaxArgs]uintptr
	Caller Caller
}

// EntryFunc is a syscall entry point body.
type EntryFunc func(call *Call) (uintptr, error)

// Entry is the content of one populated table slot.
type Entry struct {
	Nr   int
	Name string
	Fn   EntryFunc
}

// Table is the syscall table abstraction the installer mutates. Slots are
// addressed by syscall number; a nil slot means the number is unimplemented.
type Table interface {
	// Len returns the number of slots defined by the ABI.
	Len() int

	// Get returns the entry currently installed at nr, or nil.
	Get(nr int) *Entry

	// TryInstall places filter in front of the entry at nr. The filter sees
	// the first arity arguments of every call.
	TryInstall(nr int, filter Filter, arity int) error

	// TryRemove removes filter from nr and restores the previous entry.
	TryRemove(nr int, filter Filter) error
}

// trampoline records what a hooked slot replaced.
type trampoline struct {
	original *Entry
	filter   Filter
	arity    int
}

// SlotTable is an in-process syscall dispatch table. It doubles as the hook
// primitive: installing a filter swaps the slot for a trampoline entry that
// runs the filter and then the original body.
type SlotTable struct {
	mu     sync.RWMutex
	slots  []*Entry
	hooked map[int]*trampoline

	dispatched atomic.Int64
	denied     atomic.Int64
}

var _ Table = (*SlotTable)(nil)

// NewSlotTable creates a table with size empty slots.
func NewSlotTable(size int) *SlotTable {
	return &SlotTable{
		slots:  make([]*Entry, size),
		hooked: make(map[int]*trampoline),
	}
}

// Register populates slot nr with an entry point. Registering over a hooked
// slot is refused so a live trampoline never loses its original.
func (t *SlotTable) Register(nr int, name string, fn EntryFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if nr < 0 || nr >= len(t.slots) {
		return fmt.Errorf("register %s(%d): %w", name, nr, ErrOutOfRange)
	}
	if _, ok := t.hooked[nr]; ok {
		return fmt.Errorf("register %s(%d): %w", name, nr, ErrSlotBusy)
	}
	if fn == nil {
		t.slots[nr] = nil
		return nil
	}
	t.slots[nr] = &Entry{Nr: nr, Name: name, Fn: fn}
	return nil
}

func (t *SlotTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.slots)
}

func (t *SlotTable) Get(nr int) *Entry {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if nr < 0 || nr >= len(t.slots) {
		return nil
	}
	return t.slots[nr]
}

// Hooked reports whether nr currently runs through a trampoline.
func (t *SlotTable) Hooked(nr int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.hooked[nr]
	return ok
}

// HookedCount returns the number of slots currently hooked.
func (t *SlotTable) HookedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hooked)
}

func (t *SlotTable) TryInstall(nr int, filter Filter, arity int) error {
	if filter == nil {
		return ErrNilFilter
	}
	if arity < 0 || arity > MaxArgs {
		return ErrBadArity
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if nr < 0 || nr >= len(t.slots) {
		return ErrOutOfRange
	}
	if tr, ok := t.hooked[nr]; ok {
		if tr.filter == filter {
			return ErrAlreadyHooked
		}
		return ErrSlotBusy
	}
	original := t.slots[nr]
	if original == nil {
		return ErrEmptySlot
	}

	tr := &trampoline{original: original, filter: filter, arity: arity}
	t.hooked[nr] = tr
	t.slots[nr] = &Entry{
		Nr:   nr,
		Name: original.Name,
		Fn:   t.trampolineFn(tr),
	}
	return nil
}

func (t *SlotTable) TryRemove(nr int, filter Filter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if nr < 0 || nr >= len(t.slots) {
		return ErrOutOfRange
	}
	tr, ok := t.hooked[nr]
	if !ok || tr.filter != filter {
		return ErrNotHooked
	}
	t.slots[nr] = tr.original
	delete(t.hooked, nr)
	return nil
}

func (t *SlotTable) trampolineFn(tr *trampoline) EntryFunc {
	return func(call *Call) (uintptr, error) {
		view := *call
		for i := tr.arity; i < MaxArgs; i++ {
			view.Args[i] = 0
		}
		if v := tr.filter.Before(&view); v.Deny {
			t.denied.Add(1)
			return 0, v.Errno
		}
		return tr.original.Fn(call)
	}
}

// Dispatch runs call through whatever entry currently occupies its slot.
func (t *SlotTable) Dispatch(call *Call) (uintptr, error) {
	e := t.Get(call.Nr)
	if e == nil || e.Fn == nil {
		return 0, unix.ENOSYS
	}
	t.dispatched.Add(1)
	return e.Fn(call)
}

// DispatchStats returns the total dispatched and filter-denied call counts.
func (t *SlotTable) DispatchStats() (dispatched, denied int64) {
	return t.dispatched.Load(), t.denied.Load()
}
