// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"

	"go.uber.org/zap"
)

// NrStatus is the per-syscall result of an install or uninstall pass.
type NrStatus string

const (
	NrInstalled NrStatus = "installed"
	NrRemoved   NrStatus = "removed"
	NrAlready   NrStatus = "already"
	NrSkipped   NrStatus = "skipped"
	NrFailed    NrStatus = "failed"
	NrAbsent    NrStatus = "absent"
)

// NrResult reports what happened to one syscall number.
type NrResult struct {
	Nr     int
	Name   string
	Status NrStatus
	Err    error
}

// InstallOutcome summarizes an Install pass. Installed counts every number
// that is hooked once the pass completes, including ones hooked earlier.
type InstallOutcome struct {
	Set       string
	Declared  int
	Installed int
	Skipped   int
	Failed    int
	Results   []NrResult
}

// Degraded reports whether fewer syscalls are hooked than the set declares.
func (o InstallOutcome) Degraded() bool {
	return o.Installed < o.Declared
}

// UninstallOutcome summarizes an Uninstall pass.
type UninstallOutcome struct {
	Set      string
	Declared int
	Removed  int
	Failed   int
	Results  []NrResult
}

// Record tracks one hooked slot for an active set.
type Record struct {
	Nr        int
	Original  *Entry
	Installed bool
}

type setState struct {
	guard   *GuardedFilter
	records map[int]*Record
}

// Installer places a set's filter in front of every valid member of the set
// and removes it again. It is the only component that mutates the table call
// path. Installer is not safe for concurrent use; callers serialize it.
type Installer struct {
	table  Table
	logger *zap.Logger
	sets   map[string]*setState
}

// NewInstaller creates an installer bound to table.
func NewInstaller(table Table, logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{
		table:  table,
		logger: logger,
		sets:   make(map[string]*setState),
	}
}

func (in *Installer) state(set *SetDescriptor) *setState {
	st, ok := in.sets[set.Name]
	if !ok {
		st = &setState{
			guard:   Guard(set.Filter, in.logger.With(zap.String("set", set.Name))),
			records: make(map[int]*Record),
		}
		in.sets[set.Name] = st
	}
	return st
}

// Install hooks every valid syscall of set in declared order. Invalid slots
// and primitive failures are recorded and skipped.
func (in *Installer) Install(set *SetDescriptor) InstallOutcome {
	out := InstallOutcome{Set: set.Name, Declared: set.Size()}
	st := in.state(set)

	in.logger.Info("installing hook set",
		zap.String("set", set.Name),
		zap.Int("syscalls", set.Size()),
	)

	for _, nr := range set.Syscalls {
		res := NrResult{Nr: nr, Name: in.name(nr)}

		if rec, ok := st.records[nr]; ok && rec.Installed {
			res.Status = NrAlready
			out.Installed++
			out.Results = append(out.Results, res)
			continue
		}

		if !IsHookable(in.table, nr) {
			res.Status = NrSkipped
			out.Skipped++
			out.Results = append(out.Results, res)
			in.logger.Debug("skipping invalid syscall", zap.String("set", set.Name), zap.Int("nr", nr))
			continue
		}

		original := in.table.Get(nr)
		err := in.table.TryInstall(nr, st.guard, set.Arity)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyHooked):
			st.records[nr] = &Record{Nr: nr, Original: original, Installed: true}
			res.Status = NrInstalled
			out.Installed++
			in.logger.Debug("hooked syscall", zap.String("set", set.Name), zap.Int("nr", nr), zap.String("name", res.Name))
		default:
			res.Status = NrFailed
			res.Err = err
			out.Failed++
			in.logger.Warn("failed to hook syscall",
				zap.String("set", set.Name),
				zap.Int("nr", nr),
				zap.Error(err),
			)
		}
		out.Results = append(out.Results, res)
	}

	in.logger.Info("hook set installed",
		zap.String("set", set.Name),
		zap.Int("installed", out.Installed),
		zap.Int("declared", out.Declared),
		zap.Int("skipped", out.Skipped),
		zap.Int("failed", out.Failed),
	)
	return out
}

// Uninstall removes the set's filter from every number this installer hooked.
// Numbers never installed are reported absent and are not an error.
func (in *Installer) Uninstall(set *SetDescriptor) UninstallOutcome {
	out := UninstallOutcome{Set: set.Name, Declared: set.Size()}
	st, ok := in.sets[set.Name]

	in.logger.Info("removing hook set", zap.String("set", set.Name))

	for _, nr := range set.Syscalls {
		res := NrResult{Nr: nr, Name: in.name(nr)}

		var rec *Record
		if ok {
			rec = st.records[nr]
		}
		if rec == nil || !rec.Installed {
			res.Status = NrAbsent
			out.Results = append(out.Results, res)
			continue
		}

		err := in.table.TryRemove(nr, st.guard)
		switch {
		case err == nil, errors.Is(err, ErrNotHooked):
			delete(st.records, nr)
			res.Status = NrRemoved
			out.Removed++
			in.logger.Debug("unhooked syscall", zap.String("set", set.Name), zap.Int("nr", nr), zap.String("name", res.Name))
		default:
			res.Status = NrFailed
			res.Err = err
			out.Failed++
			in.logger.Warn("failed to unhook syscall",
				zap.String("set", set.Name),
				zap.Int("nr", nr),
				zap.Error(err),
			)
		}
		out.Results = append(out.Results, res)
	}

	in.logger.Info("hook set removed",
		zap.String("set", set.Name),
		zap.Int("removed", out.Removed),
		zap.Int("failed", out.Failed),
	)
	return out
}

// Records returns a copy of the live records for a set, in declared order.
func (in *Installer) Records(set *SetDescriptor) []Record {
	st, ok := in.sets[set.Name]
	if !ok {
		return nil
	}
	var out []Record
	for _, nr := range set.Syscalls {
		if rec, ok := st.records[nr]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// GuardFor returns the guard wrapping set's filter, creating it if needed.
func (in *Installer) GuardFor(set *SetDescriptor) *GuardedFilter {
	return in.state(set).guard
}

func (in *Installer) name(nr int) string {
	if in.table != nil {
		if e := in.table.Get(nr); e != nil && e.Name != "" {
			return e.Name
		}
	}
	return SyscallName(nr)
}
