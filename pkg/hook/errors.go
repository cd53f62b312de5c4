// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import "errors"

// Hook primitive errors.
var (
	ErrOutOfRange    = errors.New("syscall number out of table range")
	ErrEmptySlot     = errors.New("syscall slot has no entry point")
	ErrAlreadyHooked = errors.New("syscall already hooked by this filter")
	ErrSlotBusy      = errors.New("syscall hooked by another filter")
	ErrNotHooked     = errors.New("syscall not hooked by this filter")
	ErrNilFilter     = errors.New("filter is required")
	ErrBadArity      = errors.New("arity must be between 0 and 6")
)

// Hook set definition errors.
var (
	ErrSetName        = errors.New("hook set name is required")
	ErrSetEmpty       = errors.New("hook set has no syscalls")
	ErrSetDuplicate   = errors.New("duplicate syscall in hook set")
	ErrUnknownSyscall = errors.New("unknown syscall name")
)
