// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package activation

import (
	"errors"
	"fmt"
)

var (
	ErrConflict          = errors.New("another hook set is active")
	ErrInstallFailed     = errors.New("no syscall in the hook set could be hooked")
	ErrUnknownSet        = errors.New("unknown hook set")
	ErrInvalidTransition = errors.New("invalid activation transition")
	ErrClosed            = errors.New("coordinator closed")
	ErrBadStateFile      = errors.New("state file holds an unknown state")
)

// ConflictError is returned when a set is enabled while the other set is
// active. It matches ErrConflict under errors.Is.
type ConflictError struct {
	Requested string
	Active    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot enable %s hooks: %s hooks are currently enabled", e.Requested, e.Active)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
