// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"strings"
)

// Names of the two hook sets the daemon defines.
const (
	SetMinimal = "minimal"
	SetTarget  = "target"
)

// SetDescriptor is a named, ordered group of syscall numbers sharing one
// pre-call filter. It is activated and deactivated as a unit and must not be
// mutated after construction.
type SetDescriptor struct {
	Name     string
	Syscalls []int
	Filter   Filter
	Arity    int
}

// NewSet builds a descriptor and validates it.
func NewSet(name string, syscalls []int, filter Filter, arity int) (*SetDescriptor, error) {
	s := &SetDescriptor{
		Name:     name,
		Syscalls: append([]int(nil), syscalls...),
		Filter:   filter,
		Arity:    arity,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the descriptor's shape. It does not consult any table:
// numbers absent from the running table are skipped at install time.
func (s *SetDescriptor) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrSetName
	}
	if len(s.Syscalls) == 0 {
		return fmt.Errorf("%s: %w", s.Name, ErrSetEmpty)
	}
	if s.Filter == nil {
		return fmt.Errorf("%s: %w", s.Name, ErrNilFilter)
	}
	if s.Arity < 0 || s.Arity > MaxArgs {
		return fmt.Errorf("%s: %w", s.Name, ErrBadArity)
	}
	seen := make(map[int]bool, len(s.Syscalls))
	for _, nr := range s.Syscalls {
		if seen[nr] {
			return fmt.Errorf("%s: %w: %d", s.Name, ErrSetDuplicate, nr)
		}
		seen[nr] = true
	}
	return nil
}

// Size returns the declared number of syscalls.
func (s *SetDescriptor) Size() int {
	return len(s.Syscalls)
}

// ResolveSyscalls maps syscall names to numbers using the native name index.
// Bare numbers ("140") are accepted as-is.
func ResolveSyscalls(names []string) ([]int, error) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		if nr, ok := NativeSyscalls[name]; ok {
			out = append(out, nr)
			continue
		}
		var nr int
		if _, err := fmt.Sscanf(name, "%d", &nr); err == nil && fmt.Sprint(nr) == name {
			out = append(out, nr)
			continue
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
	}
	return out, nil
}

// SyscallName returns the native name for nr, or "sys_<nr>".
func SyscallName(nr int) string {
	for name, n := range NativeSyscalls {
		if n == nr {
			return name
		}
	}
	return fmt.Sprintf("sys_%d", nr)
}
