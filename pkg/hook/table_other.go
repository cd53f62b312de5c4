// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux || !(amd64 || arm64)

package hook

import "go.uber.org/zap"

// NativeTableSize is zero where no native table is available.
const NativeTableSize = 0

// NativeSyscalls is empty on unsupported platforms.
var NativeSyscalls = map[string]int{}

// NewNativeTable returns an empty table: every hook set installs zero
// syscalls and activation reports a total install failure.
func NewNativeTable(logger *zap.Logger) (*SlotTable, error) {
	logger.Warn("no native syscall table for this platform")
	return NewSlotTable(0), nil
}
