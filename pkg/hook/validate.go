// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

// IsHookable reports whether slot nr of table holds an entry point that a
// filter can be placed in front of.
func IsHookable(table Table, nr int) bool {
	if table == nil {
		return false
	}
	if nr < 0 || nr >= table.Len() {
		return false
	}
	return table.Get(nr) != nil
}
