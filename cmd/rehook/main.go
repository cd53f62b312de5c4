// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd.SetArgs(aliasArgs(os.Args))
	if err := rootCmd.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// aliasArgs turns an invocation through a rehook_* symlink into the matching
// subcommand, so "rehook_minimal 1" behaves like "rehook minimal 1".
func aliasArgs(argv []string) []string {
	if len(argv) == 0 {
		return nil
	}
	if name, ok := symlinkCommands[filepath.Base(argv[0])]; ok {
		return append([]string{name}, argv[1:]...)
	}
	return argv[1:]
}

var symlinkCommands = map[string]string{
	"rehook_minimal":        "minimal",
	"rehook_target":         "target",
	"rehook_minimal_status": "minimal-status",
	"rehook_target_status":  "target-status",
}
