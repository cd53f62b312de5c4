// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux && (amd64 || arm64)

package hook

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// NativeTableSize covers every syscall number defined for amd64 and arm64.
const NativeTableSize = 512

// NativeSyscalls is the name index of entry points the native table
// populates. Numbers missing here stay as empty slots.
var NativeSyscalls = map[string]int{
	"read":            unix.SYS_READ,
	"write":           unix.SYS_WRITE,
	"close":           unix.SYS_CLOSE,
	"openat":          unix.SYS_OPENAT,
	"faccessat":       unix.SYS_FACCESSAT,
	"readlinkat":      unix.SYS_READLINKAT,
	"execve":          unix.SYS_EXECVE,
	"kill":            unix.SYS_KILL,
	"tgkill":          unix.SYS_TGKILL,
	"ptrace":          unix.SYS_PTRACE,
	"prctl":           unix.SYS_PRCTL,
	"getpriority":     unix.SYS_GETPRIORITY,
	"setpriority":     unix.SYS_SETPRIORITY,
	"getpid":          unix.SYS_GETPID,
	"getppid":         unix.SYS_GETPPID,
	"gettid":          unix.SYS_GETTID,
	"getuid":          unix.SYS_GETUID,
	"geteuid":         unix.SYS_GETEUID,
	"getgid":          unix.SYS_GETGID,
	"getegid":         unix.SYS_GETEGID,
	"setuid":          unix.SYS_SETUID,
	"setgid":          unix.SYS_SETGID,
	"uname":           unix.SYS_UNAME,
	"sysinfo":         unix.SYS_SYSINFO,
	"setns":           unix.SYS_SETNS,
	"unshare":         unix.SYS_UNSHARE,
	"mount":           unix.SYS_MOUNT,
	"umount2":         unix.SYS_UMOUNT2,
	"memfd_create":    unix.SYS_MEMFD_CREATE,
	"perf_event_open": unix.SYS_PERF_EVENT_OPEN,
	"bpf":             unix.SYS_BPF,
	"init_module":     unix.SYS_INIT_MODULE,
	"finit_module":    unix.SYS_FINIT_MODULE,
	"delete_module":   unix.SYS_DELETE_MODULE,
	"reboot":          unix.SYS_REBOOT,
}

// NewNativeTable builds a table whose populated slots forward to the host
// kernel through unix.Syscall6.
func NewNativeTable(logger *zap.Logger) (*SlotTable, error) {
	t := NewSlotTable(NativeTableSize)
	for name, nr := range NativeSyscalls {
		if err := t.Register(nr, name, passthrough); err != nil {
			return nil, fmt.Errorf("native table: %w", err)
		}
	}
	logger.Debug("native syscall table ready",
		zap.Int("slots", NativeTableSize),
		zap.Int("populated", len(NativeSyscalls)),
	)
	return t, nil
}

func passthrough(call *Call) (uintptr, error) {
	a := call.Args
	r1, _, errno := unix.Syscall6(uintptr(call.Nr), a[0], a[1], a[2], a[3], a[4], a[5])
	if errno != 0 {
		return r1, errno
	}
	return r1, nil
}
