// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package control

import (
	"errors"
	"net"
)

func peerCred(conn *net.UnixConn) (pid int32, uid, gid uint32, err error) {
	return 0, 0, 0, errors.New("peer credentials not supported on this platform")
}
