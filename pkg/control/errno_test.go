// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/mbeema/rehook/pkg/activation"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{fmt.Errorf("x: %w", ErrInvalidArgument), unix.EINVAL},
		{activation.ErrUnknownSet, unix.EINVAL},
		{&activation.ConflictError{Requested: "minimal", Active: "target"}, unix.EBUSY},
		{ErrUnauthorized, unix.EPERM},
		{ErrNoToken, unix.EPERM},
		{fmt.Errorf("minimal: %w", activation.ErrInstallFailed), unix.ENOENT},
		{activation.ErrClosed, unix.ESHUTDOWN},
		{fmt.Errorf("wrapped: %w", unix.EAGAIN), unix.EAGAIN},
		{errors.New("other"), unix.EIO},
	}
	for _, tt := range tests {
		if got := Errno(tt.err); got != tt.want {
			t.Errorf("Errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if got := Code(ErrInvalidArgument); got != -int32(unix.EINVAL) {
		t.Errorf("Code = %d, want %d", got, -int32(unix.EINVAL))
	}
}

func TestRemoteError(t *testing.T) {
	err := (&Response{Code: -int32(unix.EBUSY), Message: "busy"}).Err()
	if !errors.Is(err, unix.EBUSY) {
		t.Errorf("errors.Is(%v, EBUSY) = false", err)
	}
	if err.Error() != "busy" {
		t.Errorf("Error() = %q, want busy", err.Error())
	}
	if (&Response{}).Err() != nil {
		t.Error("zero code should be nil error")
	}
}
