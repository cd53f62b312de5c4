// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mbeema/rehook/pkg/activation"
)

// Errno maps an error onto the errno reported across the control boundary.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, activation.ErrUnknownSet):
		return unix.EINVAL
	case errors.Is(err, activation.ErrConflict):
		return unix.EBUSY
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoToken):
		return unix.EPERM
	case errors.Is(err, activation.ErrInstallFailed):
		return unix.ENOENT
	case errors.Is(err, activation.ErrClosed), errors.Is(err, ErrServerClosed):
		return unix.ESHUTDOWN
	case errors.As(err, &errno):
		return errno
	default:
		return unix.EIO
	}
}

// Code returns the negated errno for err, or 0 for nil.
func Code(err error) int32 {
	return -int32(Errno(err))
}

// RemoteError is a non-zero result code returned by the daemon. It unwraps
// to the matching unix.Errno.
type RemoteError struct {
	Code    int32
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("control error %d (%s)", e.Code, e.Errno().Error())
}

// Errno returns the positive errno carried by the code.
func (e *RemoteError) Errno() unix.Errno {
	if e.Code < 0 {
		return unix.Errno(-e.Code)
	}
	return unix.Errno(e.Code)
}

func (e *RemoteError) Unwrap() error {
	return e.Errno()
}
