package main

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/mbeema/rehook/pkg/control"
)

// exitCodeError is a non-user-facing command error used to preserve the
// control error code as the process exit status after the command has
// already printed its own message.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return ""
}

func (e *exitCodeError) ExitCode() int {
	return e.code
}

func commandExit(code int) error {
	if code == 0 {
		return nil
	}
	return &exitCodeError{code: code}
}

// exitCodeFor returns the errno magnitude carried by err, or 1.
func exitCodeFor(err error) int {
	var remote *control.RemoteError
	if errors.As(err, &remote) {
		if n := int(remote.Errno()); n != 0 {
			return n
		}
	}
	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return int(errno)
	}
	return 1
}
