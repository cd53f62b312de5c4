// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNoToken         = errors.New("no control token configured")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum payload")
	ErrUnexpectedFrame = errors.New("unexpected frame type")
	ErrServerClosed    = errors.New("control server closed")
)
