// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/hook"
)

// Command is a parsed control operation.
type Command string

const (
	CmdEnable  Command = "enable"
	CmdDisable Command = "disable"
	CmdStatus  Command = "status"
)

// Coordinator is the part of activation.Coordinator the gate drives.
type Coordinator interface {
	Enable(ctx context.Context, set string) (activation.Result, error)
	Disable(ctx context.Context, set string) (activation.Result, error)
	Status(set string) (bool, error)
}

// GateStats counts requests seen by the gate.
type GateStats struct {
	Requests     int64
	Unauthorized int64
	Invalid      int64
	Failed       int64
}

// Gate authenticates requests with a shared token, validates their shape
// and maps them onto Coordinator calls.
type Gate struct {
	coord  Coordinator
	token  atomic.Pointer[[]byte]
	logger *zap.Logger

	requests     atomic.Int64
	unauthorized atomic.Int64
	invalid      atomic.Int64
	failed       atomic.Int64
}

// NewGate creates a gate. An empty token rejects every request.
func NewGate(coord Coordinator, token string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{coord: coord, logger: logger}
	g.SetToken(token)
	return g
}

// SetToken replaces the shared token. Requests already past authentication
// are unaffected.
func (g *Gate) SetToken(token string) {
	b := []byte(token)
	g.token.Store(&b)
}

// Authenticate checks tok against the configured token in constant time.
func (g *Gate) Authenticate(tok string) error {
	want := *g.token.Load()
	if len(want) == 0 {
		return ErrNoToken
	}
	if subtle.ConstantTimeCompare(want, []byte(tok)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Parse validates a request and returns the command and set it names.
// "set" takes exactly one argument, "0" or "1"; "status" takes none.
func Parse(req *Request) (Command, string, error) {
	if req.Set != hook.SetMinimal && req.Set != hook.SetTarget {
		return "", "", fmt.Errorf("%w: unknown hook set %q", ErrInvalidArgument, req.Set)
	}
	switch req.Op {
	case OpSet:
		if len(req.Args) != 1 {
			return "", "", fmt.Errorf("%w: %s takes exactly one argument, got %d", ErrInvalidArgument, req.Op, len(req.Args))
		}
		switch req.Args[0] {
		case "1":
			return CmdEnable, req.Set, nil
		case "0":
			return CmdDisable, req.Set, nil
		default:
			return "", "", fmt.Errorf("%w: enable value must be 0 or 1, got %q", ErrInvalidArgument, req.Args[0])
		}
	case OpStatus:
		if len(req.Args) != 0 {
			return "", "", fmt.Errorf("%w: %s takes no arguments", ErrInvalidArgument, req.Op)
		}
		return CmdStatus, req.Set, nil
	default:
		return "", "", fmt.Errorf("%w: unknown operation %q", ErrInvalidArgument, req.Op)
	}
}

// Handle authenticates, parses and executes req. It never returns nil.
func (g *Gate) Handle(ctx context.Context, req *Request) *Response {
	g.requests.Add(1)
	resp := &Response{ID: req.ID}

	if err := g.Authenticate(req.Token); err != nil {
		g.unauthorized.Add(1)
		g.logger.Warn("control request rejected",
			zap.String("id", req.ID),
			zap.Any("actor", activation.ActorFrom(ctx)),
			zap.Error(err),
		)
		return g.fail(resp, err)
	}

	cmd, set, err := Parse(req)
	if err != nil {
		g.invalid.Add(1)
		g.logger.Debug("malformed control request", zap.String("id", req.ID), zap.Error(err))
		return g.fail(resp, err)
	}

	g.logger.Debug("control request",
		zap.String("id", req.ID),
		zap.String("command", string(cmd)),
		zap.String("set", set),
	)

	switch cmd {
	case CmdStatus:
		on, err := g.coord.Status(set)
		if err != nil {
			g.failed.Add(1)
			return g.fail(resp, err)
		}
		resp.Value = on
		resp.Message = fmt.Sprintf("%s syscall hooks: %s", title(set), onOff(on))
		return resp

	case CmdEnable:
		res, err := g.coord.Enable(ctx, set)
		fill(resp, res)
		if err != nil {
			g.failed.Add(1)
			g.fail(resp, err)
			var ce *activation.ConflictError
			if errors.As(err, &ce) {
				resp.Active = ce.Active
				resp.Message = fmt.Sprintf("Cannot enable %s hooks: %s hooks are currently enabled", set, ce.Active)
			}
			return resp
		}
		switch {
		case !res.Changed:
			resp.Message = fmt.Sprintf("%s syscall hooks already enabled", title(set))
		case res.Degraded():
			resp.Message = fmt.Sprintf("%s syscall hooks enabled (degraded: %d/%d syscalls hooked)", title(set), res.Installed, res.Declared)
		default:
			resp.Message = fmt.Sprintf("%s syscall hooks enabled", title(set))
		}
		return resp

	default:
		res, err := g.coord.Disable(ctx, set)
		fill(resp, res)
		if err != nil {
			g.failed.Add(1)
			return g.fail(resp, err)
		}
		if res.Changed {
			resp.Message = fmt.Sprintf("%s syscall hooks disabled", title(set))
		} else {
			resp.Message = fmt.Sprintf("%s syscall hooks already disabled", title(set))
		}
		return resp
	}
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Requests:     g.requests.Load(),
		Unauthorized: g.unauthorized.Load(),
		Invalid:      g.invalid.Load(),
		Failed:       g.failed.Load(),
	}
}

func (g *Gate) fail(resp *Response, err error) *Response {
	resp.Code = Code(err)
	resp.Message = err.Error()
	return resp
}

func fill(resp *Response, res activation.Result) {
	resp.Value = res.State.Set() == res.Set
	resp.Changed = res.Changed
	resp.Installed = res.Installed
	resp.Declared = res.Declared
}

func title(set string) string {
	if set == "" {
		return set
	}
	return strings.ToUpper(set[:1]) + set[1:]
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
