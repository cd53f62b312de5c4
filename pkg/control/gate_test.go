// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/hook"
)

const testToken = "s3cret"

// countingCoordinator records calls so tests can assert the gate did not
// reach the coordinator.
type countingCoordinator struct {
	Coordinator
	calls int
}

func (c *countingCoordinator) Enable(ctx context.Context, set string) (activation.Result, error) {
	c.calls++
	return c.Coordinator.Enable(ctx, set)
}

func (c *countingCoordinator) Disable(ctx context.Context, set string) (activation.Result, error) {
	c.calls++
	return c.Coordinator.Disable(ctx, set)
}

func (c *countingCoordinator) Status(set string) (bool, error) {
	c.calls++
	return c.Coordinator.Status(set)
}

func newCoordinator(t *testing.T, minimalNrs []int) *activation.Coordinator {
	t.Helper()
	tbl := hook.NewSlotTable(16)
	for nr := 1; nr <= 8; nr++ {
		require.NoError(t, tbl.Register(nr, hook.SyscallName(nr), func(*hook.Call) (uintptr, error) { return 0, nil }))
	}
	minimal, err := hook.NewSet(hook.SetMinimal, minimalNrs, hook.NewCredentialFilter(0, false), 2)
	require.NoError(t, err)
	target, err := hook.NewSet(hook.SetTarget, []int{1, 2, 3}, hook.NewCredentialFilter(0, false), 2)
	require.NoError(t, err)
	coord, err := activation.NewCoordinator(activation.NewStateCell(), hook.NewInstaller(tbl, zap.NewNop()), minimal, target, zap.NewNop())
	require.NoError(t, err)
	return coord
}

func newTestGate(t *testing.T) (*Gate, *countingCoordinator) {
	t.Helper()
	cc := &countingCoordinator{Coordinator: newCoordinator(t, []int{1})}
	return NewGate(cc, testToken, zap.NewNop()), cc
}

func setReq(setName, value string) *Request {
	return &Request{ID: "r", Op: OpSet, Set: setName, Args: []string{value}, Token: testToken}
}

func statusReq(setName string) *Request {
	return &Request{ID: "r", Op: OpStatus, Set: setName, Token: testToken}
}

func TestGateRejectsBadToken(t *testing.T) {
	g, cc := newTestGate(t)

	for _, tok := range []string{"", "wrong", testToken + "x"} {
		req := setReq(hook.SetMinimal, "1")
		req.Token = tok
		resp := g.Handle(context.Background(), req)
		assert.Equal(t, -int32(unix.EPERM), resp.Code, "token %q", tok)
	}
	assert.Zero(t, cc.calls)
	assert.Equal(t, int64(3), g.Stats().Unauthorized)
}

func TestGateEmptyTokenRejectsAll(t *testing.T) {
	g := NewGate(newCoordinator(t, []int{1}), "", zap.NewNop())
	req := statusReq(hook.SetMinimal)
	req.Token = ""
	assert.Equal(t, -int32(unix.EPERM), g.Handle(context.Background(), req).Code)
}

func TestGateTokenRotation(t *testing.T) {
	g, _ := newTestGate(t)
	g.SetToken("new-token")

	assert.Equal(t, -int32(unix.EPERM), g.Handle(context.Background(), statusReq(hook.SetMinimal)).Code)

	req := statusReq(hook.SetMinimal)
	req.Token = "new-token"
	assert.Zero(t, g.Handle(context.Background(), req).Code)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantCmd Command
		wantErr bool
	}{
		{"enable", Request{Op: OpSet, Set: "minimal", Args: []string{"1"}}, CmdEnable, false},
		{"disable", Request{Op: OpSet, Set: "target", Args: []string{"0"}}, CmdDisable, false},
		{"status", Request{Op: OpStatus, Set: "target"}, CmdStatus, false},
		{"value 2", Request{Op: OpSet, Set: "minimal", Args: []string{"2"}}, "", true},
		{"value empty", Request{Op: OpSet, Set: "minimal", Args: []string{""}}, "", true},
		{"value padded", Request{Op: OpSet, Set: "minimal", Args: []string{" 1"}}, "", true},
		{"no args", Request{Op: OpSet, Set: "minimal"}, "", true},
		{"two args", Request{Op: OpSet, Set: "minimal", Args: []string{"1", "1"}}, "", true},
		{"status with arg", Request{Op: OpStatus, Set: "minimal", Args: []string{"1"}}, "", true},
		{"unknown set", Request{Op: OpStatus, Set: "all"}, "", true},
		{"unknown op", Request{Op: "toggle", Set: "minimal"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _, err := Parse(&tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				assert.Equal(t, unix.EINVAL, Errno(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, cmd)
		})
	}
}

func TestGateInvalidArgumentNeverReachesCoordinator(t *testing.T) {
	g, cc := newTestGate(t)

	resp := g.Handle(context.Background(), setReq(hook.SetMinimal, "5"))
	assert.Equal(t, -int32(unix.EINVAL), resp.Code)
	assert.Zero(t, cc.calls)
	assert.Equal(t, int64(1), g.Stats().Invalid)
}

func TestGateEnableDisableMessages(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	resp := g.Handle(ctx, setReq(hook.SetMinimal, "1"))
	require.Zero(t, resp.Code)
	assert.True(t, resp.Value)
	assert.True(t, resp.Changed)
	assert.Equal(t, "Minimal syscall hooks enabled", resp.Message)

	resp = g.Handle(ctx, setReq(hook.SetMinimal, "1"))
	require.Zero(t, resp.Code)
	assert.False(t, resp.Changed)
	assert.Equal(t, "Minimal syscall hooks already enabled", resp.Message)

	resp = g.Handle(ctx, statusReq(hook.SetMinimal))
	assert.True(t, resp.Value)
	assert.Equal(t, "Minimal syscall hooks: enabled", resp.Message)

	resp = g.Handle(ctx, setReq(hook.SetMinimal, "0"))
	require.Zero(t, resp.Code)
	assert.False(t, resp.Value)
	assert.Equal(t, "Minimal syscall hooks disabled", resp.Message)

	resp = g.Handle(ctx, setReq(hook.SetMinimal, "0"))
	require.Zero(t, resp.Code)
	assert.Equal(t, "Minimal syscall hooks already disabled", resp.Message)

	resp = g.Handle(ctx, statusReq(hook.SetTarget))
	assert.False(t, resp.Value)
	assert.Equal(t, "Target syscall hooks: disabled", resp.Message)
}

func TestGateConflict(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.Zero(t, g.Handle(ctx, setReq(hook.SetTarget, "1")).Code)

	resp := g.Handle(ctx, setReq(hook.SetMinimal, "1"))
	assert.Equal(t, -int32(unix.EBUSY), resp.Code)
	assert.Equal(t, hook.SetTarget, resp.Active)
	assert.Equal(t, "Cannot enable minimal hooks: target hooks are currently enabled", resp.Message)
	assert.False(t, resp.Value)
	assert.ErrorIs(t, resp.Err(), unix.EBUSY)
}

func TestGateDegradedAndTotalFailure(t *testing.T) {
	ctx := context.Background()

	g := NewGate(newCoordinator(t, []int{1, 12}), testToken, zap.NewNop())
	resp := g.Handle(ctx, setReq(hook.SetMinimal, "1"))
	require.Zero(t, resp.Code)
	assert.True(t, resp.Degraded())
	assert.Equal(t, "Minimal syscall hooks enabled (degraded: 1/2 syscalls hooked)", resp.Message)

	g = NewGate(newCoordinator(t, []int{12, 13}), testToken, zap.NewNop())
	resp = g.Handle(ctx, setReq(hook.SetMinimal, "1"))
	assert.Equal(t, -int32(unix.ENOENT), resp.Code)
	assert.Equal(t, int64(1), g.Stats().Failed)
}
