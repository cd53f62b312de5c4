// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mbeema/rehook/pkg/activation"
	"github.com/mbeema/rehook/pkg/hook"
)

func openTest(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("", nil)
	require.ErrorIs(t, err, ErrPathRequired)
}

func TestRecordAndList(t *testing.T) {
	j := openTest(t, filepath.Join(t.TempDir(), "journal.db"))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(activation.Transition{
		Seq: 1, Op: activation.OpEnable, Set: hook.SetMinimal,
		From: activation.Inactive, To: activation.MinimalActive,
		Installed: 1, Declared: 2, At: at,
		Actor: activation.Actor{RequestID: "req-1", PID: 4242, UID: 1000, Process: "rehook"},
	}))
	require.NoError(t, j.Record(activation.Transition{
		Seq: 2, Op: activation.OpDisable, Set: hook.SetMinimal,
		From: activation.MinimalActive, To: activation.Inactive,
		Declared: 2, At: at.Add(time.Second),
	}))
	require.NoError(t, j.Record(activation.Transition{
		Seq: 3, Op: activation.OpEnable, Set: hook.SetTarget,
		From: activation.Inactive, To: activation.TargetActive,
		Installed: 4, Declared: 4, At: at.Add(2 * time.Second),
	}))

	all, err := j.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].Seq, "newest first")
	assert.Equal(t, j.RunID(), all[0].RunID)

	minimal, err := j.List(context.Background(), ListOptions{Set: hook.SetMinimal})
	require.NoError(t, err)
	require.Len(t, minimal, 2)

	first := minimal[1]
	assert.Equal(t, "enable", first.Op)
	assert.Equal(t, "inactive", first.From)
	assert.Equal(t, "minimal_active", first.To)
	assert.True(t, first.Degraded())
	assert.Equal(t, "req-1", first.RequestID)
	assert.Equal(t, int32(4242), first.ActorPID)
	assert.Equal(t, uint32(1000), first.ActorUID)
	assert.Equal(t, "rehook", first.Process)
	assert.True(t, at.Equal(first.At))

	limited, err := j.List(context.Background(), ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestReopenKeepsHistoryWithNewRunID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	j1.Observe(activation.Transition{Seq: 1, Op: activation.OpEnable, Set: hook.SetTarget, At: time.Now()})
	run1 := j1.RunID()
	require.NoError(t, j1.Close())

	j2 := openTest(t, path)
	assert.NotEqual(t, run1, j2.RunID())

	entries, err := j2.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, run1, entries[0].RunID)
}

func TestMigrationsRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	openTest(t, path)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestObserveWiredToCoordinator(t *testing.T) {
	j := openTest(t, filepath.Join(t.TempDir(), "journal.db"))

	tbl := hook.NewSlotTable(8)
	require.NoError(t, tbl.Register(1, "one", func(*hook.Call) (uintptr, error) { return 0, nil }))
	minimal, err := hook.NewSet(hook.SetMinimal, []int{1}, hook.NewCredentialFilter(0, false), 2)
	require.NoError(t, err)
	target, err := hook.NewSet(hook.SetTarget, []int{1}, hook.NewCredentialFilter(0, false), 2)
	require.NoError(t, err)
	coord, err := activation.NewCoordinator(nil, hook.NewInstaller(tbl, nil), minimal, target, nil)
	require.NoError(t, err)
	coord.OnTransition(j.Observe)

	ctx := context.Background()
	_, err = coord.Enable(ctx, hook.SetMinimal)
	require.NoError(t, err)
	_, err = coord.Enable(ctx, hook.SetTarget)
	require.ErrorIs(t, err, activation.ErrConflict)
	_, err = coord.Disable(ctx, hook.SetMinimal)
	require.NoError(t, err)

	entries, err := j.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2, "conflicts are not transitions")
	assert.Equal(t, "disable", entries[0].Op)
	assert.Equal(t, "enable", entries[1].Op)
}
