// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateTransition(t *testing.T) {
	require.NoError(t, validateTransition(Inactive, MinimalActive))
	require.NoError(t, validateTransition(Inactive, TargetActive))
	require.NoError(t, validateTransition(MinimalActive, Inactive))
	require.NoError(t, validateTransition(TargetActive, TargetActive))
	require.ErrorIs(t, validateTransition(MinimalActive, TargetActive), ErrInvalidTransition)
	require.ErrorIs(t, validateTransition(TargetActive, MinimalActive), ErrInvalidTransition)
	require.ErrorIs(t, validateTransition(State(9), Inactive), ErrInvalidTransition)
}

func TestStateCellTransact(t *testing.T) {
	c := NewStateCell()
	assert.Equal(t, Inactive, c.Load())

	committed := false
	from, to, err := c.Transact(func(cur State) (State, error) {
		return MinimalActive, nil
	}, func(from, to State) {
		committed = true
		assert.Equal(t, MinimalActive, c.Load())
	})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, Inactive, from)
	assert.Equal(t, MinimalActive, to)

	// An illegal transition is not stored.
	_, _, err = c.Transact(func(State) (State, error) { return TargetActive, nil }, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, MinimalActive, c.Load())

	// An error from fn is not stored and commit does not run.
	boom := errors.New("boom")
	_, to, err = c.Transact(func(State) (State, error) { return Inactive, boom }, func(State, State) {
		t.Error("commit ran after error")
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, MinimalActive, to)
	assert.Equal(t, MinimalActive, c.Load())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "inactive", Inactive.String())
	assert.Equal(t, "minimal_active", MinimalActive.String())
	assert.Equal(t, "target_active", TargetActive.String())
	assert.Equal(t, "unknown(7)", State(7).String())
	assert.Equal(t, "minimal", MinimalActive.Set())
	assert.Equal(t, "", Inactive.Set())
}

func TestStateFile(t *testing.T) {
	dir := t.TempDir()
	sf, err := CreateStateFile(dir, zap.NewNop())
	require.NoError(t, err)
	defer sf.Close()

	st, err := ReadStateFile(dir)
	require.NoError(t, err)
	assert.Equal(t, Inactive, st)

	sf.Observe(Transition{To: TargetActive})
	st, err = ReadStateFile(dir)
	require.NoError(t, err)
	assert.Equal(t, TargetActive, st)

	info, err := os.Stat(sf.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(stateFileSize), info.Size())

	require.NoError(t, sf.Close())
	assert.ErrorIs(t, sf.Write(MinimalActive), os.ErrClosed)

	sf.Remove()
	_, err = ReadStateFile(dir)
	assert.Error(t, err)
}

func TestReadStateFileRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte{0x7f}, 0644))

	_, err := ReadStateFile(dir)
	assert.ErrorIs(t, err, ErrBadStateFile)
}

func TestStateFileTracksCoordinator(t *testing.T) {
	f := newFixture(t, nil, nil)
	dir := t.TempDir()
	sf, err := CreateStateFile(dir, zap.NewNop())
	require.NoError(t, err)
	defer sf.Close()
	f.coord.OnTransition(sf.Observe)

	_, err = f.coord.Enable(context.Background(), "minimal")
	require.NoError(t, err)
	st, err := ReadStateFile(dir)
	require.NoError(t, err)
	assert.Equal(t, MinimalActive, st)
}
