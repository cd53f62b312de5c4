// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package activation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const (
	stateFileName = "state"
	stateFileSize = 4096
)

// StateFile mirrors the activation state into a one-page file so other
// processes can read it without going through the control socket:
//   - 0 = inactive
//   - 1 = minimal set active
//   - 2 = target set active
//
// The daemon is the only writer. The file is informational; the
// Coordinator's StateCell stays the source of truth.
type StateFile struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
}

// CreateStateFile creates (or truncates) the state file in dir, initialized
// to inactive.
func CreateStateFile(dir string, logger *zap.Logger) (*StateFile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(dir, stateFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("create state file: %w", err)
	}

	if err := f.Truncate(stateFileSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate state file: %w", err)
	}

	if _, err := f.WriteAt([]byte{byte(Inactive)}, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("init state file: %w", err)
	}

	return &StateFile{path: path, file: f, logger: logger}, nil
}

// ReadStateFile reads the state mirrored in dir without keeping the file open.
func ReadStateFile(dir string) (State, error) {
	path := filepath.Join(dir, stateFileName)
	f, err := os.Open(path)
	if err != nil {
		return Inactive, fmt.Errorf("open state file %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Inactive, fmt.Errorf("read state file: %w", err)
	}
	s := State(buf[0])
	if _, ok := allowedTransitions[s]; !ok {
		return Inactive, fmt.Errorf("%w: %d", ErrBadStateFile, buf[0])
	}
	return s, nil
}

// Write stores s.
func (f *StateFile) Write(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return os.ErrClosed
	}
	_, err := f.file.WriteAt([]byte{byte(s)}, 0)
	return err
}

// Observe is a transition observer that keeps the file in step.
func (f *StateFile) Observe(t Transition) {
	if err := f.Write(t.To); err != nil {
		f.logger.Warn("failed to update state file", zap.String("path", f.path), zap.Error(err))
	}
}

// Close closes the file handle. It does not remove the file.
func (f *StateFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

// Remove removes the state file from disk.
func (f *StateFile) Remove() {
	os.Remove(f.path)
}

// Path returns the state file path.
func (f *StateFile) Path() string {
	return f.path
}
