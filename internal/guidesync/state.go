// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guidesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// State is the sync bookkeeping that survives restarts.
type State struct {
	LineupID   string `json:"lineup_id,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	// GuideTimestamp is the source guide timestamp of the last full commit.
	GuideTimestamp time.Time `json:"guide_timestamp,omitempty"`
	// LastSyncedAt is the local time the last full commit finished.
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}

// StateStore persists State.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// FileState stores State as a JSON document replaced atomically on save.
type FileState struct {
	path string
	mu   sync.Mutex
}

// NewFileState returns a FileState backed by path.
func NewFileState(path string) *FileState {
	return &FileState{path: path}
}

// Load returns the zero State when the file does not exist yet.
func (f *FileState) Load(_ context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s State
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read guide state: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode guide state %s: %w", f.path, err)
	}
	return s, nil
}

func (f *FileState) Save(_ context.Context, s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode guide state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create guide state dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(f.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending guide state: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write guide state: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit guide state: %w", err)
	}
	return nil
}

// MemoryState keeps State in memory.
type MemoryState struct {
	mu sync.Mutex
	s  State
}

func (m *MemoryState) Load(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryState) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
