// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package memory is a concurrency-safe in-memory data store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/store"
)

var _ ports.DataStore = (*Store)(nil)

// Store keeps channels, programs and recordings in memory.
type Store struct {
	mu            sync.RWMutex
	channels      []model.Channel
	programs      map[int64]model.Program
	recordings    map[int64]model.Recording
	nextProgramID int64
	nextRecID     int64

	listeners store.Listeners
}

// New returns an empty store.
func New() *Store {
	return &Store{
		programs:   make(map[int64]model.Program),
		recordings: make(map[int64]model.Recording),
	}
}

// AddRecordingListener registers l for recording events.
func (s *Store) AddRecordingListener(l ports.RecordingListener) {
	s.listeners.Add(l)
}

func (s *Store) Channels(context.Context) ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.channels), nil
}

func (s *Store) ReplaceChannels(_ context.Context, channels []model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = slices.Clone(channels)
	model.SortChannels(s.channels)
	return nil
}

func (s *Store) ProgramsForChannel(_ context.Context, channelID int64, from, to time.Time) ([]model.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Program
	for _, p := range s.programs {
		if p.ChannelID != channelID {
			continue
		}
		if !p.End.After(from) || !p.Start.Before(to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AllPrograms returns every stored program of channelID ordered by start.
func (s *Store) AllPrograms(ctx context.Context, channelID int64) ([]model.Program, error) {
	return s.ProgramsForChannel(ctx, channelID, time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))
}

// ApplyProgramBatch applies ops all-or-nothing.
func (s *Store) ApplyProgramBatch(_ context.Context, ops []model.ProgramOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[int64]model.Program, len(ops))
	deleted := make(map[int64]bool)
	next := s.nextProgramID
	exists := func(id int64) bool {
		if deleted[id] {
			return false
		}
		if _, ok := staged[id]; ok {
			return true
		}
		_, ok := s.programs[id]
		return ok
	}

	for i, op := range ops {
		switch op.Kind {
		case model.OpInsert:
			next++
			p := op.Program
			p.ID = next
			staged[p.ID] = p
		case model.OpUpdate:
			if !exists(op.ID) {
				return &model.BatchError{Err: fmt.Errorf("op %d: update of unknown program %d", i, op.ID)}
			}
			p := op.Program
			p.ID = op.ID
			staged[op.ID] = p
		case model.OpDelete:
			if !exists(op.ID) {
				return &model.BatchError{Err: fmt.Errorf("op %d: delete of unknown program %d", i, op.ID)}
			}
			delete(staged, op.ID)
			deleted[op.ID] = true
		default:
			return &model.BatchError{Err: fmt.Errorf("op %d: unknown kind %q", i, op.Kind)}
		}
	}

	for id := range deleted {
		delete(s.programs, id)
	}
	for id, p := range staged {
		s.programs[id] = p
	}
	s.nextProgramID = next
	return nil
}

func (s *Store) Recordings(context.Context) ([]model.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		out = append(out, cloneRecording(r))
	}
	model.SortByStart(out)
	return out, nil
}

func (s *Store) Recording(_ context.Context, id int64) (model.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recordings[id]
	if !ok {
		return model.Recording{}, fmt.Errorf("recording %d: %w", id, ports.ErrNotFound)
	}
	return cloneRecording(r), nil
}

func (s *Store) AddRecording(_ context.Context, r model.Recording) (model.Recording, error) {
	r = store.NormalizeNew(r)
	if err := r.Validate(); err != nil {
		return model.Recording{}, err
	}

	s.mu.Lock()
	s.nextRecID++
	r.ID = s.nextRecID
	s.recordings[r.ID] = cloneRecording(r)
	s.mu.Unlock()

	s.listeners.Added(r)
	return cloneRecording(r), nil
}

func (s *Store) UpdateRecording(_ context.Context, r model.Recording) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	cur, ok := s.recordings[r.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("recording %d: %w", r.ID, ports.ErrNotFound)
	}
	if cur.State != r.State {
		if err := model.CheckTransition(cur.State, r.State); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("recording %d: %w", r.ID, err)
		}
	}
	r.Start = r.Start.UTC()
	r.End = r.End.UTC()
	s.recordings[r.ID] = cloneRecording(r)
	s.mu.Unlock()

	s.listeners.Changed(r)
	return nil
}

func (s *Store) DeleteRecording(_ context.Context, id int64) error {
	s.mu.Lock()
	r, ok := s.recordings[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("recording %d: %w", id, ports.ErrNotFound)
	}
	delete(s.recordings, id)
	s.mu.Unlock()

	s.listeners.Removed(r)
	return nil
}

func (s *Store) NextScheduledStartAfter(_ context.Context, t time.Time) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best time.Time
	found := false
	for _, r := range s.recordings {
		if r.State != model.RecordingNotStarted || r.Start.Before(t) {
			continue
		}
		if !found || r.Start.Before(best) {
			best = r.Start
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) RecordingsOverlapping(_ context.Context, from, to time.Time) ([]model.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Recording
	for _, r := range s.recordings {
		if r.Start.Before(to) && r.End.After(from) {
			out = append(out, cloneRecording(r))
		}
	}
	model.SortByStart(out)
	return out, nil
}

func cloneRecording(r model.Recording) model.Recording {
	r.ProgramIDs = slices.Clone(r.ProgramIDs)
	return r
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op; the data lives as long as the process.
func (s *Store) Close() error { return nil }
