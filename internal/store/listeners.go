// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store holds helpers shared by the data store implementations.
package store

import (
	"sync"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
)

// Listeners fans recording events out to registered listeners.
type Listeners struct {
	mu  sync.RWMutex
	set []ports.RecordingListener
}

// Add registers l.
func (ls *Listeners) Add(l ports.RecordingListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.set = append(ls.set, l)
}

func (ls *Listeners) snapshot() []ports.RecordingListener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return append([]ports.RecordingListener(nil), ls.set...)
}

func (ls *Listeners) Added(r model.Recording) {
	for _, l := range ls.snapshot() {
		l.OnRecordingAdded(r)
	}
}

func (ls *Listeners) Removed(r model.Recording) {
	for _, l := range ls.snapshot() {
		l.OnRecordingRemoved(r)
	}
}

func (ls *Listeners) Changed(r model.Recording) {
	for _, l := range ls.snapshot() {
		l.OnRecordingChanged(r)
	}
}

// NormalizeNew fills the defaults of a recording about to be added.
func NormalizeNew(r model.Recording) model.Recording {
	if r.State == "" {
		r.State = model.RecordingNotStarted
	}
	if r.Type == "" {
		r.Type = model.RecordingTimed
		if len(r.ProgramIDs) > 0 {
			r.Type = model.RecordingProgram
		}
	}
	if r.ChannelID == 0 {
		r.ChannelID = r.Channel.ID
	}
	r.Start = r.Start.UTC()
	r.End = r.End.UTC()
	return r
}
