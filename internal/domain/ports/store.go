// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/pvrd/internal/domain/model"
)

// ErrNotFound is returned for unknown recording ids.
var ErrNotFound = errors.New("not found")

// ProgramStore is the program table of the data store.
type ProgramStore interface {
	// ProgramsForChannel returns programs of channelID that end after from
	// and start before to, ordered by start.
	ProgramsForChannel(ctx context.Context, channelID int64, from, to time.Time) ([]model.Program, error)
	// ApplyProgramBatch commits ops atomically. A failure is reported as a
	// *model.BatchError and leaves the store unchanged.
	ApplyProgramBatch(ctx context.Context, ops []model.ProgramOp) error
}

// ChannelStore is the channel snapshot written by the channel scan.
type ChannelStore interface {
	Channels(ctx context.Context) ([]model.Channel, error)
	ReplaceChannels(ctx context.Context, channels []model.Channel) error
}

// RecordingStore is the recording table of the data store.
type RecordingStore interface {
	Recordings(ctx context.Context) ([]model.Recording, error)
	Recording(ctx context.Context, id int64) (model.Recording, error)
	// AddRecording stores r with a new id and state NOT_STARTED when unset.
	AddRecording(ctx context.Context, r model.Recording) (model.Recording, error)
	// UpdateRecording rejects illegal state transitions with model.ErrIllegalTransition.
	UpdateRecording(ctx context.Context, r model.Recording) error
	DeleteRecording(ctx context.Context, id int64) error
	// NextScheduledStartAfter returns the earliest NOT_STARTED start at or after t.
	NextScheduledStartAfter(ctx context.Context, t time.Time) (time.Time, bool, error)
	// RecordingsOverlapping returns recordings intersecting [from, to).
	RecordingsOverlapping(ctx context.Context, from, to time.Time) ([]model.Recording, error)
}

// DataStore bundles the tables the core reads and writes.
type DataStore interface {
	ProgramStore
	ChannelStore
	RecordingStore
}

// RecordingListener observes recording changes made through a store.
// Callbacks run synchronously after the change is committed.
type RecordingListener interface {
	OnRecordingAdded(r model.Recording)
	OnRecordingRemoved(r model.Recording)
	OnRecordingChanged(r model.Recording)
}
