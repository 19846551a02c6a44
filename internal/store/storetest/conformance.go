// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storetest is a behavioural test suite every data store must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
)

// Store is a data store that can report recording events.
type Store interface {
	ports.DataStore
	AddRecordingListener(l ports.RecordingListener)
}

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) Store

var base = time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)

func at(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

// Run executes the suite against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Channels", func(t *testing.T) { testChannels(t, newStore(t)) })
	t.Run("ProgramBatch", func(t *testing.T) { testProgramBatch(t, newStore(t)) })
	t.Run("ProgramBatchAtomic", func(t *testing.T) { testProgramBatchAtomic(t, newStore(t)) })
	t.Run("ProgramsForChannelRange", func(t *testing.T) { testProgramsRange(t, newStore(t)) })
	t.Run("RecordingLifecycle", func(t *testing.T) { testRecordingLifecycle(t, newStore(t)) })
	t.Run("RecordingQueries", func(t *testing.T) { testRecordingQueries(t, newStore(t)) })
	t.Run("Listeners", func(t *testing.T) { testListeners(t, newStore(t)) })
}

func testChannels(t *testing.T, s Store) {
	ctx := context.Background()
	in := []model.Channel{
		{ID: 2, InputID: "in0", DisplayNumber: "5.1", DisplayName: "Five", PhysicalTuner: true, Browsable: true},
		{ID: 1, InputID: "in0", DisplayNumber: "2", DisplayName: "Two", URI: "tv://2", PhysicalTuner: true},
	}
	require.NoError(t, s.ReplaceChannels(ctx, in))

	got, err := s.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, in[1], got[0])
	assert.Equal(t, in[0], got[1])

	require.NoError(t, s.ReplaceChannels(ctx, in[:1]))
	got, err = s.Channels(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func program(channelID int64, title string, startMin, endMin int) model.Program {
	return model.Program{
		ChannelID:      channelID,
		Title:          title,
		EpisodeTitle:   title + " ep",
		Description:    "about " + title,
		Start:          at(startMin),
		End:            at(endMin),
		Genres:         []string{"MOVIES", "DRAMA"},
		ContentRatings: []string{"TV-PG"},
		ProviderData:   []byte{0x01, 0x02},
	}
}

func testProgramBatch(t *testing.T, s Store) {
	ctx := context.Background()
	ops := []model.ProgramOp{
		model.InsertOp(program(1, "A", 0, 30)),
		model.InsertOp(program(1, "B", 30, 60)),
		model.InsertOp(program(2, "X", 0, 60)),
	}
	require.NoError(t, s.ApplyProgramBatch(ctx, ops))

	got, err := s.ProgramsForChannel(ctx, 1, at(-60), at(600))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Title)
	assert.Equal(t, "B", got[1].Title)
	assert.NotZero(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.True(t, got[0].Equal(program(1, "A", 0, 30)), "round-trips every field")

	upd := program(1, "A", 0, 35)
	upd.Description = "longer"
	require.NoError(t, s.ApplyProgramBatch(ctx, []model.ProgramOp{
		model.UpdateOp(got[0].ID, upd),
		model.DeleteOp(got[1].ID),
	}))

	got2, err := s.ProgramsForChannel(ctx, 1, at(-60), at(600))
	require.NoError(t, err)
	require.Len(t, got2, 1)
	assert.Equal(t, got[0].ID, got2[0].ID, "update keeps the row id")
	assert.Equal(t, "longer", got2[0].Description)
	assert.True(t, got2[0].End.Equal(at(35)))

	assert.NoError(t, s.ApplyProgramBatch(ctx, nil))
}

func testProgramBatchAtomic(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.ApplyProgramBatch(ctx, []model.ProgramOp{model.InsertOp(program(1, "A", 0, 30))}))

	err := s.ApplyProgramBatch(ctx, []model.ProgramOp{
		model.InsertOp(program(1, "B", 30, 60)),
		model.DeleteOp(987654),
	})
	var be *model.BatchError
	require.True(t, errors.As(err, &be), "got %v", err)

	got, err := s.ProgramsForChannel(ctx, 1, at(-60), at(600))
	require.NoError(t, err)
	require.Len(t, got, 1, "failed batch must leave no trace")
	assert.Equal(t, "A", got[0].Title)
}

func testProgramsRange(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.ApplyProgramBatch(ctx, []model.ProgramOp{
		model.InsertOp(program(1, "past", -60, 0)),
		model.InsertOp(program(1, "now", -10, 20)),
		model.InsertOp(program(1, "later", 20, 50)),
		model.InsertOp(program(1, "far", 600, 660)),
	}))

	got, err := s.ProgramsForChannel(ctx, 1, at(0), at(600))
	require.NoError(t, err)
	var titles []string
	for _, p := range got {
		titles = append(titles, p.Title)
	}
	assert.Equal(t, []string{"now", "later"}, titles)
}

func recording(channelID int64, startMin, endMin int) model.Recording {
	return model.Recording{
		ChannelID: channelID,
		Channel:   model.Channel{ID: channelID, InputID: "in0", DisplayNumber: "2"},
		Start:     at(startMin),
		End:       at(endMin),
		Priority:  3,
	}
}

func testRecordingLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	r, err := s.AddRecording(ctx, recording(1, 60, 120))
	require.NoError(t, err)
	assert.NotZero(t, r.ID)
	assert.Equal(t, model.RecordingNotStarted, r.State)
	assert.Equal(t, model.RecordingTimed, r.Type)

	_, err = s.AddRecording(ctx, recording(1, 120, 60))
	assert.ErrorIs(t, err, model.ErrInvalidRecording)

	got, err := s.Recording(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "in0", got.Channel.InputID)
	assert.True(t, got.Start.Equal(r.Start))

	got.State = model.RecordingInProgress
	got.MediaURI = model.MediaURIFor(got)
	require.NoError(t, s.UpdateRecording(ctx, got))

	got.State = model.RecordingNotStarted
	assert.ErrorIs(t, s.UpdateRecording(ctx, got), model.ErrIllegalTransition)

	got.State = model.RecordingFailed
	got.FailureReason = model.StopReasonDisconnected
	require.NoError(t, s.UpdateRecording(ctx, got))

	stored, err := s.Recording(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordingFailed, stored.State)
	assert.Equal(t, model.StopReasonDisconnected, stored.FailureReason)
	assert.Equal(t, got.MediaURI, stored.MediaURI)

	require.NoError(t, s.DeleteRecording(ctx, r.ID))
	_, err = s.Recording(ctx, r.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, s.DeleteRecording(ctx, r.ID), ports.ErrNotFound)
}

func testRecordingQueries(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.AddRecording(ctx, recording(1, 60, 120))
	require.NoError(t, err)
	_, err = s.AddRecording(ctx, recording(2, 30, 90))
	require.NoError(t, err)
	c, err := s.AddRecording(ctx, recording(3, 10, 20))
	require.NoError(t, err)

	c.State = model.RecordingInProgress
	require.NoError(t, s.UpdateRecording(ctx, c))

	next, ok, err := s.NextScheduledStartAfter(ctx, at(0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(at(30)), "in-progress recordings are not scheduled")

	next, ok, err = s.NextScheduledStartAfter(ctx, at(31))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(at(60)))

	_, ok, err = s.NextScheduledStartAfter(ctx, at(61))
	require.NoError(t, err)
	assert.False(t, ok)

	over, err := s.RecordingsOverlapping(ctx, at(90), at(100))
	require.NoError(t, err)
	require.Len(t, over, 1)
	assert.Equal(t, a.ID, over[0].ID)

	all, err := s.Recordings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Start.Equal(at(10)), "ordered by start")
}

type recordingEvents struct {
	mu      sync.Mutex
	added   []int64
	changed []int64
	removed []int64
}

func (r *recordingEvents) OnRecordingAdded(rec model.Recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, rec.ID)
}

func (r *recordingEvents) OnRecordingChanged(rec model.Recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, rec.ID)
}

func (r *recordingEvents) OnRecordingRemoved(rec model.Recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, rec.ID)
}

func testListeners(t *testing.T, s Store) {
	ctx := context.Background()
	ev := &recordingEvents{}
	s.AddRecordingListener(ev)

	r, err := s.AddRecording(ctx, recording(1, 60, 120))
	require.NoError(t, err)
	r.Priority = 1
	require.NoError(t, s.UpdateRecording(ctx, r))
	require.NoError(t, s.DeleteRecording(ctx, r.ID))

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, []int64{r.ID}, ev.added)
	assert.Equal(t, []int64{r.ID}, ev.changed)
	assert.Equal(t, []int64{r.ID}, ev.removed)
}
