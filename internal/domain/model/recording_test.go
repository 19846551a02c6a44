// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	allowed := [][2]RecordingState{
		{RecordingNotStarted, RecordingInProgress},
		{RecordingNotStarted, RecordingFailed},
		{RecordingNotStarted, RecordingDeleted},
		{RecordingInProgress, RecordingFinished},
		{RecordingInProgress, RecordingFailed},
		{RecordingFinished, RecordingDeleted},
		{RecordingFailed, RecordingDeleted},
	}
	for _, tr := range allowed {
		assert.NoError(t, CheckTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	forbidden := [][2]RecordingState{
		{RecordingInProgress, RecordingNotStarted},
		{RecordingFinished, RecordingInProgress},
		{RecordingFailed, RecordingNotStarted},
		{RecordingDeleted, RecordingNotStarted},
		{RecordingNotStarted, RecordingNotStarted},
		{RecordingNotStarted, RecordingFinished},
	}
	for _, tr := range forbidden {
		err := CheckTransition(tr[0], tr[1])
		assert.True(t, errors.Is(err, ErrIllegalTransition), "%s -> %s", tr[0], tr[1])
	}
}

func TestRecordingValidate(t *testing.T) {
	r := Recording{ID: 1, Start: t0, End: t0.Add(time.Hour), State: RecordingNotStarted, Type: RecordingTimed}
	require.NoError(t, r.Validate())

	r.End = r.Start
	assert.ErrorIs(t, r.Validate(), ErrInvalidRecording)

	r.End = r.Start.Add(time.Hour)
	r.Type = RecordingProgram
	assert.ErrorIs(t, r.Validate(), ErrInvalidRecording)

	r.ProgramIDs = []int64{9}
	assert.NoError(t, r.Validate())
}

func TestMediaURIFor(t *testing.T) {
	r := Recording{ID: 12, Channel: Channel{InputID: "tuner/hdhr0"}}
	assert.Equal(t, "record://pvrd/12?input_id=tuner%2Fhdhr0", MediaURIFor(r))

	r.MediaURI = "file:///rec/12.ts"
	assert.Equal(t, "file:///rec/12.ts", MediaURIFor(r))
}

func TestSortByPriority(t *testing.T) {
	recs := []Recording{
		{ID: 3, Priority: 5},
		{ID: 2, Priority: 1},
		{ID: 1, Priority: 5},
	}
	SortByPriority(recs)
	assert.Equal(t, []int64{2, 1, 3}, []int64{recs[0].ID, recs[1].ID, recs[2].ID})
}

func TestSortByStartThenPriority(t *testing.T) {
	recs := []Recording{
		{ID: 1, Start: t0.Add(time.Hour), Priority: 0},
		{ID: 2, Start: t0, Priority: 9},
		{ID: 3, Start: t0, Priority: 1},
	}
	SortByStartThenPriority(recs)
	assert.Equal(t, []int64{3, 2, 1}, []int64{recs[0].ID, recs[1].ID, recs[2].ID})
}

func TestStopReasonString(t *testing.T) {
	assert.Equal(t, "disconnected", StopReasonDisconnected.String())
	assert.Equal(t, "code_77", StopReason(77).String())
}

func TestBatchErrorUnwrap(t *testing.T) {
	cause := errors.New("disk I/O")
	var err error = &BatchError{Applied: 100, Err: cause}
	assert.ErrorIs(t, err, cause)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 100, be.Applied)
}
