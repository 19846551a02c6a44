// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"
)

var (
	ErrIllegalTransition = errors.New("illegal recording state transition")
	ErrInvalidRecording  = errors.New("invalid recording")
)

// RecordingState is the persisted lifecycle of a Recording.
type RecordingState string

const (
	RecordingNotStarted RecordingState = "NOT_STARTED"
	RecordingInProgress RecordingState = "IN_PROGRESS"
	RecordingFinished   RecordingState = "FINISHED"
	RecordingFailed     RecordingState = "FAILED"
	RecordingDeleted    RecordingState = "DELETED"
)

// IsTerminal returns true for states no task will ever leave on its own.
func (s RecordingState) IsTerminal() bool {
	switch s {
	case RecordingFinished, RecordingFailed, RecordingDeleted:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s RecordingState) Valid() bool {
	_, ok := recordingTransitions[s]
	return ok
}

var recordingTransitions = map[RecordingState][]RecordingState{
	RecordingNotStarted: {RecordingInProgress, RecordingFailed, RecordingDeleted},
	RecordingInProgress: {RecordingFinished, RecordingFailed, RecordingDeleted},
	RecordingFinished:   {RecordingDeleted},
	RecordingFailed:     {RecordingDeleted},
	RecordingDeleted:    nil,
}

// CanTransition reports whether from -> to is an allowed edge.
// Staying in the same state is not a transition.
func CanTransition(from, to RecordingState) bool {
	for _, s := range recordingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrIllegalTransition when from -> to is not allowed.
func CheckTransition(from, to RecordingState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// RecordingType distinguishes manual time ranges from program-bound recordings.
type RecordingType string

const (
	RecordingTimed   RecordingType = "TIMED"
	RecordingProgram RecordingType = "PROGRAM"
)

// StopReason is the code a session reports when recording stops abnormally.
// Codes are passed through from the session layer unchanged.
type StopReason int

const (
	StopReasonNone          StopReason = 0
	StopReasonDiskFull      StopReason = 1
	StopReasonConflict      StopReason = 2
	StopReasonConnectFailed StopReason = 3
	StopReasonDisconnected  StopReason = 4
	StopReasonUnknown       StopReason = 10
)

func (r StopReason) String() string {
	switch r {
	case StopReasonNone:
		return "none"
	case StopReasonDiskFull:
		return "disk_full"
	case StopReasonConflict:
		return "conflict"
	case StopReasonConnectFailed:
		return "connect_failed"
	case StopReasonDisconnected:
		return "disconnected"
	case StopReasonUnknown:
		return "unknown"
	default:
		return "code_" + strconv.Itoa(int(r))
	}
}

// Recording is one scheduled recording.
type Recording struct {
	ID            int64          `json:"id"`
	ChannelID     int64          `json:"channel_id"`
	Channel       Channel        `json:"channel"`
	ProgramIDs    []int64        `json:"program_ids,omitempty"`
	Type          RecordingType  `json:"type"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Priority      int64          `json:"priority"`
	State         RecordingState `json:"state"`
	MediaURI      string         `json:"media_uri,omitempty"`
	FailureReason StopReason     `json:"failure_reason,omitempty"`
}

// Validate checks the invariants a stored recording must hold.
func (r Recording) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRecording, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	if r.State != "" && !r.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidRecording, r.State)
	}
	switch r.Type {
	case "", RecordingTimed, RecordingProgram:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecording, r.Type)
	}
	if r.Type == RecordingProgram && len(r.ProgramIDs) == 0 {
		return fmt.Errorf("%w: program recording without program ids", ErrInvalidRecording)
	}
	return nil
}

// InputID returns the tuner input of the recorded channel.
func (r Recording) InputID() string { return r.Channel.InputID }

// Duration returns End - Start.
func (r Recording) Duration() time.Duration { return r.End.Sub(r.Start) }

// MediaURIScheme is the scheme of generated recording media URIs.
const MediaURIScheme = "record"

// MediaURIFor returns r.MediaURI or, when unset, the generated
// record://pvrd/<id>?input_id=<input> URI.
func MediaURIFor(r Recording) string {
	if r.MediaURI != "" {
		return r.MediaURI
	}
	u := url.URL{
		Scheme:   MediaURIScheme,
		Host:     "pvrd",
		Path:     "/" + strconv.FormatInt(r.ID, 10),
		RawQuery: url.Values{"input_id": {r.InputID()}}.Encode(),
	}
	return u.String()
}

// SortByStart orders recordings by start, then by ID.
func SortByStart(recs []Recording) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Start.Equal(recs[j].Start) {
			return recs[i].Start.Before(recs[j].Start)
		}
		return recs[i].ID < recs[j].ID
	})
}

// SortByPriority orders recordings so that the preferred one comes first:
// lower priority value wins, then lower ID.
func SortByPriority(recs []Recording) {
	sort.SliceStable(recs, func(i, j int) bool { return PriorityLess(recs[i], recs[j]) })
}

// PriorityLess reports whether a is preferred over b on conflict.
func PriorityLess(a, b Recording) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// SortByStartThenPriority orders by start and breaks ties by priority.
func SortByStartThenPriority(recs []Recording) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Start.Equal(recs[j].Start) {
			return recs[i].Start.Before(recs[j].Start)
		}
		return PriorityLess(recs[i], recs[j])
	})
}
