// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"errors"

	"github.com/ManuGH/pvrd/internal/domain/model"
)

var (
	// ErrSessionUnavailable means no session can be granted for the key.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrSessionReleased is returned by calls on a released handle.
	ErrSessionReleased = errors.New("session released")
	// ErrLeaseLost is returned by calls on a handle whose lease expired or
	// was taken over.
	ErrLeaseLost = errors.New("session lease lost")
)

// SessionKind selects the capability set of a session.
type SessionKind string

const (
	KindRecording SessionKind = "recording"
	KindPlayback  SessionKind = "playback"
)

// Session is the capability set shared by every session kind.
type Session interface {
	Kind() SessionKind
	Connect(inputID string, cb Callback) error
	// Release frees the lease. Calling it more than once is a no-op.
	Release()
}

// RecordingSession records a channel to a media URI.
type RecordingSession interface {
	Session
	StartRecord(channelURI, mediaURI string) error
	StopRecord() error
	Delete(mediaURI string) error
}

// PlaybackSession tunes a channel for live viewing.
type PlaybackSession interface {
	Session
	Tune(channelURI string) error
	Stop() error
}

// Callback receives asynchronous session events. Implementations must not block.
type Callback interface {
	OnConnected()
	OnDisconnected()
	OnRecordStarted(mediaURI string)
	OnRecordStopped(mediaURI string, reason model.StopReason)
	OnRecordDeleted(mediaURI string)
	OnRecordDeleteFailed(mediaURI string, reason model.StopReason)
}

// SessionPool grants at most one recording session per (input, channel).
type SessionPool interface {
	CanAcquire(inputID string, channel model.Channel) bool
	Acquire(inputID string, channel model.Channel) (RecordingSession, error)
}

// NopCallback ignores every event. Embed it to implement a subset.
type NopCallback struct{}

func (NopCallback) OnConnected()                                  {}
func (NopCallback) OnDisconnected()                               {}
func (NopCallback) OnRecordStarted(string)                        {}
func (NopCallback) OnRecordStopped(string, model.StopReason)      {}
func (NopCallback) OnRecordDeleted(string)                        {}
func (NopCallback) OnRecordDeleteFailed(string, model.StopReason) {}
