// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ports defines the collaborator contracts the guide sync engine and
// the recording scheduler depend on.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/pvrd/internal/domain/model"
)

// MaxProgramsWindowChannels is the largest channel id set one
// ProgramsWindow call may carry.
const MaxProgramsWindowChannels = 50

// ErrTooManyChannels is returned by ProgramsWindow for oversized id sets.
var ErrTooManyChannels = errors.New("too many channels for one programs window request")

// GuideSource supplies lineups, channels and programs.
type GuideSource interface {
	// IsAvailable reports whether the source can currently serve requests.
	IsAvailable(ctx context.Context) bool
	// EpgTimestamp returns the instant of the guide data the source holds.
	EpgTimestamp(ctx context.Context) (time.Time, error)
	Lineups(ctx context.Context, postalCode string) ([]model.Lineup, error)
	ChannelNumbers(ctx context.Context, lineupID string) ([]string, error)
	Channels(ctx context.Context, lineupID string) ([]model.Channel, error)
	// Programs returns the full-window program list of one channel.
	Programs(ctx context.Context, channelID int64) ([]model.Program, error)
	// ProgramsWindow returns programs of up to MaxProgramsWindowChannels
	// channels starting within duration from now.
	ProgramsWindow(ctx context.Context, channelIDs []int64, duration time.Duration) (map[int64][]model.Program, error)
}

// PostalCodeLocator resolves the device postal code.
type PostalCodeLocator interface {
	PostalCode(ctx context.Context) (string, error)
}

var (
	// ErrNoPostalCode means the location is known but has no postal code yet.
	ErrNoPostalCode = errors.New("postal code not available")
	// ErrLocationDenied means location lookup is not permitted.
	ErrLocationDenied = errors.New("location lookup denied")
)

// StaticPostalCode is a PostalCodeLocator returning a fixed value.
type StaticPostalCode string

func (s StaticPostalCode) PostalCode(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoPostalCode
	}
	return string(s), nil
}
