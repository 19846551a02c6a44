// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lineup picks the guide lineup that best matches the local channels.
package lineup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/log"
)

// Source is the subset of ports.GuideSource the selector uses.
type Source interface {
	Lineups(ctx context.Context, postalCode string) ([]model.Lineup, error)
	ChannelNumbers(ctx context.Context, lineupID string) ([]string, error)
}

// Selector matches a postal code to a lineup.
type Selector struct {
	source   Source
	channels ports.ChannelStore
	logger   zerolog.Logger
}

// NewSelector creates a selector reading local channels from channels.
func NewSelector(source Source, channels ports.ChannelStore) *Selector {
	return &Selector{
		source:   source,
		channels: channels,
		logger:   log.WithComponent("lineup"),
	}
}

// Select returns the lineup offered for postalCode whose channel numbers
// cover the most local physical-tuner display numbers. Ties keep the first
// candidate. ok is false when no candidate matches at least one number or
// no physical-tuner channel exists.
func (s *Selector) Select(ctx context.Context, postalCode string) (string, bool, error) {
	local, err := s.channels.Channels(ctx)
	if err != nil {
		return "", false, fmt.Errorf("load local channels: %w", err)
	}
	physical := model.PhysicalTunerChannels(local)
	if len(physical) == 0 {
		s.logger.Info().Str("event", "lineup.no_physical_channels").Msg("no physical tuner channels, skipping lineup selection")
		return "", false, nil
	}

	lineups, err := s.source.Lineups(ctx, postalCode)
	if err != nil {
		return "", false, fmt.Errorf("fetch lineups for %q: %w", postalCode, err)
	}

	bestID := ""
	bestCount := 0
	for _, l := range lineups {
		numbers := l.ChannelNumbers
		if len(numbers) == 0 {
			numbers, err = s.source.ChannelNumbers(ctx, l.ID)
			if err != nil {
				return "", false, fmt.Errorf("fetch channel numbers of lineup %s: %w", l.ID, err)
			}
		}
		count := MatchCount(physical, numbers)
		s.logger.Info().
			Str("event", "lineup.candidate").
			Str(log.FieldLineupID, l.ID).
			Int("matches", count).
			Msgf("%s (%s) - %d matches", l.Name, l.ID, count)
		if count > bestCount {
			bestID = l.ID
			bestCount = count
		}
	}

	if bestCount == 0 {
		return "", false, nil
	}
	s.logger.Info().
		Str("event", "lineup.selected").
		Str(log.FieldLineupID, bestID).
		Int("matches", bestCount).
		Msg("lineup selected")
	return bestID, true, nil
}

// MatchCount counts the channels whose display number appears in numbers.
func MatchCount(channels []model.Channel, numbers []string) int {
	set := model.ChannelNumberSet(numbers)
	count := 0
	for _, ch := range channels {
		if _, ok := set[ch.DisplayNumber]; ok {
			count++
		}
	}
	return count
}
