// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"bytes"
	"slices"
	"sort"
	"time"
)

// Program is one guide entry for a channel.
// ID is the store row id; programs fresh from a guide source carry zero.
type Program struct {
	ID              int64     `json:"id,omitempty"`
	ChannelID       int64     `json:"channel_id"`
	Title           string    `json:"title"`
	EpisodeTitle    string    `json:"episode_title,omitempty"`
	SeasonNumber    string    `json:"season_number,omitempty"`
	EpisodeNumber   string    `json:"episode_number,omitempty"`
	Description     string    `json:"description,omitempty"`
	LongDescription string    `json:"long_description,omitempty"`
	PosterArtURI    string    `json:"poster_art_uri,omitempty"`
	ThumbnailURI    string    `json:"thumbnail_uri,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Genres          []string  `json:"genres,omitempty"`
	ContentRatings  []string  `json:"content_ratings,omitempty"`
	ProviderData    []byte    `json:"provider_data,omitempty"`
}

// Equal reports whether a and b carry the same guide data.
// The row id is not part of the comparison.
func (p Program) Equal(o Program) bool {
	return p.ChannelID == o.ChannelID &&
		p.Title == o.Title &&
		p.EpisodeTitle == o.EpisodeTitle &&
		p.SeasonNumber == o.SeasonNumber &&
		p.EpisodeNumber == o.EpisodeNumber &&
		p.Description == o.Description &&
		p.LongDescription == o.LongDescription &&
		p.PosterArtURI == o.PosterArtURI &&
		p.ThumbnailURI == o.ThumbnailURI &&
		p.Start.Equal(o.Start) &&
		p.End.Equal(o.End) &&
		slices.Equal(p.Genres, o.Genres) &&
		slices.Equal(p.ContentRatings, o.ContentRatings) &&
		bytes.Equal(p.ProviderData, o.ProviderData)
}

// TitleOverlap reports whether both programs share a title and their time
// ranges intersect. Ranges are half-open, so back-to-back slots do not
// overlap.
func (p Program) TitleOverlap(o Program) bool {
	return p.Title == o.Title &&
		p.Start.Before(o.End) &&
		o.Start.Before(p.End)
}

// Duration returns End - Start.
func (p Program) Duration() time.Duration { return p.End.Sub(p.Start) }

// SortPrograms orders programs by start instant, keeping input order on ties.
func SortPrograms(programs []Program) {
	sort.SliceStable(programs, func(i, j int) bool {
		return programs[i].Start.Before(programs[j].Start)
	})
}
