// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the guide and recording entities shared by the
// guide sync engine, the recording scheduler and the stores.
package model

import "sort"

// Channel is a locally known tuner channel.
// Everything except Browsable is owned by the channel scan and read-only here.
type Channel struct {
	ID            int64  `json:"id"`
	InputID       string `json:"input_id"`
	DisplayNumber string `json:"display_number"`
	DisplayName   string `json:"display_name"`
	URI           string `json:"uri,omitempty"`
	PhysicalTuner bool   `json:"physical_tuner"`
	Browsable     bool   `json:"browsable"`
}

// PhysicalTunerChannels returns the channels backed by a physical tuner, in input order.
func PhysicalTunerChannels(channels []Channel) []Channel {
	var out []Channel
	for _, ch := range channels {
		if ch.PhysicalTuner {
			out = append(out, ch)
		}
	}
	return out
}

// SortChannels orders channels by ID.
func SortChannels(channels []Channel) {
	sort.SliceStable(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
}
