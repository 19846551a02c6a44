// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Lineup is a guide-source bundle of channels offered for an area.
type Lineup struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ChannelNumbers []string `json:"channel_numbers,omitempty"`
}

// ChannelNumberSet returns the lineup channel numbers as a set.
func ChannelNumberSet(numbers []string) map[string]struct{} {
	set := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		set[n] = struct{}{}
	}
	return set
}
