// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func prog(title string, startMin, endMin int) Program {
	return Program{
		ChannelID: 7,
		Title:     title,
		Start:     t0.Add(time.Duration(startMin) * time.Minute),
		End:       t0.Add(time.Duration(endMin) * time.Minute),
	}
}

func TestProgramEqual_IgnoresRowID(t *testing.T) {
	a := prog("News", 0, 30)
	a.Genres = []string{"NEWS"}
	a.ProviderData = []byte{1, 2}
	b := a
	b.ID = 42
	b.Genres = []string{"NEWS"}
	b.ProviderData = []byte{1, 2}

	assert.True(t, a.Equal(b))

	b.Description = "changed"
	assert.False(t, a.Equal(b))
}

func TestProgramEqual_ComparesInstantsNotLocations(t *testing.T) {
	a := prog("News", 0, 30)
	b := a
	b.Start = a.Start.In(time.FixedZone("CET", 3600))
	assert.True(t, a.Equal(b))
}

func TestProgramTitleOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b Program
		want bool
	}{
		{"same slot", prog("A", 0, 30), prog("A", 0, 30), true},
		{"shifted", prog("A", 0, 30), prog("A", 10, 40), true},
		{"back to back", prog("A", 0, 30), prog("A", 30, 60), false},
		{"one minute shared", prog("A", 0, 31), prog("A", 30, 60), true},
		{"disjoint", prog("A", 0, 30), prog("A", 31, 60), false},
		{"different title", prog("A", 0, 30), prog("B", 0, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.TitleOverlap(tt.b))
			assert.Equal(t, tt.want, tt.b.TitleOverlap(tt.a))
		})
	}
}

func TestSortPrograms_Stable(t *testing.T) {
	ps := []Program{prog("C", 60, 90), prog("A", 0, 30), prog("B", 0, 30)}
	SortPrograms(ps)
	assert.Equal(t, []string{"A", "B", "C"}, []string{ps[0].Title, ps[1].Title, ps[2].Title})
}
