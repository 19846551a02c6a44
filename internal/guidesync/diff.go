// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guidesync

import "github.com/ManuGH/pvrd/internal/domain/model"

// Diff returns the edits that turn the stored programs old into fetched.
// Both lists must be ordered by start. The walk is a two-cursor merge:
//
//   - equal programs advance both cursors without an edit
//   - title-overlapping programs update the old row in place
//   - an old program ending before the new one is deleted
//   - otherwise the new program is inserted
//
// Once old is exhausted the remaining fetched programs are inserted. Old
// programs left after fetched is exhausted are kept, so an empty fetched
// list produces no edits.
func Diff(old, fetched []model.Program) []model.ProgramOp {
	var ops []model.ProgramOp
	i, j := 0, 0
	for j < len(fetched) {
		n := fetched[j]
		if i >= len(old) {
			ops = append(ops, model.InsertOp(n))
			j++
			continue
		}
		o := old[i]
		switch {
		case o.Equal(n):
			i++
			j++
		case o.TitleOverlap(n):
			ops = append(ops, model.UpdateOp(o.ID, n))
			i++
			j++
		case o.End.Before(n.End):
			ops = append(ops, model.DeleteOp(o.ID))
			i++
		default:
			ops = append(ops, model.InsertOp(n))
			j++
		}
	}
	return ops
}

// EditCounts tallies ops per kind.
type EditCounts struct {
	Inserts int
	Updates int
	Deletes int
}

// Total returns the number of edits.
func (c EditCounts) Total() int { return c.Inserts + c.Updates + c.Deletes }

func (c *EditCounts) add(o EditCounts) {
	c.Inserts += o.Inserts
	c.Updates += o.Updates
	c.Deletes += o.Deletes
}

// CountOps tallies ops per kind.
func CountOps(ops []model.ProgramOp) EditCounts {
	var c EditCounts
	for _, op := range ops {
		switch op.Kind {
		case model.OpInsert:
			c.Inserts++
		case model.OpUpdate:
			c.Updates++
		case model.OpDelete:
			c.Deletes++
		}
	}
	return c
}
