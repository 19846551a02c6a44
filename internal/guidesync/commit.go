// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guidesync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/metrics"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

// commitResult reports what one channel commit wrote.
type commitResult struct {
	Applied     EditCounts
	Dropped     int
	BatchFailed bool
}

// commitChannel diffs fetched against the stored programs of channelID and
// writes the edits in batches of at most BatchSize. A failed batch ends the
// commit for this channel; its edits and all later ones are dropped.
func (e *Engine) commitChannel(ctx context.Context, channelID int64, fetched []model.Program) (commitResult, error) {
	ctx, span := e.tracer.Start(ctx, "guidesync.commit_channel")
	defer span.End()

	var res commitResult
	now := e.clock.Now()
	fresh := prepareFetched(channelID, fetched, now)
	if len(fresh) == 0 {
		span.SetAttributes(telemetry.CommitAttributes(channelID, 0, 0, 0, 0, false)...)
		return res, nil
	}

	old, err := e.programs.ProgramsForChannel(ctx, channelID, now, now.Add(e.cfg.ProgramQueryDuration))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load stored programs")
		return res, err
	}
	ops := Diff(old, fresh)

	batch := e.cfg.BatchSize
	for start := 0; start < len(ops); start += batch {
		end := min(start+batch, len(ops))
		chunk := ops[start:end]
		if err := e.programs.ApplyProgramBatch(ctx, chunk); err != nil {
			res.BatchFailed = true
			res.Dropped = len(ops) - start
			metrics.IncGuideBatchFailure()
			span.RecordError(err)
			logger := log.WithContext(ctx, e.logger)
			logger.Warn().
				Err(err).
				Str("event", "guide.batch_failed").
				Int64(log.FieldChannelID, channelID).
				Int("dropped", res.Dropped).
				Msg("program batch failed, dropping remaining edits for channel")
			break
		}
		res.Applied.add(CountOps(chunk))
	}

	metrics.AddGuideProgramEdits(string(model.OpInsert), res.Applied.Inserts)
	metrics.AddGuideProgramEdits(string(model.OpUpdate), res.Applied.Updates)
	metrics.AddGuideProgramEdits(string(model.OpDelete), res.Applied.Deletes)
	span.SetAttributes(telemetry.CommitAttributes(channelID, len(fresh),
		res.Applied.Inserts, res.Applied.Updates, res.Applied.Deletes, res.BatchFailed)...)
	return res, nil
}

// prepareFetched binds fetched programs to the local channel, drops programs
// already over and orders the rest by start.
func prepareFetched(channelID int64, fetched []model.Program, now time.Time) []model.Program {
	out := make([]model.Program, 0, len(fetched))
	for _, p := range fetched {
		if !p.End.After(now) {
			continue
		}
		p.ID = 0
		p.ChannelID = channelID
		p.Start = p.Start.UTC()
		p.End = p.End.UTC()
		out = append(out, p)
	}
	model.SortPrograms(out)
	return out
}
