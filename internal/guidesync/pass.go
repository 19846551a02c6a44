// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guidesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/metrics"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

// Outcome classifies how a pass ended.
type Outcome string

const (
	OutcomeCommitted         Outcome = "committed"
	OutcomeUpToDate          Outcome = "up_to_date"
	OutcomeSourceUnavailable Outcome = "source_unavailable"
	OutcomeNoLineup          Outcome = "no_lineup"
	OutcomeNoChannels        Outcome = "no_channels"
	OutcomePartial           Outcome = "partial"
	OutcomeCancelled         Outcome = "cancelled"
)

// Result describes one finished pass.
type Result struct {
	Kind           Kind          `json:"kind,omitempty"`
	PassID         string        `json:"pass_id,omitempty"`
	Outcome        Outcome       `json:"outcome,omitempty"`
	LineupID       string        `json:"lineup_id,omitempty"`
	GuideTimestamp time.Time     `json:"guide_timestamp,omitempty"`
	Channels       int           `json:"channels"`
	Fetched        int           `json:"fetched"`
	Edits          EditCounts    `json:"edits"`
	ChannelErrors  int           `json:"channel_errors"`
	BatchFailures  int           `json:"batch_failures"`
	Duration       time.Duration `json:"duration"`
	// RetryIn is the delay before the worker runs this kind again; zero
	// means no follow-up is scheduled.
	RetryIn time.Duration `json:"retry_in"`
}

// channelPair binds a local channel to the source channel it is fed from.
type channelPair struct {
	local    model.Channel
	sourceID int64
}

func (e *Engine) runPass(ctx context.Context, k Kind) Result {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.passCancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.passCancel = nil
		e.mu.Unlock()
	}()

	passID := uuid.NewString()
	ctx = log.ContextWithPassID(ctx, passID)
	ctx, span := e.tracer.Start(ctx, "guidesync.pass",
		trace.WithAttributes(telemetry.PassAttributes(string(k), passID, e.currentState().LineupID)...))
	defer span.End()

	started := e.clock.Now()
	var res Result
	switch k {
	case KindFast:
		res = e.fastPass(ctx)
	default:
		res = e.fullPass(ctx)
	}
	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		res.RetryIn = 0
	}
	res.Kind = k
	res.PassID = passID
	res.Duration = e.clock.Now().Sub(started)

	span.SetAttributes(attribute.String(telemetry.GuideOutcomeKey, string(res.Outcome)))
	if res.ChannelErrors > 0 || res.BatchFailures > 0 {
		span.SetStatus(codes.Error, "channel failures")
	}
	metrics.RecordGuidePass(string(k), string(res.Outcome), res.Duration)

	logger := log.WithContext(ctx, e.logger)
	logger.Info().
		Str("event", "guide.pass_finished").
		Str(log.FieldKind, string(k)).
		Str("outcome", string(res.Outcome)).
		Str(log.FieldLineupID, res.LineupID).
		Int("channels", res.Channels).
		Int("inserted", res.Edits.Inserts).
		Int("updated", res.Edits.Updates).
		Int("deleted", res.Edits.Deletes).
		Int("batch_failures", res.BatchFailures).
		Dur(log.FieldRetryIn, res.RetryIn).
		Dur("duration", res.Duration).
		Msg("guide pass finished")

	e.mu.Lock()
	e.last = res
	e.mu.Unlock()
	return res
}

func (e *Engine) fullPass(ctx context.Context) Result {
	var res Result
	logger := log.WithContext(ctx, e.logger)

	if !e.source.IsAvailable(ctx) {
		res.Outcome = OutcomeSourceUnavailable
		res.RetryIn = e.cfg.SourceUnavailableWait
		metrics.IncGuideRetry("source_unavailable")
		return res
	}

	lineupID, err := e.resolveLineup(ctx)
	if err != nil {
		res.Outcome = OutcomeNoLineup
		res.RetryIn = e.resolutionRetry(ctx, err)
		return res
	}
	res.LineupID = lineupID

	ts, err := e.source.EpgTimestamp(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("event", "guide.timestamp_failed").Msg("read guide timestamp")
		res.Outcome = OutcomeSourceUnavailable
		res.RetryIn = e.cfg.SourceUnavailableWait
		metrics.IncGuideRetry("source_unavailable")
		return res
	}
	res.GuideTimestamp = ts
	if !ts.After(e.currentState().GuideTimestamp) {
		res.Outcome = OutcomeUpToDate
		res.RetryIn = e.cfg.RecurringPeriod
		return res
	}

	pairs, err := e.lineupChannels(ctx, lineupID)
	if err != nil {
		logger.Warn().Err(err).Str("event", "guide.channels_failed").Str(log.FieldLineupID, lineupID).Msg("fetch lineup channels")
	}
	if len(pairs) == 0 {
		res.Outcome = OutcomeNoChannels
		res.RetryIn = e.emptyRetry(ctx)
		return res
	}
	e.emptyBackoff.Reset()
	res.Channels = len(pairs)

	for _, p := range pairs {
		if ctx.Err() != nil {
			return res
		}
		programs, err := e.source.Programs(ctx, p.sourceID)
		if err != nil {
			res.ChannelErrors++
			logger.Warn().Err(err).
				Str("event", "guide.programs_failed").
				Int64(log.FieldChannelID, p.local.ID).
				Msg("fetch channel programs")
			continue
		}
		res.Fetched += len(programs)
		e.commitInto(ctx, &res, p.local.ID, programs)
	}
	if ctx.Err() != nil {
		return res
	}

	if res.Fetched == 0 {
		res.Outcome = OutcomeNoChannels
		res.RetryIn = e.emptyRetry(ctx)
		return res
	}

	res.RetryIn = e.cfg.RecurringPeriod
	if res.ChannelErrors > 0 || res.BatchFailures > 0 {
		// keep the old timestamp so the next pass diffs again
		res.Outcome = OutcomePartial
		return res
	}

	st := e.currentState()
	st.GuideTimestamp = ts
	st.LastSyncedAt = e.clock.Now()
	if err := e.saveState(ctx, st); err != nil {
		logger.Error().Err(err).Str("event", "guide.state_save_failed").Msg("persist guide timestamp")
	}
	metrics.SetGuideLastCommit(ts)
	res.Outcome = OutcomeCommitted
	return res
}

// fastPass fetches the short and long program windows for every channel in
// batches. It never touches the persisted guide timestamp.
func (e *Engine) fastPass(ctx context.Context) Result {
	var res Result
	logger := log.WithContext(ctx, e.logger)

	if !e.source.IsAvailable(ctx) {
		res.Outcome = OutcomeSourceUnavailable
		res.RetryIn = e.cfg.SourceUnavailableWait
		metrics.IncGuideRetry("source_unavailable")
		return res
	}
	lineupID, err := e.resolveLineup(ctx)
	if err != nil {
		res.Outcome = OutcomeNoLineup
		return res
	}
	res.LineupID = lineupID

	pairs, err := e.lineupChannels(ctx, lineupID)
	if err != nil {
		logger.Warn().Err(err).Str("event", "guide.channels_failed").Str(log.FieldLineupID, lineupID).Msg("fetch lineup channels")
	}
	if len(pairs) == 0 {
		res.Outcome = OutcomeNoChannels
		return res
	}
	res.Channels = len(pairs)

	bySource := make(map[int64][]model.Channel)
	var ids []int64
	for _, p := range pairs {
		if _, seen := bySource[p.sourceID]; !seen {
			ids = append(ids, p.sourceID)
		}
		bySource[p.sourceID] = append(bySource[p.sourceID], p.local)
	}

	windows := []time.Duration{e.cfg.FastShortWindow, e.cfg.FastLongWindow + e.cfg.RecurringPeriod}
	for _, window := range windows {
		for start := 0; start < len(ids); start += ports.MaxProgramsWindowChannels {
			if ctx.Err() != nil {
				return res
			}
			chunk := ids[start:min(start+ports.MaxProgramsWindowChannels, len(ids))]
			byChannel, err := e.source.ProgramsWindow(ctx, chunk, window)
			if err != nil {
				res.ChannelErrors += len(chunk)
				logger.Warn().Err(err).
					Str("event", "guide.window_failed").
					Dur("window", window).
					Int("channels", len(chunk)).
					Msg("fetch program window")
				continue
			}
			for _, id := range chunk {
				programs := byChannel[id]
				res.Fetched += len(programs)
				for _, local := range bySource[id] {
					e.commitInto(ctx, &res, local.ID, programs)
				}
			}
		}
	}
	res.Outcome = OutcomeCommitted
	if res.ChannelErrors > 0 || res.BatchFailures > 0 {
		res.Outcome = OutcomePartial
	}
	return res
}

func (e *Engine) commitInto(ctx context.Context, res *Result, channelID int64, programs []model.Program) {
	cr, err := e.commitChannel(ctx, channelID, programs)
	if err != nil {
		res.ChannelErrors++
		logger := log.WithContext(ctx, e.logger)
		logger.Warn().Err(err).
			Str("event", "guide.commit_failed").
			Int64(log.FieldChannelID, channelID).
			Msg("commit channel programs")
		return
	}
	res.Edits.add(cr.Applied)
	if cr.BatchFailed {
		res.BatchFailures++
	}
}

// resolveLineup returns the stored lineup, re-resolving it when it was reset
// or the postal code changed.
func (e *Engine) resolveLineup(ctx context.Context) (string, error) {
	st := e.currentState()
	dirty := false
	if e.takeResetLineup() {
		st.LineupID, st.PostalCode = "", ""
		st.GuideTimestamp = time.Time{}
		dirty = true
	}

	postal, perr := e.locator.PostalCode(ctx)
	if perr == nil && st.LineupID != "" && st.PostalCode != "" && postal != st.PostalCode {
		e.logger.Info().
			Str("event", "guide.postal_code_changed").
			Str("old", st.PostalCode).
			Str("new", postal).
			Msg("postal code changed, selecting lineup again")
		st.LineupID = ""
		st.GuideTimestamp = time.Time{}
		dirty = true
	}

	if dirty {
		if err := e.saveState(ctx, st); err != nil {
			e.logger.Warn().Err(err).Str("event", "guide.state_save_failed").Msg("persist lineup reset")
		}
	}
	if st.LineupID != "" {
		return st.LineupID, nil
	}
	if perr != nil {
		return "", fmt.Errorf("postal code: %w", perr)
	}

	id, ok, err := e.selector.Select(ctx, postal)
	if err != nil {
		return "", fmt.Errorf("select lineup: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w for postal code %q", errNoLineup, postal)
	}

	st.LineupID = id
	st.PostalCode = postal
	st.GuideTimestamp = time.Time{}
	if err := e.saveState(ctx, st); err != nil {
		e.logger.Warn().Err(err).Str("event", "guide.state_save_failed").Msg("persist selected lineup")
	}
	e.resolveBackoff.Reset()
	return id, nil
}

func (e *Engine) resolutionRetry(ctx context.Context, err error) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	logger := log.WithContext(ctx, e.logger)
	if errors.Is(err, ports.ErrLocationDenied) {
		logger.Warn().Err(err).Str("event", "guide.location_denied").Msg("location lookup denied")
		metrics.IncGuideRetry("resolution")
		return e.cfg.LocationDeniedWait
	}
	wait, ok := e.resolveBackoff.Next()
	if !ok {
		logger.Warn().Err(err).Str("event", "guide.resolution_exhausted").Msg("lineup resolution retries exhausted, waiting for next period")
		return e.cfg.RecurringPeriod
	}
	metrics.IncGuideRetry("resolution")
	logger.Info().Err(err).
		Str("event", "guide.resolution_retry").
		Int("attempt", e.resolveBackoff.Attempts()).
		Dur(log.FieldRetryIn, wait).
		Msg("lineup resolution failed, backing off")
	return wait
}

func (e *Engine) emptyRetry(ctx context.Context) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	logger := log.WithContext(ctx, e.logger)
	wait, ok := e.emptyBackoff.Next()
	if !ok {
		logger.Warn().Str("event", "guide.empty_exhausted").Msg("no guide data fetched, waiting for next period")
		return e.cfg.RecurringPeriod
	}
	metrics.IncGuideRetry("empty_result")
	logger.Info().
		Str("event", "guide.empty_retry").
		Int("attempt", e.emptyBackoff.Attempts()).
		Dur(log.FieldRetryIn, wait).
		Msg("no guide data fetched, backing off")
	return wait
}

// lineupChannels maps the source channels of lineupID onto local physical
// tuner channels by display number.
func (e *Engine) lineupChannels(ctx context.Context, lineupID string) ([]channelPair, error) {
	srcChannels, err := e.source.Channels(ctx, lineupID)
	if err != nil {
		return nil, fmt.Errorf("source channels: %w", err)
	}
	local, err := e.channels.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("local channels: %w", err)
	}

	byNumber := make(map[string][]model.Channel)
	for _, ch := range model.PhysicalTunerChannels(local) {
		byNumber[ch.DisplayNumber] = append(byNumber[ch.DisplayNumber], ch)
	}

	var pairs []channelPair
	for _, src := range srcChannels {
		for _, ch := range byNumber[src.DisplayNumber] {
			pairs = append(pairs, channelPair{local: ch, sourceID: src.ID})
		}
	}
	return pairs, nil
}
