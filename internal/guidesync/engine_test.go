// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guidesync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/platform/clock/clocktest"
	"github.com/ManuGH/pvrd/internal/store/memory"
)

var now0 = time.Date(2026, 2, 10, 5, 0, 0, 0, time.UTC)

type harness struct {
	src    *fakeSource
	store  *memory.Store
	clock  *clocktest.Fake
	state  *MemoryState
	engine *Engine
}

// newHarness wires one local channel (id 100, number "2") fed by source
// channel 7 of lineup "L1", offered for postal code 94043.
func newHarness(t *testing.T, cfg Config, opts ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		src:   newFakeSource(),
		store: memory.New(),
		clock: clocktest.New(now0),
		state: &MemoryState{},
	}
	require.NoError(t, h.store.ReplaceChannels(context.Background(), []model.Channel{
		{ID: 100, InputID: "in0", DisplayNumber: "2", DisplayName: "Two", PhysicalTuner: true},
		{ID: 200, InputID: "iptv", DisplayNumber: "2", DisplayName: "Two (IP)", PhysicalTuner: false},
	}))
	h.src.timestamp = now0.Add(-time.Minute)
	h.src.lineups["94043"] = []model.Lineup{{ID: "L0", Name: "Other"}, {ID: "L1", Name: "Cable"}}
	h.src.channelNumbers["L0"] = []string{"99"}
	h.src.channelNumbers["L1"] = []string{"2", "3"}
	h.src.channels["L1"] = []model.Channel{{ID: 7, DisplayNumber: "2"}, {ID: 8, DisplayNumber: "3"}}
	h.src.programs[7] = []model.Program{
		gp("News", 0, 30),
		gp("Movie", 30, 150),
	}

	deps := Deps{
		Source:   h.src,
		Programs: h.store,
		Channels: h.store,
		Locator:  ports.StaticPostalCode("94043"),
		State:    h.state,
		Clock:    h.clock,
	}
	for _, o := range opts {
		o(&deps)
	}
	e, err := New(deps, cfg)
	require.NoError(t, err)
	h.engine = e
	return h
}

// gp is a guide program relative to now0.
func gp(title string, startMin, endMin int) model.Program {
	return model.Program{
		Title: title,
		Start: now0.Add(time.Duration(startMin) * time.Minute),
		End:   now0.Add(time.Duration(endMin) * time.Minute),
	}
}

func (h *harness) stored(t *testing.T, channelID int64) []model.Program {
	t.Helper()
	got, err := h.store.AllPrograms(context.Background(), channelID)
	require.NoError(t, err)
	return got
}

func TestRunOnce_FullPassCommitsAndPersists(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, "L1", res.LineupID)
	assert.Equal(t, 1, res.Channels, "only the physical tuner channel is fed")
	assert.Equal(t, EditCounts{Inserts: 2}, res.Edits)
	assert.Equal(t, 4*time.Hour, res.RetryIn)

	got := h.stored(t, 100)
	require.Len(t, got, 2)
	assert.Equal(t, "News", got[0].Title)
	assert.Equal(t, int64(100), got[0].ChannelID)
	assert.Empty(t, h.stored(t, 200))

	st, err := h.state.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "L1", st.LineupID)
	assert.Equal(t, "94043", st.PostalCode)
	assert.True(t, st.GuideTimestamp.Equal(h.src.timestamp))
	assert.True(t, st.LastSyncedAt.Equal(now0))
}

func TestRunOnce_SameTimestampIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	calls := h.src.programCalls

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpToDate, res.Outcome)
	assert.Equal(t, 4*time.Hour, res.RetryIn)
	assert.Equal(t, calls, h.src.programCalls, "no programs fetched for an unchanged guide")
}

func TestRunOnce_NewerGuideUpdatesInPlace(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	_, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	before := h.stored(t, 100)

	h.src.set(func(f *fakeSource) {
		f.timestamp = f.timestamp.Add(time.Hour)
		movie := gp("Movie", 35, 155)
		movie.Description = "delayed"
		f.programs[7] = []model.Program{gp("News", 0, 35), movie, gp("Late Show", 155, 200)}
	})

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, EditCounts{Inserts: 1, Updates: 2}, res.Edits)

	after := h.stored(t, 100)
	require.Len(t, after, 3)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
	assert.Equal(t, "delayed", after[1].Description)
}

func TestRunOnce_SourceUnavailable(t *testing.T) {
	h := newHarness(t, Config{})
	h.src.unavailable = true

	res, err := h.engine.RunOnce(context.Background(), KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSourceUnavailable, res.Outcome)
	assert.Equal(t, time.Minute, res.RetryIn)
	assert.Zero(t, h.src.timestampCallCount())
}

func TestRunOnce_ResolutionBacksOffThenWaitsForPeriod(t *testing.T) {
	h := newHarness(t, Config{}, func(d *Deps) { d.Locator = ports.StaticPostalCode("") })
	ctx := context.Background()

	var waits []time.Duration
	for i := 0; i < 10; i++ {
		res, err := h.engine.RunOnce(ctx, KindFull)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoLineup, res.Outcome)
		waits = append(waits, res.RetryIn)
	}

	var total time.Duration
	for i := 0; i < 9; i++ {
		assert.Equal(t, (10*time.Second)<<i, waits[i])
		total += waits[i]
	}
	assert.Less(t, total, 2*time.Hour)
	assert.Equal(t, 4*time.Hour, waits[9], "exhausted backoff falls back to the recurring period")

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, res.RetryIn, "counter starts over")
}

func TestRunOnce_EmptyChannelsUseIndependentBackoff(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.engine.resolveBackoff.Next()
	h.engine.resolveBackoff.Next()
	h.src.set(func(f *fakeSource) { f.channels["L1"] = nil })

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChannels, res.Outcome)
	assert.Equal(t, 10*time.Second, res.RetryIn)

	res, err = h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, res.RetryIn)

	h.src.set(func(f *fakeSource) { f.channels["L1"] = []model.Channel{{ID: 7, DisplayNumber: "2"}} })
	res, err = h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Zero(t, h.engine.emptyBackoff.Attempts())
}

func TestRunOnce_BatchFailureDropsRestOfChannel(t *testing.T) {
	fs := &failingStore{Store: memory.New(), failOn: 2}
	h := newHarness(t, Config{BatchSize: 2}, func(d *Deps) {
		d.Programs = fs
		d.Channels = fs
	})
	require.NoError(t, fs.ReplaceChannels(context.Background(), []model.Channel{
		{ID: 100, InputID: "in0", DisplayNumber: "2", PhysicalTuner: true},
	}))
	var programs []model.Program
	for i := 0; i < 5; i++ {
		programs = append(programs, gp(fmt.Sprintf("P%d", i), i*30, i*30+30))
	}
	h.src.programs[7] = programs
	ctx := context.Background()

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, 1, res.BatchFailures)
	assert.Equal(t, EditCounts{Inserts: 2}, res.Edits)
	require.Len(t, fs.batches, 2, "no batch is attempted after a failure")
	assert.Len(t, fs.batches[0], 2)

	stored, err := fs.AllPrograms(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	st, err := h.state.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.GuideTimestamp.IsZero(), "partial pass keeps the old guide timestamp")

	res, err = h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome, "next pass re-diffs and heals")
	stored, err = fs.AllPrograms(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestRunOnce_DropsProgramsAlreadyOver(t *testing.T) {
	h := newHarness(t, Config{})
	h.src.programs[7] = []model.Program{gp("Over", -60, 0), gp("Now", -5, 25)}

	res, err := h.engine.RunOnce(context.Background(), KindFull)
	require.NoError(t, err)
	assert.Equal(t, EditCounts{Inserts: 1}, res.Edits)
	got := h.stored(t, 100)
	require.Len(t, got, 1)
	assert.Equal(t, "Now", got[0].Title)
}

func TestRunOnce_FastPassBatchesWindows(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var local []model.Channel
	var remote []model.Channel
	for i := 0; i < 60; i++ {
		num := fmt.Sprintf("%d", i+1)
		local = append(local, model.Channel{ID: int64(1000 + i), InputID: "in0", DisplayNumber: num, PhysicalTuner: true})
		remote = append(remote, model.Channel{ID: int64(i + 1), DisplayNumber: num})
	}
	require.NoError(t, h.store.ReplaceChannels(ctx, local))
	h.src.set(func(f *fakeSource) {
		f.channels["L1"] = remote
		f.programs = map[int64][]model.Program{1: {gp("Early", 0, 60)}}
	})
	require.NoError(t, h.state.Save(ctx, State{LineupID: "L1", PostalCode: "94043"}))

	res, err := h.engine.RunOnce(ctx, KindFast)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, EditCounts{Inserts: 1}, res.Edits, "second window re-fetches without edits")

	require.Len(t, h.src.windowCalls, 4)
	assert.Len(t, h.src.windowCalls[0].ids, 50)
	assert.Len(t, h.src.windowCalls[1].ids, 10)
	assert.Equal(t, 3*time.Hour, h.src.windowCalls[0].duration)
	assert.Equal(t, 52*time.Hour, h.src.windowCalls[2].duration)
	assert.Zero(t, h.src.programCalls)

	st, err := h.state.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.GuideTimestamp.IsZero(), "fast pass never persists the guide timestamp")
}

func TestRunOnce_ClearLineupReselects(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.state.Save(ctx, State{LineupID: "stale", PostalCode: "94043", GuideTimestamp: now0}))

	h.engine.StartImmediately(true)
	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, "L1", res.LineupID)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
}

func TestRunOnce_PostalCodeChangeReselects(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.state.Save(ctx, State{LineupID: "old", PostalCode: "10115"}))

	res, err := h.engine.RunOnce(ctx, KindFull)
	require.NoError(t, err)
	assert.Equal(t, "L1", res.LineupID)
}

func TestRunOnce_EmitsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, Config{}, func(d *Deps) { d.Tracer = tp.Tracer("test") })
	_, err := h.engine.RunOnce(context.Background(), KindFull)
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["guidesync.pass"])
	assert.Equal(t, 1, names["guidesync.commit_channel"])
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.BackoffBase = 3 * time.Hour
	assert.Error(t, cfg.Validate())
}
