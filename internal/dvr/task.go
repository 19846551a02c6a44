// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/metrics"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

// TaskState is the in-memory progress of a recording task.
type TaskState int32

const (
	TaskIdle TaskState = iota
	TaskAcquiring
	TaskConnected
	TaskRecording
	TaskStopping
	TaskFinished
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "IDLE"
	case TaskAcquiring:
		return "ACQUIRING"
	case TaskConnected:
		return "CONNECTED"
	case TaskRecording:
		return "RECORDING"
	case TaskStopping:
		return "STOPPING"
	case TaskFinished:
		return "FINISHED"
	case TaskFailed:
		return "FAILED"
	}
	return fmt.Sprintf("TaskState(%d)", int32(s))
}

// Task outcomes reported to metrics.
const (
	outcomeFinished  = "finished"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

var errConnectTimeout = errors.New("session did not connect in time")

type sessionEventKind int

const (
	eventConnected sessionEventKind = iota
	eventDisconnected
	eventRecordStarted
	eventRecordStopped
)

type sessionEvent struct {
	kind   sessionEventKind
	uri    string
	reason model.StopReason
}

// taskCallback forwards session callbacks to the task goroutine.
type taskCallback struct {
	ports.NopCallback
	events chan<- sessionEvent
	done   <-chan struct{}
}

func (c *taskCallback) send(ev sessionEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *taskCallback) OnConnected()    { c.send(sessionEvent{kind: eventConnected}) }
func (c *taskCallback) OnDisconnected() { c.send(sessionEvent{kind: eventDisconnected}) }
func (c *taskCallback) OnRecordStarted(uri string) {
	c.send(sessionEvent{kind: eventRecordStarted, uri: uri})
}
func (c *taskCallback) OnRecordStopped(uri string, reason model.StopReason) {
	c.send(sessionEvent{kind: eventRecordStopped, uri: uri, reason: reason})
}

// Task drives one recording from its start to a terminal state.
type Task struct {
	rec    model.Recording
	store  ports.RecordingStore
	pool   ports.SessionPool
	clock  clock.Clock
	tracer trace.Tracer
	cfg    Config
	logger zerolog.Logger

	state atomic.Int32
}

// NewTask returns an idle task for rec.
func NewTask(rec model.Recording, store ports.RecordingStore, pool ports.SessionPool, clk clock.Clock, cfg Config) *Task {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Task{
		rec:    rec,
		store:  store,
		pool:   pool,
		clock:  clk,
		tracer: telemetry.Tracer("pvrd.dvr"),
		cfg:    cfg.withDefaults(),
		logger: xglog.WithComponent("dvr").With().Int64(xglog.FieldRecordingID, rec.ID).Logger(),
	}
}

func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

func (t *Task) setState(s TaskState) {
	old := TaskState(t.state.Swap(int32(s)))
	if old != s {
		t.logger.Debug().
			Str(xglog.FieldOldState, old.String()).
			Str(xglog.FieldNewState, s.String()).
			Msg("task state")
	}
}

// Run blocks until the recording reaches a terminal state or ctx is cancelled.
// Cancellation before the session connects leaves the recording NOT_STARTED.
func (t *Task) Run(ctx context.Context) {
	ctx = xglog.ContextWithRecordingID(ctx, t.rec.ID)
	ctx, span := t.tracer.Start(ctx, "dvr.recording_task",
		trace.WithAttributes(telemetry.RecordingAttributes(t.rec.ID, t.rec.ChannelID, t.rec.InputID())...))
	defer span.End()

	metrics.TaskStarted()
	outcome := t.run(ctx)
	metrics.TaskDone(outcome)
	span.SetAttributes(attribute.String(telemetry.RecordingStateKey, t.State().String()))
	if outcome == outcomeFailed {
		span.SetAttributes(telemetry.ErrorAttributes(t.rec.FailureReason.String())...)
		span.SetStatus(codes.Error, "recording failed")
	}
}

func (t *Task) run(ctx context.Context) string {
	if !t.sleepUntil(ctx, t.rec.Start) {
		return outcomeCancelled
	}

	cur, err := t.store.Recording(ctx, t.rec.ID)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			t.logger.Error().Err(err).Msg("reload recording")
		}
		return outcomeCancelled
	}
	if cur.State != model.RecordingNotStarted {
		t.logger.Info().Str("state", string(cur.State)).Msg("recording no longer scheduled")
		return outcomeCancelled
	}
	t.rec = cur

	t.setState(TaskAcquiring)
	inputID := t.rec.InputID()
	if !t.pool.CanAcquire(inputID, t.rec.Channel) {
		return t.fail(ctx, model.StopReasonConflict, ports.ErrSessionUnavailable)
	}
	sess, err := t.pool.Acquire(inputID, t.rec.Channel)
	if err != nil {
		return t.fail(ctx, model.StopReasonConflict, err)
	}

	events := make(chan sessionEvent, 4)
	done := make(chan struct{})
	defer close(done)
	cb := &taskCallback{events: events, done: done}

	if err := sess.Connect(inputID, cb); err != nil {
		sess.Release()
		return t.fail(ctx, model.StopReasonConnectFailed, err)
	}
	ok, err := t.awaitConnected(ctx, events)
	if err != nil {
		sess.Release()
		return t.fail(ctx, model.StopReasonConnectFailed, err)
	}
	if !ok {
		sess.Release()
		return outcomeCancelled
	}
	t.setState(TaskConnected)

	mediaURI := model.MediaURIFor(t.rec)
	if err := sess.StartRecord(t.rec.Channel.URI, mediaURI); err != nil {
		sess.Release()
		return t.fail(ctx, model.StopReasonConnectFailed, err)
	}
	t.setState(TaskRecording)
	t.persist(ctx, model.RecordingInProgress, func(r *model.Recording) { r.MediaURI = mediaURI })
	t.logger.Info().
		Str(xglog.FieldEvent, "recording.started").
		Str(xglog.FieldInputID, inputID).
		Int64(xglog.FieldChannelID, t.rec.ChannelID).
		Time("end", t.rec.End).
		Msg("recording started")

	timer := t.clock.NewTimer(clock.Until(t.clock, t.rec.End.Add(t.cfg.PostRecordGrace)))
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			return t.stop(ctx, sess)
		case <-ctx.Done():
			t.logger.Info().Str(xglog.FieldEvent, "recording.cancelled").Msg("recording cancelled")
			return t.stop(ctx, sess)
		case ev := <-events:
			switch ev.kind {
			case eventRecordStopped:
				sess.Release()
				return t.fail(ctx, ev.reason, nil)
			case eventDisconnected:
				sess.Release()
				return t.fail(ctx, model.StopReasonDisconnected, nil)
			}
		}
	}
}

// sleepUntil returns false when ctx ends first.
func (t *Task) sleepUntil(ctx context.Context, at time.Time) bool {
	d := clock.Until(t.clock, at)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := t.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-ctx.Done():
		return false
	}
}

// awaitConnected returns false without an error when ctx ends first.
func (t *Task) awaitConnected(ctx context.Context, events <-chan sessionEvent) (bool, error) {
	timer := t.clock.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case eventConnected:
				return true, nil
			case eventDisconnected:
				return false, ports.ErrSessionUnavailable
			}
		case <-timer.C():
			return false, errConnectTimeout
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (t *Task) stop(ctx context.Context, sess ports.RecordingSession) string {
	t.setState(TaskStopping)
	if err := sess.StopRecord(); err != nil {
		t.logger.Warn().Err(err).Msg("stop record")
	}
	sess.Release()
	t.persist(ctx, model.RecordingFinished, nil)
	t.setState(TaskFinished)
	t.logger.Info().Str(xglog.FieldEvent, "recording.finished").Msg("recording finished")
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	return outcomeFinished
}

func (t *Task) fail(ctx context.Context, reason model.StopReason, cause error) string {
	t.persist(ctx, model.RecordingFailed, func(r *model.Recording) { r.FailureReason = reason })
	t.rec.FailureReason = reason
	t.setState(TaskFailed)
	metrics.RecordRecordingFailure(reason.String())
	ev := t.logger.Warn().
		Str(xglog.FieldEvent, "recording.failed").
		Str(xglog.FieldReason, reason.String())
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("recording failed")
	return outcomeFailed
}

// persist moves the stored recording to state. A recording removed in the
// meantime is left alone.
func (t *Task) persist(ctx context.Context, state model.RecordingState, mutate func(*model.Recording)) {
	ctx = context.WithoutCancel(ctx)
	cur, err := t.store.Recording(ctx, t.rec.ID)
	if errors.Is(err, ports.ErrNotFound) {
		return
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("load recording for update")
		return
	}
	if cur.State == state {
		return
	}
	if !model.CanTransition(cur.State, state) {
		t.logger.Warn().
			Str(xglog.FieldOldState, string(cur.State)).
			Str(xglog.FieldNewState, string(state)).
			Msg("skip recording update")
		return
	}
	cur.State = state
	if mutate != nil {
		mutate(&cur)
	}
	if err := t.store.UpdateRecording(ctx, cur); err != nil {
		t.logger.Error().Err(err).Str(xglog.FieldNewState, string(state)).Msg("persist recording state")
		return
	}
	t.rec = cur
}
