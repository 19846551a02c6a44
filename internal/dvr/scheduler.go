// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dvr arms the recording wake-up and runs one task per recording.
package dvr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/metrics"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Deps are the collaborators of a Scheduler. Store and Pool are required.
type Deps struct {
	Store  ports.RecordingStore
	Pool   ports.SessionPool
	Alarm  Alarm
	Clock  clock.Clock
	Tracer trace.Tracer
}

type liveTask struct {
	task   *Task
	rec    model.Recording
	cancel context.CancelFunc
}

// Scheduler keeps a single alarm armed for the earliest NOT_STARTED recording
// and spawns a Task once a recording is about to start.
type Scheduler struct {
	store  ports.RecordingStore
	pool   ports.SessionPool
	alarm  Alarm
	clock  clock.Clock
	tracer trace.Tracer
	cfg    Config
	logger zerolog.Logger

	reconcileMu sync.Mutex
	armed       time.Time // zero when no alarm is armed

	mu      sync.Mutex
	tasks   map[int64]*liveTask
	taskCtx context.Context
	cancel  context.CancelFunc
	kick    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func New(deps Deps, cfg Config) (*Scheduler, error) {
	if deps.Store == nil || deps.Pool == nil {
		return nil, errors.New("dvr: store and session pool are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Alarm == nil {
		deps.Alarm = NewTimerAlarm(deps.Clock)
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer("pvrd.dvr")
	}
	return &Scheduler{
		store:  deps.Store,
		pool:   deps.Pool,
		alarm:  deps.Alarm,
		clock:  deps.Clock,
		tracer: deps.Tracer,
		cfg:    cfg.withDefaults(),
		logger: xglog.WithComponent("dvr"),
		tasks:  make(map[int64]*liveTask),
		kick:   make(chan struct{}, 1),
	}, nil
}

// Start arms the alarm and runs the scheduling loop until Stop or ctx ends.
// A stopped scheduler may be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.taskCtx, s.cancel, s.done = taskCtx, cancel, done
	s.mu.Unlock()

	if err := s.reconcile(ctx, true); err != nil {
		s.logger.Warn().Err(err).Msg("initial scheduling failed")
	}

	go s.loop(ctx, taskCtx, cancel, done)
	return nil
}

// Stop cancels every live task and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	done, cancel := s.done, s.cancel
	s.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()

	s.reconcileMu.Lock()
	if !s.armed.IsZero() {
		s.alarm.Cancel()
		s.armed = time.Time{}
		metrics.SetSchedulerWake(time.Time{})
	}
	s.reconcileMu.Unlock()

	s.mu.Lock()
	if s.done == done {
		s.taskCtx, s.cancel, s.done = nil, nil, nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx, taskCtx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			cancel()
			return
		case <-taskCtx.Done():
			return
		case at := <-s.alarm.C():
			s.logger.Debug().Time(xglog.FieldWakeAt, at).Msg("alarm fired")
			s.reconcileMu.Lock()
			s.armed = time.Time{}
			s.reconcileMu.Unlock()
			if err := s.reconcile(ctx, true); err != nil {
				s.logger.Error().Err(err).Msg("scheduling after alarm failed")
			}
		case <-s.kick:
			if err := s.reconcile(ctx, true); err != nil {
				s.logger.Error().Err(err).Msg("rescheduling failed")
			}
		}
	}
}

// Update recomputes the earliest upcoming start and re-arms the alarm.
// It is a no-op when the wake-up did not change.
func (s *Scheduler) Update(ctx context.Context) error {
	return s.reconcile(ctx, false)
}

// StartsWithin reports whether r starts at most window from now.
func (s *Scheduler) StartsWithin(r model.Recording, window time.Duration) bool {
	return !s.clock.Now().Before(r.Start.Add(-window))
}

// Tasks returns the ids of recordings with a live task.
func (s *Scheduler) Tasks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) reconcile(ctx context.Context, spawn bool) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	recs, err := s.store.Recordings(ctx)
	if err != nil {
		return fmt.Errorf("load recordings: %w", err)
	}
	model.SortByStartThenPriority(recs)
	now := s.clock.Now()

	var earliest time.Time
	for _, r := range recs {
		if r.State != model.RecordingNotStarted {
			continue
		}
		if s.hasTask(r.ID) {
			continue
		}
		if !r.End.After(now) {
			s.markMissed(ctx, r)
			continue
		}
		if spawn && s.StartsWithin(r, s.cfg.SoonWindow) && s.spawn(r) {
			continue
		}
		if earliest.IsZero() || r.Start.Before(earliest) {
			earliest = r.Start
		}
	}

	s.arm(earliest)
	return nil
}

func (s *Scheduler) arm(earliest time.Time) {
	if earliest.IsZero() {
		if !s.armed.IsZero() {
			s.alarm.Cancel()
			s.armed = time.Time{}
			metrics.SetSchedulerWake(time.Time{})
			s.logger.Debug().Msg("alarm cancelled")
		}
		return
	}
	wake := earliest.Add(-s.cfg.WakeLead)
	if wake.Equal(s.armed) {
		return
	}
	s.alarm.Set(wake)
	s.armed = wake
	metrics.SetSchedulerWake(wake)
	s.logger.Debug().Time(xglog.FieldWakeAt, wake).Msg("alarm armed")
}

// markMissed fails a recording whose window passed without a task.
func (s *Scheduler) markMissed(ctx context.Context, r model.Recording) {
	r.State = model.RecordingFailed
	r.FailureReason = model.StopReasonUnknown
	if err := s.store.UpdateRecording(ctx, r); err != nil {
		s.logger.Warn().Err(err).Int64(xglog.FieldRecordingID, r.ID).Msg("mark missed recording")
		return
	}
	metrics.RecordRecordingFailure(r.FailureReason.String())
	s.logger.Warn().
		Str(xglog.FieldEvent, "recording.missed").
		Int64(xglog.FieldRecordingID, r.ID).
		Msg("recording window passed before it could start")
}

func (s *Scheduler) hasTask(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// spawn starts a task for r. It returns false when no loop is running.
func (s *Scheduler) spawn(r model.Recording) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskCtx == nil || s.taskCtx.Err() != nil {
		return false
	}
	if _, ok := s.tasks[r.ID]; ok {
		return true
	}
	ctx, cancel := context.WithCancel(s.taskCtx)
	task := NewTask(r, s.store, s.pool, s.clock, s.cfg)
	task.tracer = s.tracer
	lt := &liveTask{task: task, rec: r, cancel: cancel}
	s.tasks[r.ID] = lt

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		task.Run(ctx)
		s.mu.Lock()
		if s.tasks[r.ID] == lt {
			delete(s.tasks, r.ID)
		}
		s.mu.Unlock()
		s.poke()
	}()

	s.logger.Info().
		Str(xglog.FieldEvent, "recording.task_spawned").
		Int64(xglog.FieldRecordingID, r.ID).
		Time("start", r.Start).
		Msg("recording task spawned")
	return true
}

func (s *Scheduler) cancelTask(id int64) {
	s.mu.Lock()
	lt, ok := s.tasks[id]
	s.mu.Unlock()
	if ok {
		lt.cancel()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// OnRecordingAdded reschedules so a recording due soon starts right away.
func (s *Scheduler) OnRecordingAdded(model.Recording) { s.poke() }

// OnRecordingRemoved cancels the recording's live task.
func (s *Scheduler) OnRecordingRemoved(r model.Recording) {
	s.cancelTask(r.ID)
	s.poke()
}

// OnRecordingChanged cancels a pending task whose schedule moved and any task
// of a deleted recording.
func (s *Scheduler) OnRecordingChanged(r model.Recording) {
	s.mu.Lock()
	lt, ok := s.tasks[r.ID]
	s.mu.Unlock()
	if ok {
		switch {
		case r.State == model.RecordingDeleted:
			lt.cancel()
		case r.State == model.RecordingNotStarted && scheduleChanged(lt.rec, r):
			lt.cancel()
		}
	}
	s.poke()
}

func scheduleChanged(a, b model.Recording) bool {
	return !a.Start.Equal(b.Start) || !a.End.Equal(b.End) || a.ChannelID != b.ChannelID
}

var _ ports.RecordingListener = (*Scheduler)(nil)
