// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package guidesync keeps the local program guide in step with a remote guide
// source. A single worker runs full and fast passes; each channel's fetched
// programs are merged into the store with a minimal edit script.
package guidesync

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
	"github.com/ManuGH/pvrd/internal/lineup"
	"github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/platform/clock"
	"github.com/ManuGH/pvrd/internal/resilience"
	"github.com/ManuGH/pvrd/internal/telemetry"
)

var (
	ErrNoPhysicalChannels = errors.New("no physical tuner channels")
	ErrAlreadyRunning     = errors.New("guide sync engine already running")
	errNoLineup           = errors.New("no matching lineup")
)

// Kind is the kind of a sync pass.
type Kind string

const (
	KindFull Kind = "full"
	KindFast Kind = "fast"
)

// LineupSelector resolves a postal code to a lineup id.
type LineupSelector interface {
	Select(ctx context.Context, postalCode string) (string, bool, error)
}

// Deps are the collaborators of the engine. Source, Programs and Channels
// are required.
type Deps struct {
	Source   ports.GuideSource
	Programs ports.ProgramStore
	Channels ports.ChannelStore
	Locator  ports.PostalCodeLocator
	Selector LineupSelector
	State    StateStore
	Clock    clock.Clock
	Tracer   trace.Tracer
}

// Status is a snapshot of the engine for status endpoints.
type Status struct {
	Running bool   `json:"running"`
	Paused  bool   `json:"paused"`
	State   State  `json:"state"`
	Last    Result `json:"last_pass"`
}

// Engine is the guide sync engine.
type Engine struct {
	cfg      Config
	source   ports.GuideSource
	programs ports.ProgramStore
	channels ports.ChannelStore
	locator  ports.PostalCodeLocator
	selector LineupSelector
	states   StateStore
	clock    clock.Clock
	tracer   trace.Tracer
	logger   zerolog.Logger

	resolveBackoff *resilience.Backoff
	emptyBackoff   *resilience.Backoff

	// passMu serializes passes.
	passMu sync.Mutex

	mu          sync.Mutex
	state       State
	loaded      bool
	resetLineup bool
	running     bool
	paused      bool
	timers      map[Kind]clock.Timer
	gens        map[Kind]uint64
	queued      map[Kind]bool
	queue       chan Kind
	cancel      context.CancelFunc
	passCancel  context.CancelFunc
	done        chan struct{}
	last        Result
}

// New creates an engine. It does not start the worker.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Source == nil || deps.Programs == nil || deps.Channels == nil {
		return nil, errors.New("guidesync: source, program store and channel store are required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		source:   deps.Source,
		programs: deps.Programs,
		channels: deps.Channels,
		locator:  deps.Locator,
		selector: deps.Selector,
		states:   deps.State,
		clock:    deps.Clock,
		tracer:   deps.Tracer,
		logger:   log.WithComponent("guidesync"),
		timers:   make(map[Kind]clock.Timer),
		gens:     make(map[Kind]uint64),
		queued:   make(map[Kind]bool),
		queue:    make(chan Kind, 2),
	}
	if e.locator == nil {
		e.locator = ports.StaticPostalCode("")
	}
	if e.selector == nil {
		e.selector = lineup.NewSelector(deps.Source, deps.Channels)
	}
	if e.states == nil {
		e.states = &MemoryState{}
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.tracer == nil {
		e.tracer = telemetry.Tracer("pvrd.guidesync")
	}
	e.resolveBackoff = resilience.NewBackoff(cfg.BackoffBase, cfg.RecurringPeriod)
	e.emptyBackoff = resilience.NewBackoff(cfg.BackoffBase, cfg.RecurringPeriod)
	return e, nil
}

// Start launches the worker. It refuses to run without a local physical
// tuner channel. A stale guide triggers an immediate fast fetch followed by
// a full sync; otherwise the next full sync is due one period after the last.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.mu.Unlock()

	chs, err := e.channels.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	if len(model.PhysicalTunerChannels(chs)) == 0 {
		return ErrNoPhysicalChannels
	}
	st, err := e.ensureState(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	go e.loop(runCtx, done)

	now := e.clock.Now()
	if st.LastSyncedAt.IsZero() || now.Sub(st.LastSyncedAt) >= e.cfg.RecurringPeriod {
		e.logger.Info().Str("event", "guide.start_stale").Msg("guide is stale, fetching immediately")
		e.post(KindFast, 0)
		e.post(KindFull, 0)
	} else {
		next := st.LastSyncedAt.Add(e.cfg.RecurringPeriod).Sub(now)
		e.logger.Info().Str("event", "guide.start").Dur("next_sync_in", next).Msg("guide sync engine started")
		e.post(KindFull, next)
	}
	return nil
}

// Stop halts the worker and waits for an in-flight pass to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stopTimersLocked()
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info().Str("event", "guide.stopped").Msg("guide sync engine stopped")
}

// RequestSync queues a pass of the given kind. A request for a kind that is
// already queued is coalesced.
func (e *Engine) RequestSync(fast bool) {
	if fast {
		e.post(KindFast, 0)
		return
	}
	e.post(KindFull, 0)
}

// StartImmediately runs a fast fetch and a full sync now. With clearLineup
// the stored lineup is forgotten and resolved again.
func (e *Engine) StartImmediately(clearLineup bool) {
	if clearLineup {
		e.mu.Lock()
		e.resetLineup = true
		e.mu.Unlock()
	}
	e.post(KindFast, 0)
	e.post(KindFull, 0)
}

// OnChannelScanStarted pauses the engine and cancels an in-flight pass.
func (e *Engine) OnChannelScanStarted() {
	e.mu.Lock()
	e.paused = true
	e.stopTimersLocked()
	if e.passCancel != nil {
		e.passCancel()
	}
	e.mu.Unlock()
	e.logger.Info().Str("event", "guide.paused").Msg("channel scan started, guide sync paused")
}

// OnChannelScanFinished resumes the engine with an immediate fetch.
func (e *Engine) OnChannelScanFinished() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.logger.Info().Str("event", "guide.resumed").Msg("channel scan finished, guide sync resumed")
	e.StartImmediately(false)
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Running: e.running, Paused: e.paused, State: e.state, Last: e.last}
}

// RunOnce runs a single pass synchronously. It is meant for one-shot
// tooling and tests, not for use alongside a started worker.
func (e *Engine) RunOnce(ctx context.Context, kind Kind) (Result, error) {
	if _, err := e.ensureState(ctx); err != nil {
		return Result{}, err
	}
	return e.runPass(ctx, kind), nil
}

func (e *Engine) ensureState(ctx context.Context) (State, error) {
	e.mu.Lock()
	if e.loaded {
		st := e.state
		e.mu.Unlock()
		return st, nil
	}
	e.mu.Unlock()

	st, err := e.states.Load(ctx)
	if err != nil {
		return State{}, fmt.Errorf("load guide state: %w", err)
	}
	e.mu.Lock()
	e.state = st
	e.loaded = true
	e.mu.Unlock()
	return st, nil
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case k := <-e.queue:
			e.mu.Lock()
			e.queued[k] = false
			paused := e.paused
			e.mu.Unlock()
			if paused {
				e.logger.Debug().Str("event", "guide.request_dropped").Str(log.FieldKind, string(k)).Msg("engine paused, dropping request")
				continue
			}

			res := e.runPass(ctx, k)
			if ctx.Err() != nil {
				return
			}
			if res.RetryIn > 0 {
				e.post(k, res.RetryIn)
			}
		}
	}
}

// post schedules a pass of kind k after delay, replacing a pending one.
func (e *Engine) post(k Kind, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused {
		return
	}
	if t := e.timers[k]; t != nil {
		t.Stop()
		delete(e.timers, k)
	}
	e.gens[k]++
	if delay <= 0 {
		e.enqueueLocked(k)
		return
	}
	gen := e.gens[k]
	e.timers[k] = e.clock.AfterFunc(delay, func() { e.fire(k, gen) })
}

func (e *Engine) fire(k Kind, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.paused || e.gens[k] != gen {
		return
	}
	delete(e.timers, k)
	e.enqueueLocked(k)
}

// enqueueLocked queues k unless it is already queued. At most one entry
// per kind is ever in the buffered queue, so the send never blocks.
func (e *Engine) enqueueLocked(k Kind) {
	if e.queued[k] {
		return
	}
	e.queued[k] = true
	select {
	case e.queue <- k:
	default:
		e.queued[k] = false
	}
}

func (e *Engine) stopTimersLocked() {
	for k, t := range e.timers {
		t.Stop()
		delete(e.timers, k)
		e.gens[k]++
	}
}

func (e *Engine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) saveState(ctx context.Context, st State) error {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	if err := e.states.Save(ctx, st); err != nil {
		return fmt.Errorf("save guide state: %w", err)
	}
	return nil
}

func (e *Engine) takeResetLineup() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.resetLineup
	e.resetLineup = false
	return r
}
