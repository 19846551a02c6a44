// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session hands out leased tuner sessions to recording tasks.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
	"github.com/ManuGH/pvrd/internal/metrics"
	"github.com/ManuGH/pvrd/internal/platform/clock"
)

const (
	defaultLeaseTTL   = 30 * time.Second
	leaseCallTimeout  = 5 * time.Second
	acquireGranted    = "granted"
	acquireAtCapacity = "capacity"
	acquireLeased     = "leased"
	acquireError      = "error"
)

// Client is a connection to the tuner layer for one input.
type Client interface {
	Connect(inputID string, cb ports.Callback) error
	StartRecord(channelURI, mediaURI string) error
	StopRecord() error
	Delete(mediaURI string) error
	Tune(channelURI string) error
	StopTune() error
	Close() error
}

// Dialer creates tuner-layer clients.
type Dialer interface {
	Dial(ctx context.Context, inputID string) (Client, error)
}

// Capability limits the sessions one input can serve at a time.
type Capability struct {
	MaxTuned int `yaml:"maxTuned"`
}

type Config struct {
	LeaseTTL     time.Duration
	Default      Capability
	Capabilities map[string]Capability
}

// Pool grants at most one session per (input, channel) and at most
// Capability.MaxTuned sessions per input.
type Pool struct {
	dialer Dialer
	leases LeaseRegistry
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	active map[string]int
	held   map[string]struct{}
}

func NewPool(dialer Dialer, leases LeaseRegistry, clk clock.Clock, cfg Config) *Pool {
	if clk == nil {
		clk = clock.Real{}
	}
	if leases == nil {
		leases = NewMemoryLeases(clk)
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.Default.MaxTuned <= 0 {
		cfg.Default.MaxTuned = 1
	}
	return &Pool{
		dialer: dialer,
		leases: leases,
		clock:  clk,
		cfg:    cfg,
		logger: xglog.WithComponent("session"),
		active: make(map[string]int),
		held:   make(map[string]struct{}),
	}
}

func (p *Pool) capability(inputID string) Capability {
	if c, ok := p.cfg.Capabilities[inputID]; ok && c.MaxTuned > 0 {
		return c
	}
	return p.cfg.Default
}

// Active returns the live session count of inputID.
func (p *Pool) Active(inputID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[inputID]
}

// CanAcquire reports whether a session for ch on inputID would be granted
// by this process right now.
func (p *Pool) CanAcquire(inputID string, ch model.Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canAcquireLocked(inputID, LeaseKey(inputID, ch.ID)) == nil
}

func (p *Pool) canAcquireLocked(inputID, key string) error {
	if p.active[inputID] >= p.capability(inputID).MaxTuned {
		return fmt.Errorf("%w: input %s at capacity", ports.ErrSessionUnavailable, inputID)
	}
	if _, ok := p.held[key]; ok {
		return fmt.Errorf("%w: %s already leased", ports.ErrSessionUnavailable, key)
	}
	return nil
}

// Acquire leases a recording session for ch on inputID.
func (p *Pool) Acquire(inputID string, ch model.Channel) (ports.RecordingSession, error) {
	h, err := p.acquire(inputID, ch, ports.KindRecording)
	if err != nil {
		return nil, err
	}
	return &recordingSession{handle: h}, nil
}

// AcquirePlayback leases a live playback session for ch on inputID.
func (p *Pool) AcquirePlayback(inputID string, ch model.Channel) (ports.PlaybackSession, error) {
	h, err := p.acquire(inputID, ch, ports.KindPlayback)
	if err != nil {
		return nil, err
	}
	return &playbackSession{handle: h}, nil
}

func (p *Pool) acquire(inputID string, ch model.Channel, kind ports.SessionKind) (*handle, error) {
	key := LeaseKey(inputID, ch.ID)
	logger := p.logger.With().Str(xglog.FieldInputID, inputID).Str(xglog.FieldLeaseKey, key).Logger()

	p.mu.Lock()
	if err := p.canAcquireLocked(inputID, key); err != nil {
		p.mu.Unlock()
		metrics.RecordSessionAcquire(acquireAtCapacity)
		return nil, err
	}
	p.active[inputID]++
	p.held[key] = struct{}{}
	metrics.SetSessionsActive(inputID, p.active[inputID])
	p.mu.Unlock()

	owner := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()

	lease, ok, err := p.leases.TryAcquireLease(ctx, key, owner, p.cfg.LeaseTTL)
	if err != nil {
		p.unreserve(inputID, key)
		metrics.RecordSessionAcquire(acquireError)
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		p.unreserve(inputID, key)
		metrics.RecordSessionAcquire(acquireLeased)
		return nil, fmt.Errorf("%w: %s held elsewhere", ports.ErrSessionUnavailable, key)
	}

	client, err := p.dialer.Dial(ctx, inputID)
	if err != nil {
		p.releaseLease(key, owner)
		p.unreserve(inputID, key)
		metrics.RecordSessionAcquire(acquireError)
		return nil, fmt.Errorf("dial input %s: %w", inputID, err)
	}

	metrics.RecordSessionAcquire(acquireGranted)
	logger.Debug().Str("owner", owner).Time("expires_at", lease.ExpiresAt).Msg("session granted")

	h := &handle{
		pool:      p,
		kind:      kind,
		inputID:   inputID,
		key:       key,
		owner:     owner,
		client:    client,
		logger:    logger,
		expiresAt: lease.ExpiresAt,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.renew()
	return h, nil
}

func (p *Pool) unreserve(inputID, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.held, key)
	if p.active[inputID] > 0 {
		p.active[inputID]--
	}
	metrics.SetSessionsActive(inputID, p.active[inputID])
}

func (p *Pool) releaseLease(key, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()
	if err := p.leases.ReleaseLease(ctx, key, owner); err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldLeaseKey, key).Msg("release lease")
	}
}

// handle owns one lease and one client until Release. Once the lease is
// lost every call fails and the connected callback sees OnDisconnected.
type handle struct {
	pool      *Pool
	kind      ports.SessionKind
	inputID   string
	key       string
	owner     string
	client    Client
	logger    zerolog.Logger
	expiresAt time.Time // only touched by renew

	once     sync.Once
	mu       sync.Mutex
	released bool
	lost     bool
	cb       ports.Callback
	stop     chan struct{}
	done     chan struct{}
}

func (h *handle) Kind() ports.SessionKind { return h.kind }

func (h *handle) live() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ports.ErrSessionReleased
	}
	if h.lost {
		return ports.ErrLeaseLost
	}
	return nil
}

func (h *handle) Connect(inputID string, cb ports.Callback) error {
	if err := h.live(); err != nil {
		return err
	}
	if inputID != h.inputID {
		return fmt.Errorf("session leased for input %s, not %s", h.inputID, inputID)
	}
	h.mu.Lock()
	h.cb = cb
	h.mu.Unlock()
	return h.client.Connect(inputID, cb)
}

func (h *handle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()

		close(h.stop)
		<-h.done
		if err := h.client.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("close tuner client")
		}
		h.pool.releaseLease(h.key, h.owner)
		h.pool.unreserve(h.inputID, h.key)
		h.logger.Debug().Msg("session released")
	})
}

// renew keeps the lease alive until Release. Failed renewals are retried
// until the lease would have expired.
func (h *handle) renew() {
	defer close(h.done)
	interval := h.pool.cfg.LeaseTTL / 3
	for {
		timer := h.pool.clock.NewTimer(interval)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-timer.C():
		}

		ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
		lease, ok, err := h.pool.leases.RenewLease(ctx, h.key, h.owner, h.pool.cfg.LeaseTTL)
		cancel()
		switch {
		case err != nil:
			h.logger.Warn().Err(err).Msg("renew lease")
			if h.pool.clock.Now().Before(h.expiresAt) {
				continue
			}
		case ok:
			h.expiresAt = lease.ExpiresAt
			continue
		}
		h.markLost()
		return
	}
}

func (h *handle) markLost() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.lost = true
	cb := h.cb
	h.mu.Unlock()

	metrics.RecordSessionLeaseLost()
	h.logger.Error().Str(xglog.FieldEvent, "session.lease_lost").Msg("lease lost")
	if cb != nil {
		// Release waits for renew to exit, so the callback must not run inline.
		go cb.OnDisconnected()
	}
}

type recordingSession struct {
	*handle
}

func (s *recordingSession) StartRecord(channelURI, mediaURI string) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.client.StartRecord(channelURI, mediaURI)
}

func (s *recordingSession) StopRecord() error {
	if err := s.live(); err != nil {
		return err
	}
	return s.client.StopRecord()
}

func (s *recordingSession) Delete(mediaURI string) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.client.Delete(mediaURI)
}

type playbackSession struct {
	*handle
}

func (s *playbackSession) Tune(channelURI string) error {
	if err := s.live(); err != nil {
		return err
	}
	return s.client.Tune(channelURI)
}

func (s *playbackSession) Stop() error {
	if err := s.live(); err != nil {
		return err
	}
	return s.client.StopTune()
}

var (
	_ ports.SessionPool      = (*Pool)(nil)
	_ ports.RecordingSession = (*recordingSession)(nil)
	_ ports.PlaybackSession  = (*playbackSession)(nil)
	_ LeaseRegistry          = (*MemoryLeases)(nil)
	_ LeaseRegistry          = (*RedisLeases)(nil)
)
