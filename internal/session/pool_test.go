// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/pvrd/internal/domain/model"
	"github.com/ManuGH/pvrd/internal/domain/ports"
	"github.com/ManuGH/pvrd/internal/platform/clock/clocktest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	chanA = model.Channel{ID: 1, InputID: "tuner0", URI: "tv://tuner0/1"}
	chanB = model.Channel{ID: 2, InputID: "tuner0", URI: "tv://tuner0/2"}
)

type failingDialer struct{ err error }

func (d failingDialer) Dial(context.Context, string) (Client, error) { return nil, d.err }

type recordingCallback struct {
	ports.NopCallback
	connected chan struct{}
}

func (c *recordingCallback) OnConnected() { close(c.connected) }

type disconnectCallback struct {
	ports.NopCallback
	disconnected chan struct{}
}

func (c *disconnectCallback) OnDisconnected() { close(c.disconnected) }

func newTestPool(t *testing.T, cfg Config) (*Pool, *MemoryLeases, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.New(epoch)
	leases := NewMemoryLeases(clk)
	return NewPool(NullDialer{}, leases, clk, cfg), leases, clk
}

func TestPool_OneSessionPerKey(t *testing.T) {
	pool, leases, _ := newTestPool(t, Config{Default: Capability{MaxTuned: 2}})

	require.True(t, pool.CanAcquire("tuner0", chanA))
	s, err := pool.Acquire("tuner0", chanA)
	require.NoError(t, err)
	defer s.Release()

	_, held := leases.Holder(LeaseKey("tuner0", chanA.ID))
	assert.True(t, held)

	assert.False(t, pool.CanAcquire("tuner0", chanA))
	_, err = pool.Acquire("tuner0", chanA)
	assert.ErrorIs(t, err, ports.ErrSessionUnavailable)

	assert.True(t, pool.CanAcquire("tuner0", chanB), "another channel fits the capability")
}

func TestPool_CapabilityLimitsInput(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{
		Capabilities: map[string]Capability{"tuner0": {MaxTuned: 1}},
	})

	s, err := pool.Acquire("tuner0", chanA)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Active("tuner0"))

	assert.False(t, pool.CanAcquire("tuner0", chanB))
	_, err = pool.Acquire("tuner0", chanB)
	assert.ErrorIs(t, err, ports.ErrSessionUnavailable)

	s.Release()
	assert.Zero(t, pool.Active("tuner0"))
	assert.True(t, pool.CanAcquire("tuner0", chanB))
}

func TestPool_ReleaseIsIdempotent(t *testing.T) {
	pool, leases, _ := newTestPool(t, Config{})

	s, err := pool.Acquire("tuner0", chanA)
	require.NoError(t, err)
	s.Release()
	s.Release()

	assert.Zero(t, pool.Active("tuner0"))
	_, held := leases.Holder(LeaseKey("tuner0", chanA.ID))
	assert.False(t, held)

	assert.ErrorIs(t, s.StartRecord(chanA.URI, "record://pvrd/1"), ports.ErrSessionReleased)
	assert.ErrorIs(t, s.Connect("tuner0", ports.NopCallback{}), ports.ErrSessionReleased)
}

func TestPool_LeaseHeldElsewhere(t *testing.T) {
	pool, leases, _ := newTestPool(t, Config{})
	_, ok, err := leases.TryAcquireLease(context.Background(), LeaseKey("tuner0", chanA.ID), "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = pool.Acquire("tuner0", chanA)
	assert.ErrorIs(t, err, ports.ErrSessionUnavailable)
	assert.Zero(t, pool.Active("tuner0"), "refused acquisition must not keep a slot")
}

func TestPool_DialFailureReleasesLease(t *testing.T) {
	clk := clocktest.New(epoch)
	leases := NewMemoryLeases(clk)
	pool := NewPool(failingDialer{err: errors.New("tuner offline")}, leases, clk, Config{})

	_, err := pool.Acquire("tuner0", chanA)
	require.Error(t, err)

	_, held := leases.Holder(LeaseKey("tuner0", chanA.ID))
	assert.False(t, held)
	assert.True(t, pool.CanAcquire("tuner0", chanA))
}

func TestPool_RenewsLeaseWhileHeld(t *testing.T) {
	pool, leases, clk := newTestPool(t, Config{LeaseTTL: 30 * time.Second})

	s, err := pool.Acquire("tuner0", chanA)
	require.NoError(t, err)
	defer s.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, clk.BlockUntil(ctx, 1))
		clk.Advance(10 * time.Second)
	}
	require.NoError(t, clk.BlockUntil(ctx, 1))

	owner, held := leases.Holder(LeaseKey("tuner0", chanA.ID))
	assert.True(t, held, "lease must outlive its ttl while renewed")
	assert.NotEmpty(t, owner)
}

func TestPool_ConnectChecksInput(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{})
	s, err := pool.Acquire("tuner0", chanA)
	require.NoError(t, err)
	defer s.Release()

	assert.Error(t, s.Connect("tuner1", ports.NopCallback{}))

	cb := &recordingCallback{connected: make(chan struct{})}
	require.NoError(t, s.Connect("tuner0", cb))
	select {
	case <-cb.connected:
	case <-time.After(time.Second):
		t.Fatal("not connected")
	}
	require.NoError(t, s.StartRecord(chanA.URI, "record://pvrd/1"))
	require.NoError(t, s.StopRecord())
	assert.Equal(t, ports.KindRecording, s.Kind())
}

func TestPool_Playback(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{})
	s, err := pool.AcquirePlayback("tuner0", chanA)
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, ports.KindPlayback, s.Kind())
	require.NoError(t, s.Connect("tuner0", ports.NopCallback{}))
	require.NoError(t, s.Tune(chanA.URI))
	require.NoError(t, s.Stop())
	assert.False(t, pool.CanAcquire("tuner0", chanA))
}

func TestPool_LeaseLossDisconnectsSession(t *testing.T) {
	pool, leases, clk := newTestPool(t, Config{LeaseTTL: 30 * time.Second})
	key := LeaseKey("tuner0", chanA.ID)

	s, err := pool.Acquire("tuner0", chanA)
	require.NoError(t, err)
	defer s.Release()

	cb := &disconnectCallback{disconnected: make(chan struct{})}
	require.NoError(t, s.Connect("tuner0", cb))

	// jump past the ttl so the first renewal finds the lease expired
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clk.BlockUntil(ctx, 1))
	clk.Advance(31 * time.Second)

	select {
	case <-cb.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("lost lease was not reported")
	}
	assert.ErrorIs(t, s.StartRecord(chanA.URI, "record://pvrd/1"), ports.ErrLeaseLost)

	_, ok, err := leases.TryAcquireLease(context.Background(), key, "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease must be free for another owner")

	s.Release()
	assert.Zero(t, pool.Active("tuner0"))
	owner, held := leases.Holder(key)
	assert.True(t, held)
	assert.Equal(t, "other-process", owner, "release must not drop the new owner's lease")
}
