// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pvrd/internal/platform/clock/clocktest"
	"github.com/ManuGH/pvrd/internal/session"
	"github.com/ManuGH/pvrd/internal/session/leasetest"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLeaseKey(t *testing.T) {
	assert.Equal(t, "lease:tuner0:42", session.LeaseKey("tuner0", 42))
}

func TestMemoryLeases(t *testing.T) {
	clk := clocktest.New(epoch)
	leasetest.Run(t, session.NewMemoryLeases(clk), clk.Advance)
}

func TestMemoryLeases_Holder(t *testing.T) {
	clk := clocktest.New(epoch)
	reg := session.NewMemoryLeases(clk)
	_, ok, err := reg.TryAcquireLease(context.Background(), "k", "owner", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	holder, ok := reg.Holder("k")
	assert.True(t, ok)
	assert.Equal(t, "owner", holder)

	clk.Advance(time.Second)
	_, ok = reg.Holder("k")
	assert.False(t, ok)
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *session.RedisLeases) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	leases := session.NewRedisLeasesFromClient(client, "test:")
	t.Cleanup(func() { _ = leases.Close() })
	return mr, leases
}

func TestRedisLeases(t *testing.T) {
	mr, leases := setupMiniRedis(t)
	leasetest.Run(t, leases, mr.FastForward)
}

func TestRedisLeases_StoresOwnerUnderPrefix(t *testing.T) {
	mr, leases := setupMiniRedis(t)
	_, ok, err := leases.TryAcquireLease(context.Background(), session.LeaseKey("tuner0", 7), "owner-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := mr.Get("test:lease:tuner0:7")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got)
	assert.Equal(t, time.Minute, mr.TTL("test:lease:tuner0:7"))
}

func TestNewRedisLeases_PingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := session.NewRedisLeases(context.Background(), session.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
