// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package leasetest is a behavioural test suite every lease registry must pass.
package leasetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/pvrd/internal/session"
)

// Run exercises reg. expire must make every lease older than its argument lapse.
func Run(t *testing.T, reg session.LeaseRegistry, expire func(time.Duration)) {
	ctx := context.Background()
	ttl := 10 * time.Second

	t.Run("SingleHolder", func(t *testing.T) {
		l, ok, err := reg.TryAcquireLease(ctx, "k1", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "k1", l.Key)
		assert.Equal(t, "a", l.Owner)

		_, ok, err = reg.TryAcquireLease(ctx, "k1", "b", ttl)
		require.NoError(t, err)
		assert.False(t, ok, "second owner must be refused")

		_, ok, err = reg.TryAcquireLease(ctx, "k1", "a", ttl)
		require.NoError(t, err)
		assert.True(t, ok, "same owner re-enters")
	})

	t.Run("ReleaseComparesOwner", func(t *testing.T) {
		_, ok, err := reg.TryAcquireLease(ctx, "k2", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, reg.ReleaseLease(ctx, "k2", "b"))
		_, ok, err = reg.TryAcquireLease(ctx, "k2", "b", ttl)
		require.NoError(t, err)
		assert.False(t, ok, "foreign release must not free the key")

		require.NoError(t, reg.ReleaseLease(ctx, "k2", "a"))
		_, ok, err = reg.TryAcquireLease(ctx, "k2", "b", ttl)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RenewRequiresOwnership", func(t *testing.T) {
		_, ok, err := reg.TryAcquireLease(ctx, "k3", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = reg.RenewLease(ctx, "k3", "a", ttl)
		require.NoError(t, err)
		assert.True(t, ok)

		_, ok, err = reg.RenewLease(ctx, "k3", "b", ttl)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = reg.RenewLease(ctx, "missing", "a", ttl)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ExpiredLeaseIsFree", func(t *testing.T) {
		_, ok, err := reg.TryAcquireLease(ctx, "k4", "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)

		expire(ttl)
		_, ok, err = reg.RenewLease(ctx, "k4", "a", ttl)
		require.NoError(t, err)
		assert.False(t, ok, "expired lease cannot be renewed")

		_, ok, err = reg.TryAcquireLease(ctx, "k4", "b", ttl)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RejectsNonPositiveTTL", func(t *testing.T) {
		_, _, err := reg.TryAcquireLease(ctx, "k5", "a", 0)
		assert.ErrorIs(t, err, session.ErrInvalidTTL)
		_, _, err = reg.RenewLease(ctx, "k5", "a", -time.Second)
		assert.ErrorIs(t, err, session.ErrInvalidTTL)
	})
}
