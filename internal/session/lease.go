// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/pvrd/internal/platform/clock"
)

var ErrInvalidTTL = errors.New("lease ttl must be positive")

// Lease is a single-holder lock on one (input, channel) key.
type Lease struct {
	Key       string
	Owner     string
	ExpiresAt time.Time
}

// LeaseRegistry grants at most one live lease per key. Expired leases are
// treated as absent.
type LeaseRegistry interface {
	// TryAcquireLease returns ok=false when another owner holds key.
	// Re-acquiring by the same owner extends the lease.
	TryAcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error)
	// RenewLease returns ok=false when owner no longer holds key.
	RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error)
	// ReleaseLease deletes key only while owner holds it.
	ReleaseLease(ctx context.Context, key, owner string) error
}

// LeaseKey returns the registry key of a session on channelID of inputID.
func LeaseKey(inputID string, channelID int64) string {
	return "lease:" + inputID + ":" + strconv.FormatInt(channelID, 10)
}

type leaseState struct {
	owner string
	exp   time.Time
}

// MemoryLeases is a process-local LeaseRegistry.
type MemoryLeases struct {
	clock clock.Clock

	mu     sync.Mutex
	leases map[string]leaseState
}

func NewMemoryLeases(c clock.Clock) *MemoryLeases {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryLeases{clock: c, leases: make(map[string]leaseState)}
}

func (m *MemoryLeases) TryAcquireLease(_ context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return Lease{}, false, ErrInvalidTTL
	}
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.leases[key]; ok && now.Before(ls.exp) && ls.owner != owner {
		return Lease{}, false, nil
	}
	exp := now.Add(ttl)
	m.leases[key] = leaseState{owner: owner, exp: exp}
	return Lease{Key: key, Owner: owner, ExpiresAt: exp}, true, nil
}

func (m *MemoryLeases) RenewLease(_ context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return Lease{}, false, ErrInvalidTTL
	}
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.leases[key]
	if !ok || ls.owner != owner || !now.Before(ls.exp) {
		return Lease{}, false, nil
	}
	ls.exp = now.Add(ttl)
	m.leases[key] = ls
	return Lease{Key: key, Owner: owner, ExpiresAt: ls.exp}, true, nil
}

func (m *MemoryLeases) ReleaseLease(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.leases[key]; ok && ls.owner == owner {
		delete(m.leases, key)
	}
	return nil
}

// Holder returns the live owner of key.
func (m *MemoryLeases) Holder(key string) (string, bool) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.leases[key]
	if !ok || !now.Before(ls.exp) {
		return "", false
	}
	return ls.owner, true
}
