// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/pvrd/internal/session"
)

var _ session.LeaseRegistry = (*Store)(nil)

// TryAcquireLease inserts the lease or takes over one that is expired or
// already held by owner.
func (s *Store) TryAcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (session.Lease, bool, error) {
	if ttl <= 0 {
		return session.Lease{}, false, session.ErrInvalidTTL
	}
	now := s.clock.Now()
	exp := now.Add(ttl)
	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO leases (key, owner, expires_ms) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		owner = excluded.owner,
		expires_ms = excluded.expires_ms
	WHERE leases.owner = excluded.owner OR leases.expires_ms <= ?
	`, key, owner, toMillis(exp), toMillis(now))
	if err != nil {
		return session.Lease{}, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return session.Lease{}, false, err
	}
	if n == 0 {
		return session.Lease{}, false, nil
	}
	return session.Lease{Key: key, Owner: owner, ExpiresAt: exp}, true, nil
}

func (s *Store) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (session.Lease, bool, error) {
	if ttl <= 0 {
		return session.Lease{}, false, session.ErrInvalidTTL
	}
	now := s.clock.Now()
	exp := now.Add(ttl)
	res, err := s.DB.ExecContext(ctx, `UPDATE leases SET expires_ms = ? WHERE key = ? AND owner = ? AND expires_ms > ?`,
		toMillis(exp), key, owner, toMillis(now))
	if err != nil {
		return session.Lease{}, false, fmt.Errorf("renew lease %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return session.Lease{}, false, err
	}
	if n == 0 {
		return session.Lease{}, false, nil
	}
	return session.Lease{Key: key, Owner: owner, ExpiresAt: exp}, true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, key, owner string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND owner = ?`, key, owner); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// DeleteExpiredLeases removes every lease that lapsed and returns the count.
func (s *Store) DeleteExpiredLeases(ctx context.Context) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM leases WHERE expires_ms <= ?`, toMillis(s.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
