// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // key prefix, defaults to "pvrd:"
}

var (
	renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)
)

// RedisLeases is a LeaseRegistry shared by every process using the same Redis.
type RedisLeases struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLeases connects to Redis and verifies the connection.
func NewRedisLeases(ctx context.Context, cfg RedisConfig) (*RedisLeases, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLeasesFromClient(client, cfg.Prefix), nil
}

// NewRedisLeasesFromClient wraps an existing client.
func NewRedisLeasesFromClient(client *redis.Client, prefix string) *RedisLeases {
	if prefix == "" {
		prefix = "pvrd:"
	}
	return &RedisLeases{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisLeases) Close() error { return r.client.Close() }

func (r *RedisLeases) TryAcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return Lease{}, false, ErrInvalidTTL
	}
	ok, err := r.client.SetNX(ctx, r.prefix+key, owner, ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		// same owner re-entry extends the lease
		return r.RenewLease(ctx, key, owner, ttl)
	}
	return Lease{Key: key, Owner: owner, ExpiresAt: r.now().Add(ttl)}, true, nil
}

func (r *RedisLeases) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return Lease{}, false, ErrInvalidTTL
	}
	n, err := renewScript.Run(ctx, r.client, []string{r.prefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Lease{}, false, fmt.Errorf("renew lease %s: %w", key, err)
	}
	if n == 0 {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Owner: owner, ExpiresAt: r.now().Add(ttl)}, true, nil
}

func (r *RedisLeases) ReleaseLease(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}
