// Package leader decides which watcher instance may settle deposits.
package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lease is held by at most one instance at a time.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a TTL lease stored under one Redis key. The holder must call
// Acquire more often than the TTL to keep it.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		owner:  uuid.New().String(),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lease if it is free, or extends it if this instance
// already holds it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if ok {
		l.logger.Info("Acquired settlement lease", zap.String("key", l.key), zap.String("owner", l.owner))
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

// Release gives the lease up if this instance holds it.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Standalone is used when no Redis is configured; the single instance always
// holds the lease.
type Standalone struct{}

func (Standalone) Acquire(context.Context) (bool, error) { return true, nil }

func (Standalone) Release(context.Context) error { return nil }
