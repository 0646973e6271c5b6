package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease keeps one scheduler replica running a job at a time.
type Lease interface {
	Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, job string) error
}

// releaseScript deletes the lease only if this instance still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Redis SET NX lease owned by instanceID.
type RedisLease struct {
	redis      *redis.Client
	instanceID string
}

func NewRedisLease(client *redis.Client, instanceID string) *RedisLease {
	return &RedisLease{redis: client, instanceID: instanceID}
}

func leaseKey(job string) string {
	return "rtls:lease:" + job
}

func (l *RedisLease) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, leaseKey(job), l.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease for %s: %w", job, err)
	}
	return ok, nil
}

func (l *RedisLease) Release(ctx context.Context, job string) error {
	if err := releaseScript.Run(ctx, l.redis, []string{leaseKey(job)}, l.instanceID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease for %s: %w", job, err)
	}
	return nil
}
