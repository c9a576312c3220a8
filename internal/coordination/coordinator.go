// Package coordination provides Redis-backed distributed locking and a
// Postgres-durable fencing epoch, used to gate the scheduler to a single
// active instance when replicated.
package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Coordinator is the distributed lease primitive the leader elector needs.
type Coordinator interface {
	AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, value string) error
}

// RedisCoordinator implements Coordinator against a go-redis client.
type RedisCoordinator struct {
	client *redis.Client
}

// NewRedisCoordinator dials addr and verifies connectivity.
func NewRedisCoordinator(ctx context.Context, addr, password string, db int) (*RedisCoordinator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &RedisCoordinator{client: client}, nil
}

// AcquireLease acquires a lease with SET key value NX EX ttl.
func (c *RedisCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// renewScript extends the TTL only if the caller still holds the lease.
const renewScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

// RenewLease extends the TTL if value still matches the held lease.
func (c *RedisCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := c.client.Eval(ctx, renewScript, []string{key}, value, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	n, ok := res.(int64)
	if !ok {
		return false, errors.New("coordination: unexpected renew script result type")
	}
	return n == 1, nil
}

// releaseScript deletes the lease only if value still matches.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// ReleaseLease deletes the lease if still held by value.
func (c *RedisCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	_, err := c.client.Eval(ctx, releaseScript, []string{key}, value).Result()
	return err
}

// Close releases the underlying Redis connection.
func (c *RedisCoordinator) Close() error {
	return c.client.Close()
}
