// Package redisstore keeps shared, short-lived counters in Redis so every
// instance of the service sees the same rate-limit windows.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"trekkr/internal/config"
	"trekkr/internal/repository"
)

// Open returns a client for cfg, or nil when no address is configured.
func Open(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

// The expiry is set by the request that creates the key, so the window is
// fixed from the first event. A key that somehow lost its TTL gets one again.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

type WindowCounter struct {
	client *redis.Client
	prefix string
}

var _ repository.WindowCounter = (*WindowCounter)(nil)

func NewWindowCounter(client *redis.Client, prefix string) *WindowCounter {
	return &WindowCounter{client: client, prefix: prefix}
}

func (c *WindowCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, c.client, []string{c.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis incr %s: unexpected reply %v", key, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
