package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"trekkr/internal/config"
)

func TestWindowCounter_Redis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	client := Open(config.RedisConfig{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := fmt.Sprintf("test:%d", time.Now().UnixNano())
	counter := NewWindowCounter(client, "trekkr:rl:")
	defer client.Del(ctx, "trekkr:rl:"+key)

	for i := int64(1); i <= 3; i++ {
		n, ttl, err := counter.Incr(ctx, key, time.Minute)
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if n != i {
			t.Errorf("Incr() = %d, want %d", n, i)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("ttl = %v, want within (0, 1m]", ttl)
		}
	}
}

func TestOpen_NoAddr(t *testing.T) {
	if Open(config.RedisConfig{}) != nil {
		t.Error("Open() without address should return nil")
	}
}
