package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	client, _ := newClient(t)
	limiter, err := NewRedisFixedWindowLimiter(client, "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, 1) {
		t.Fatalf("first event should pass")
	}
	if !limiter.Allow(ctx, 1) {
		t.Fatalf("second event should pass")
	}
	if limiter.Allow(ctx, 1) {
		t.Fatalf("third event should be blocked")
	}
	if !limiter.Allow(ctx, 2) {
		t.Fatalf("other users keep their own quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	client, mr := newClient(t)
	limiter, err := NewRedisFixedWindowLimiter(client, "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	mr.Close()
	if limiter.Allow(context.Background(), 1) {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for missing redis client")
	}
	if _, err := NewRedisFixedWindowLimiter(redis.NewClient(&redis.Options{}), "", 0, time.Second); err == nil {
		t.Fatalf("expected constructor error for zero limit")
	}
}
