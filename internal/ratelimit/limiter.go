package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits or rejects an action for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// RedisLimiter is a fixed-window counter shared by every instance.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "ratelimit:send:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", redisKey, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			log.Printf("ratelimit expire failed key=%s err=%v", redisKey, err)
		}
	}
	return count <= int64(l.limit), nil
}

func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (noopLimiter) Close() error                                  { return nil }

// NoopLimiter admits everything.
func NoopLimiter() Limiter {
	return noopLimiter{}
}

// New connects to Redis at addr. When addr is empty or unreachable it falls
// back to a limiter that admits everything.
func New(ctx context.Context, addr, password string, db, limit int, window time.Duration) Limiter {
	if addr == "" || limit <= 0 {
		log.Printf("ratelimit disabled reason=not_configured")
		return NoopLimiter()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("ratelimit disabled reason=redis_unreachable addr=%s err=%v", addr, err)
		_ = client.Close()
		return NoopLimiter()
	}
	log.Printf("ratelimit enabled addr=%s limit=%d window=%s", addr, limit, window)
	return NewRedisLimiter(client, limit, window)
}
