// Package inflight keeps at most one instance of an operation running per key
// across API replicas.
package inflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder owns the key.
var ErrBusy = errors.New("operation already in flight")

// Release gives the key back. It is safe to call more than once.
type Release func()

type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Only the token that set the key may delete it, so an expired holder never
// releases a newer one.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const releaseTimeout = 2 * time.Second

// RedisGuard uses SET NX PX with a per-acquire token.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard connects using a redis:// URL.
func NewRedisGuard(url, prefix string) (*RedisGuard, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisGuardWithClient(redis.NewClient(opts), prefix), nil
}

func NewRedisGuardWithClient(client *redis.Client, prefix string) *RedisGuard {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "sanctuary:inflight"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	redisKey := g.prefix + ":" + key
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(ctx, g.client, []string{redisKey}, token).Err()
		})
	}, nil
}

// Ping checks connectivity.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard is the single-process fallback when Redis is not configured.
type MemoryGuard struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	next  uint64
	nowFn func() time.Time
}

type memoryLease struct {
	token   uint64
	expires time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]memoryLease), nowFn: time.Now}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	if l, ok := g.held[key]; ok && now.Before(l.expires) {
		return nil, ErrBusy
	}

	g.next++
	token := g.next

	g.held[key] = memoryLease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if l, ok := g.held[key]; ok && l.token == token {
				delete(g.held, key)
			}
		})
	}, nil
}
