package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which order an idempotency key produced.
type IdempotencyStore interface {
	// Reserve binds key to orderID for ttl unless it is already bound. It
	// returns the bound order id and whether this call made the binding.
	Reserve(ctx context.Context, key, orderID string, ttl time.Duration) (string, bool, error)
	// Release drops the binding if it still points at orderID.
	Release(ctx context.Context, key, orderID string) error
}

type RedisIdempotency struct {
	client *redis.Client
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func redisKey(key string) string { return "idem:" + key }

func (s *RedisIdempotency) Reserve(ctx context.Context, key, orderID string, ttl time.Duration) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, redisKey(key), orderID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return orderID, true, nil
	}
	existing, err := s.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key, orderID, ttl)
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return existing, false, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisIdempotency) Release(ctx context.Context, key, orderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{redisKey(key)}, orderID).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

// MemoryIdempotency is the single-process fallback used when no Redis is
// configured.
type MemoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	orderID string
	expires time.Time
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{entries: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryIdempotency) Reserve(ctx context.Context, key, orderID string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return e.orderID, false, nil
	}
	s.entries[key] = memEntry{orderID: orderID, expires: now.Add(ttl)}
	if len(s.entries) > 1024 {
		s.sweep(now)
	}
	return orderID, true, nil
}

func (s *MemoryIdempotency) Release(ctx context.Context, key, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.orderID == orderID {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryIdempotency) sweep(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
