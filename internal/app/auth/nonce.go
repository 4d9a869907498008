package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// NonceStore records consumed (email, nonce) pairs so a captured request
// cannot be replayed inside the freshness window. Consume returns false when
// the pair has already been seen.
//
// Enforcement is opt-in: nonces are second-granularity timestamps, so two
// legitimate requests from the same caller in the same second would collide.
type NonceStore interface {
	Consume(ctx context.Context, email string, nonce int64) (bool, error)
}

// MemoryNonceStore tracks consumed nonces in-process with a TTL. Suitable
// for single-instance deployments and tests.
type MemoryNonceStore struct {
	ttl       time.Duration
	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryNonceStore creates a store that forgets nonces after ttl.
func NewMemoryNonceStore(ttl time.Duration) *MemoryNonceStore {
	if ttl <= 0 {
		ttl = DefaultNonceWindow
	}
	return &MemoryNonceStore{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryNonceStore) Consume(_ context.Context, email string, nonce int64) (bool, error) {
	key := nonceKey(email, nonce)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > s.ttl {
		for k, expires := range s.seen {
			if now.After(expires) {
				delete(s.seen, k)
			}
		}
		s.lastSweep = now
	}

	if expires, ok := s.seen[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return true, nil
}

// RedisNonceStore tracks consumed nonces in Redis so replay protection
// holds across instances. SETNX with a TTL makes consumption atomic.
type RedisNonceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNonceStore connects to the Redis URL and verifies reachability.
func NewRedisNonceStore(ctx context.Context, url string, ttl time.Duration) (*RedisNonceStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultNonceWindow
	}
	return &RedisNonceStore{client: client, ttl: ttl}, nil
}

func (s *RedisNonceStore) Consume(ctx context.Context, email string, nonce int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, nonceKey(email, nonce), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume nonce: %w", err)
	}
	return ok, nil
}

// Close releases the Redis connection.
func (s *RedisNonceStore) Close() error { return s.client.Close() }

func nonceKey(email string, nonce int64) string {
	return fmt.Sprintf("credits:nonce:%s:%d", strings.ToLower(strings.TrimSpace(email)), nonce)
}
