package runevent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryNonceStore keeps nonces in process. Only valid for a single instance.
type MemoryNonceStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	now    func() time.Time
	sweeps int
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.seen[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[nonce] = now.Add(ttl)

	s.sweeps++
	if s.sweeps%256 == 0 {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
	}
	return true, nil
}

func (s *MemoryNonceStore) Release(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, nonce)
	return nil
}

// RedisNonceStore shares consumed nonces between instances.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

func NewRedisNonceStore(client *redis.Client, prefix string) *RedisNonceStore {
	if prefix == "" {
		prefix = "runevent:nonce:"
	}
	return &RedisNonceStore{client: client, prefix: prefix}
}

func (s *RedisNonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisNonceStore) Release(ctx context.Context, nonce string) error {
	if err := s.client.Del(ctx, s.prefix+nonce).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
