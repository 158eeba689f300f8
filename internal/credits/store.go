package credits

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"llmchat/backend/internal/config"

	"github.com/redis/go-redis/v9"
)

// Store keeps one integer counter per key with an expiry.
type Store interface {
	// Add increments key by delta, arms its expiry and returns the new value.
	Add(ctx context.Context, key string, delta int, ttl time.Duration) (int, error)
	Get(ctx context.Context, key string) (int, error)
}

// NewRedisClient returns a connected client, or nil when no address is
// configured.
func NewRedisClient(ctx context.Context, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Add(ctx context.Context, key string, delta int, ttl time.Duration) (int, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, int64(delta))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr credits %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get credits %s: %w", key, err)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse credits %s: %w", key, err)
	}
	return value, nil
}

type memoryEntry struct {
	value     int
	expiresAt time.Time
}

// MemoryStore is the single-process fallback used when Redis is not
// configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Add(_ context.Context, key string, delta int, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	entry := s.entries[key]
	entry.value += delta
	entry.expiresAt = now.Add(ttl)
	s.entries[key] = entry
	return entry.value, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return 0, nil
	}
	return entry.value, nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
