package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookreview/pkg/domain"
)

// flashTTL bounds how long an unread message survives.
const flashTTL = 10 * time.Minute

// MemoryFlashStore keeps flash messages in-process.
type MemoryFlashStore struct {
	mu      sync.Mutex
	entries map[string][]domain.Flash
}

// NewMemoryFlashStore builds an empty in-memory flash store.
func NewMemoryFlashStore() *MemoryFlashStore {
	return &MemoryFlashStore{entries: make(map[string][]domain.Flash)}
}

// AddFlash appends a message for the browser key.
func (s *MemoryFlashStore) AddFlash(key string, f domain.Flash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append(s.entries[key], f)
	return nil
}

// PopFlashes returns and clears pending messages in insertion order.
func (s *MemoryFlashStore) PopFlashes(key string) ([]domain.Flash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries[key]
	delete(s.entries, key)
	return out, nil
}

// RedisFlashStore keeps flash messages in a Redis list per browser key.
type RedisFlashStore struct {
	client redis.Cmdable
}

// NewRedisFlashStore builds a Redis-backed flash store on a shared client.
func NewRedisFlashStore(client redis.Cmdable) *RedisFlashStore {
	return &RedisFlashStore{client: client}
}

// AddFlash appends a message and refreshes the list TTL.
func (s *RedisFlashStore) AddFlash(key string, f domain.Flash) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, flashKey(key), payload)
		pipe.Expire(ctx, flashKey(key), flashTTL)
		return nil
	})
	return err
}

// PopFlashes atomically reads and deletes pending messages.
func (s *RedisFlashStore) PopFlashes(key string) ([]domain.Flash, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var lrange *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, flashKey(key), 0, -1)
		pipe.Del(ctx, flashKey(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	raw := lrange.Val()
	out := make([]domain.Flash, 0, len(raw))
	for _, item := range raw {
		var f domain.Flash
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			return nil, fmt.Errorf("decode flash: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

func flashKey(key string) string {
	return "bookreview:flash:" + key
}
