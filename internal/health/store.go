package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("health status not found")

// Store caches statuses. Implementations return ErrNotFound (or a nil
// status) for unknown backends.
type Store interface {
	Get(ctx context.Context, backendID string) (*Status, error)
	Set(ctx context.Context, s *Status, ttl time.Duration) error
	Delete(ctx context.Context, backendID string) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{statuses: make(map[string]Status)}
}

func (m *MemoryStore) Get(_ context.Context, backendID string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[backendID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Set keeps the entry past the TTL; freshness is judged by CheckedAt.
func (m *MemoryStore) Set(_ context.Context, s *Status, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[s.BackendID] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, backendID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, backendID)
	return nil
}

// RedisStore shares probe results between orchestrator replicas.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "health:"}
}

func (r *RedisStore) key(id string) string {
	return fmt.Sprintf("%s%s", r.prefix, id)
}

func (r *RedisStore) Get(ctx context.Context, backendID string) (*Status, error) {
	var s Status
	err := r.rdb.Get(ctx, r.key(backendID)).Scan(&s)
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read health status: %w", err)
	}
	return &s, nil
}

// Set expires the key together with the TTL so stale entries vanish even
// if no replica reads them again.
func (r *RedisStore) Set(ctx context.Context, s *Status, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.key(s.BackendID), s, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write health status: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, backendID string) error {
	return r.rdb.Del(ctx, r.key(backendID)).Err()
}
