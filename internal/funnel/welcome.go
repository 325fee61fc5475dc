package funnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WelcomeStore remembers which users already saw the access screen.
type WelcomeStore interface {
	// MarkShown records the pair and reports whether it was new.
	MarkShown(ctx context.Context, tenantID, userID int64) (bool, error)
	// Forget removes the pair.
	Forget(ctx context.Context, tenantID, userID int64) error
}

type welcomeKey struct{ tenant, user int64 }

// MemoryWelcomeStore keeps markers in process memory. They are lost on
// restart, which can repeat the access screen once.
type MemoryWelcomeStore struct {
	mu   sync.Mutex
	seen map[welcomeKey]struct{}
}

// NewMemoryWelcomeStore returns an empty store.
func NewMemoryWelcomeStore() *MemoryWelcomeStore {
	return &MemoryWelcomeStore{seen: make(map[welcomeKey]struct{})}
}

func (s *MemoryWelcomeStore) MarkShown(_ context.Context, tenantID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := welcomeKey{tenantID, userID}
	if _, ok := s.seen[k]; ok {
		return false, nil
	}
	s.seen[k] = struct{}{}
	return true, nil
}

func (s *MemoryWelcomeStore) Forget(_ context.Context, tenantID, userID int64) error {
	s.mu.Lock()
	delete(s.seen, welcomeKey{tenantID, userID})
	s.mu.Unlock()
	return nil
}

// RedisWelcomeStore keeps markers in Redis with a TTL so they survive
// restarts.
type RedisWelcomeStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisWelcomeStore wraps client. A zero ttl keeps markers forever.
func NewRedisWelcomeStore(client redis.Cmdable, ttl time.Duration) *RedisWelcomeStore {
	return &RedisWelcomeStore{client: client, ttl: ttl}
}

func welcomeRedisKey(tenantID, userID int64) string {
	return fmt.Sprintf("welcome:%d:%d", tenantID, userID)
}

func (s *RedisWelcomeStore) MarkShown(ctx context.Context, tenantID, userID int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, welcomeRedisKey(tenantID, userID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("funnel: redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisWelcomeStore) Forget(ctx context.Context, tenantID, userID int64) error {
	if err := s.client.Del(ctx, welcomeRedisKey(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("funnel: redis del: %w", err)
	}
	return nil
}
