package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qodari/iam/domain"
)

// RateLimitStore implements domain.RateLimitStore using Redis. INCR plus
// a first-hit PEXPIRE gives the same create/reset/increment contract as
// the MongoDB store: the key's TTL is the remaining window, so the window
// start is derived from it.
type RateLimitStore struct {
	client *redis.Client
	prefix string
}

// NewRateLimitStore creates a new store. Keys are namespaced under the
// given prefix.
func NewRateLimitStore(client *redis.Client, prefix string) *RateLimitStore {
	return &RateLimitStore{client: client, prefix: prefix}
}

func (s *RateLimitStore) redisKey(key string) string {
	return fmt.Sprintf("%s:ratelimit:%s", s.prefix, key)
}

func (s *RateLimitStore) Hit(ctx context.Context, key string, window time.Duration) (*domain.RateLimitCounter, error) {
	now := time.Now().UTC()
	rkey := s.redisKey(key)

	count, err := s.client.Incr(ctx, rkey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := s.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return nil, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		return &domain.RateLimitCounter{Key: key, WindowStart: now, Count: count}, nil
	}

	ttl, err := s.client.PTTL(ctx, rkey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	if ttl < 0 {
		// Key lost its expiry (e.g. restored from a dump); re-arm it.
		if err := s.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return nil, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		ttl = window
	}

	windowStart := now.Add(ttl - window)
	return &domain.RateLimitCounter{Key: key, WindowStart: windowStart, Count: count}, nil
}

// DeleteStaleCounters is a no-op for Redis: key expiry already removes
// counters whose window has passed.
func (s *RateLimitStore) DeleteStaleCounters(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
