package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// ProcessedSet implements domain.ProcessedOrderSet as a Redis set, so order
// ids survive restarts and are shared between processes.
type ProcessedSet struct {
	rdb *redis.Client
	key string
}

// NewProcessedSet creates a ProcessedSet stored under key.
func NewProcessedSet(c *Client, key string) *ProcessedSet {
	return &ProcessedSet{rdb: c.Underlying(), key: key}
}

// Contains reports whether orderID is a member.
func (s *ProcessedSet) Contains(ctx context.Context, orderID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.key, orderID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: sismember %s: %w", s.key, err)
	}
	return ok, nil
}

// Add inserts orderID and reports whether it was new. SADD is atomic, so
// concurrent producers cannot both win.
func (s *ProcessedSet) Add(ctx context.Context, orderID string) (bool, error) {
	n, err := s.rdb.SAdd(ctx, s.key, orderID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: sadd %s: %w", s.key, err)
	}
	return n == 1, nil
}

// Len returns the set cardinality.
func (s *ProcessedSet) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: scard %s: %w", s.key, err)
	}
	return n, nil
}

var _ domain.ProcessedOrderSet = (*ProcessedSet)(nil)
