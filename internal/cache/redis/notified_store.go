package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// NotifiedStore keeps the set of positions with an open approaching
// liquidation alert in a Redis set.
type NotifiedStore struct {
	c *Client
}

// NewNotifiedStore creates a NotifiedStore backed by the given Client.
func NewNotifiedStore(c *Client) *NotifiedStore {
	return &NotifiedStore{c: c}
}

func (s *NotifiedStore) setKey() string {
	return s.c.key("notified")
}

// Load returns every stored position, sorted.
func (s *NotifiedStore) Load(ctx context.Context) ([]string, error) {
	ids, err := s.c.rdb.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load notified: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Add records a position.
func (s *NotifiedStore) Add(ctx context.Context, id string) error {
	if err := s.c.rdb.SAdd(ctx, s.setKey(), id).Err(); err != nil {
		return fmt.Errorf("redis: add notified %s: %w", id, err)
	}
	return nil
}

// Remove forgets a position.
func (s *NotifiedStore) Remove(ctx context.Context, id string) error {
	if err := s.c.rdb.SRem(ctx, s.setKey(), id).Err(); err != nil {
		return fmt.Errorf("redis: remove notified %s: %w", id, err)
	}
	return nil
}

var _ domain.NotifiedStore = (*NotifiedStore)(nil)
