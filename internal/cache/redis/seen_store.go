package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// SeenStore remembers transaction signatures the activity watcher has
// already recorded, shared by every watcher process.
type SeenStore struct {
	c *Client
}

// NewSeenStore creates a SeenStore backed by the given Client.
func NewSeenStore(c *Client) *SeenStore {
	return &SeenStore{c: c}
}

// MarkSeen records signature and reports whether this call was the first.
func (s *SeenStore) MarkSeen(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	first, err := s.c.rdb.SetNX(ctx, s.c.key("seen", signature), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", signature, err)
	}
	return first, nil
}

var _ domain.SeenStore = (*SeenStore)(nil)
