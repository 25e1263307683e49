package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NotifiedStore persists the set of positions that currently have an open
// approaching-liquidation alert, so a restart does not repeat them.
type NotifiedStore interface {
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// SeenStore remembers processed transaction signatures.
type SeenStore interface {
	MarkSeen(ctx context.Context, signature string, ttl time.Duration) (first bool, err error)
}

// RateLimiter implements a fixed-window budget per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
