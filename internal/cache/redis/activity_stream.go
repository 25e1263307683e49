package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// activityMaxLen caps the stream; XADD trims approximately.
const activityMaxLen int64 = 10000

// ActivityStream keeps the most recent lending-program activity in a capped
// Redis stream for the status API.
type ActivityStream struct {
	c *Client
}

// NewActivityStream creates an ActivityStream backed by the given Client.
func NewActivityStream(c *Client) *ActivityStream {
	return &ActivityStream{c: c}
}

func (s *ActivityStream) streamKey() string {
	return s.c.key("activity")
}

// Append adds one JSON payload to the stream.
func (s *ActivityStream) Append(ctx context.Context, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: s.streamKey(),
		MaxLen: activityMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := s.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: activity append: %w", err)
	}
	return nil
}

// Recent returns up to count payloads, newest first.
func (s *ActivityStream) Recent(ctx context.Context, count int) ([][]byte, error) {
	msgs, err := s.c.rdb.XRevRangeN(ctx, s.streamKey(), "+", "-", int64(count)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: activity recent: %w", err)
	}

	out := make([][]byte, 0, len(msgs))
	for _, msg := range msgs {
		switch v := msg.Values["payload"].(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}
