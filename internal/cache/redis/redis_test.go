package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromRedis(rdb, "test"), mr
}

func TestLockExclusive(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "signer", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:signer"))

	_, err = lm.Acquire(ctx, "signer", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("test:lock:signer"))

	unlock2, err := lm.Acquire(ctx, "signer", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestLockUnlockKeepsForeignHolder(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(context.Background(), "signer", time.Second)
	require.NoError(t, err)

	// Our TTL lapses and another process takes over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("test:lock:signer", "someone-else"))

	unlock()
	v, err := mr.Get("test:lock:signer")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestLockExtending(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)

	unlock, err := lm.AcquireExtending(context.Background(), "signer", 150*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	// The keep-alive restores the full TTL.
	require.Eventually(t, func() bool {
		return mr.TTL("test:lock:signer") > 100*time.Millisecond
	}, time.Second, 10*time.Millisecond)

	unlock()
	assert.False(t, mr.Exists("test:lock:signer"))
}

func TestNotifiedStore(t *testing.T) {
	c, _ := newTestClient(t)
	s := NewNotifiedStore(c)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "b"))
	require.NoError(t, s.Add(ctx, "a"))
	require.NoError(t, s.Add(ctx, "a"))

	ids, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Remove(ctx, "a"))
	ids, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestSeenStore(t *testing.T) {
	c, mr := newTestClient(t)
	s := NewSeenStore(c)
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "sig", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.MarkSeen(ctx, "sig", time.Minute)
	require.NoError(t, err)
	assert.False(t, first)

	mr.FastForward(2 * time.Minute)
	first, err = s.MarkSeen(ctx, "sig", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for range 3 {
		ok, err := rl.Allow(ctx, "telegram", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "telegram", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivityStreamRecentNewestFirst(t *testing.T) {
	c, _ := newTestClient(t)
	s := NewActivityStream(c)
	ctx := context.Background()

	for _, p := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, s.Append(ctx, []byte(p)))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"n":3}`, string(got[0]))
	assert.JSONEq(t, `{"n":2}`, string(got[1]))
}

func TestClientOptionsFromURL(t *testing.T) {
	opts, err := ClientConfig{Addr: "redis://:pw@cache:6380/2", PoolSize: 7}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
}

func TestClientOptionsTLS(t *testing.T) {
	opts, err := ClientConfig{Addr: "cache:6379", TLSEnabled: true}.options()
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
}

func TestNewPingsAndPrefixesKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := New(ctx, ClientConfig{Addr: mr.Addr(), KeyPrefix: "bot:"})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, "bot:seen:abc", c.key("seen", "abc"))
}

func TestNewUnreachable(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	assert.ErrorContains(t, err, "redis: ping")
}
