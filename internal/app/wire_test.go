package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/config"
	"github.com/alanyoungcy/lendliquidator/internal/rebalance"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRebalancerWithoutTargets(t *testing.T) {
	cfg := config.Defaults()

	r, err := newRebalancer(&cfg, nil, nil, &Dependencies{}, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNewRebalancerBadPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rebalance.Policy = "greedy"
	cfg.Rebalance.Targets = []config.TargetConfig{{Symbol: "USDC", Target: 0.5}}

	_, err := newRebalancer(&cfg, nil, nil, &Dependencies{}, discardLogger())
	assert.ErrorContains(t, err, "wire: rebalance")
}

func TestNewRebalancerConvertsTargets(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rebalance.Policy = "sorted_diff"
	cfg.Rebalance.Targets = []config.TargetConfig{
		{Symbol: "USDC", Target: 0.5},
		{Symbol: "SOL", Target: 0.25},
	}

	r, err := newRebalancer(&cfg, nil, nil, &Dependencies{}, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, r)

	rc := r.Config()
	assert.Equal(t, rebalance.PolicySortedDiff, rc.Policy)
	assert.Equal(t, "USDC", rc.Base)
	require.Len(t, rc.Targets, 2)
	assert.Equal(t, "SOL", rc.Targets[1].Symbol)
	assert.True(t, rc.Targets[1].Target.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, rc.Padding.Equal(decimal.RequireFromString("0.2")))
}

type countingLimiter struct{ calls int }

func (c *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	c.calls++
	return true, nil
}

func TestNewNotifierThrottlesWithLimiter(t *testing.T) {
	cfg := config.Defaults()
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:0/webhook"

	limiter := &countingLimiter{}
	n := newNotifier(&cfg, limiter, discardLogger())
	require.NotNil(t, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Notify(ctx, "swap", "hello")
	assert.Equal(t, 1, limiter.calls)
}

func TestNewNotifierWithoutLimiter(t *testing.T) {
	cfg := config.Defaults()
	n := newNotifier(&cfg, nil, discardLogger())
	require.NotNil(t, n)
	n.Notify(context.Background(), "swap", "no senders")
}
