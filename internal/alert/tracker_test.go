package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// metricsAt builds metrics with the given health ratio against 100 unhealthy.
func metricsAt(ratio float64) domain.RefreshedMetrics {
	return domain.RefreshedMetrics{
		BorrowedValue:        decimal.NewFromFloat(ratio).Mul(decimal.NewFromInt(100)),
		UnhealthyBorrowValue: decimal.NewFromInt(100),
	}
}

func TestTrackerScenario(t *testing.T) {
	tr := NewTracker(0.9, 0.1, nil, discard())

	assert.Equal(t, None, tr.Evaluate("p", metricsAt(0.5)))
	assert.Equal(t, Raised, tr.Evaluate("p", metricsAt(0.91)))
	assert.True(t, tr.Contains("p"))
	assert.Equal(t, None, tr.Evaluate("p", metricsAt(0.95)), "no repeat while alerted")
	assert.Equal(t, None, tr.Evaluate("p", metricsAt(0.85)))
	assert.True(t, tr.Contains("p"))
	assert.Equal(t, Cleared, tr.Evaluate("p", metricsAt(0.79)))
	assert.False(t, tr.Contains("p"))
}

func TestTrackerSkipsInsolvent(t *testing.T) {
	tr := NewTracker(0.9, 0.1, nil, discard())
	assert.Equal(t, None, tr.Evaluate("p", metricsAt(1.0)), "equality is not solvent")
	assert.Equal(t, None, tr.Evaluate("p", metricsAt(1.3)))
	assert.Zero(t, tr.Len())
}

func TestTrackerClearsAbsentIsNoop(t *testing.T) {
	tr := NewTracker(0.9, 0.1, nil, discard())
	assert.Equal(t, None, tr.Evaluate("p", metricsAt(0.1)))
}

func TestTrackerNoFlapInsideBand(t *testing.T) {
	const b, m = 0.9, 0.1
	rng := rand.New(rand.NewSource(7))
	tr := NewTracker(b, m, nil, discard())

	for i := 0; i < 5000; i++ {
		ratio := rng.Float64() * 1.2
		wasIn := tr.Contains("p")
		got := tr.Evaluate("p", metricsAt(ratio))

		switch got {
		case Cleared:
			require.True(t, wasIn)
			require.Less(t, ratio, b-m+1e-9)
		case Raised:
			require.False(t, wasIn)
			require.GreaterOrEqual(t, ratio, b-1e-9)
		case None:
			if wasIn {
				require.True(t, tr.Contains("p"), "removed without clear at %v", ratio)
			}
		}
	}
}

type memStore struct {
	ids    map[string]bool
	addErr error
}

func (s *memStore) Load(context.Context) ([]string, error) {
	var out []string
	for id := range s.ids {
		out = append(out, id)
	}
	return out, nil
}

func (s *memStore) Add(_ context.Context, id string) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.ids[id] = true
	return nil
}

func (s *memStore) Remove(_ context.Context, id string) error {
	delete(s.ids, id)
	return nil
}

func TestTrackerStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{ids: map[string]bool{"old": true}}
	tr := NewTracker(0.9, 0.1, store, discard())
	require.NoError(t, tr.Restore(ctx))
	assert.Equal(t, []string{"old"}, tr.Notified())

	assert.Equal(t, Raised, tr.Observe(ctx, "new", metricsAt(0.95)))
	assert.True(t, store.ids["new"])

	assert.Equal(t, Cleared, tr.Observe(ctx, "old", metricsAt(0.2)))
	assert.False(t, store.ids["old"])
	assert.Equal(t, []string{"new"}, tr.Notified())
}

func TestTrackerStoreFailureKeepsMemoryState(t *testing.T) {
	store := &memStore{ids: map[string]bool{}, addErr: errors.New("redis down")}
	tr := NewTracker(0.9, 0.1, store, discard())
	assert.Equal(t, Raised, tr.Observe(context.Background(), "p", metricsAt(0.95)))
	assert.True(t, tr.Contains("p"))
}
