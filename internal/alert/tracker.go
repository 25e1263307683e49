// Package alert tracks which positions have an open approaching-liquidation
// alert so each crossing is announced once.
package alert

import (
	"context"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// Transition is the result of evaluating one position.
type Transition int

const (
	None Transition = iota
	// Raised means the position crossed the breakpoint while still solvent.
	Raised
	// Cleared means a previously alerted position fell below breakpoint minus
	// margin.
	Cleared
)

func (t Transition) String() string {
	switch t {
	case Raised:
		return "raised"
	case Cleared:
		return "cleared"
	default:
		return "none"
	}
}

// Tracker is a two-threshold state machine over position identifiers. It is
// owned by a single scheduler goroutine and is not safe for concurrent use.
type Tracker struct {
	breakpoint float64
	margin     float64
	notified   map[string]struct{}
	store      domain.NotifiedStore
	logger     *slog.Logger
}

// NewTracker creates a tracker that raises at ratio >= breakpoint and clears
// at ratio < breakpoint-margin. store may be nil.
func NewTracker(breakpoint, margin float64, store domain.NotifiedStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		breakpoint: breakpoint,
		margin:     margin,
		notified:   make(map[string]struct{}),
		store:      store,
		logger:     logger.With(slog.String("component", "alert")),
	}
}

// Restore loads previously alerted identifiers from the store.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	ids, err := t.store.Load(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		t.notified[id] = struct{}{}
	}
	t.logger.Info("restored alert state", slog.Int("positions", len(ids)))
	return nil
}

// Evaluate applies the transition rules for one position and updates the
// in-memory set.
func (t *Tracker) Evaluate(id string, m domain.RefreshedMetrics) Transition {
	ratio := m.HealthRatio()
	_, present := t.notified[id]

	switch {
	case present && ratio < t.breakpoint-t.margin:
		delete(t.notified, id)
		return Cleared
	case !present && ratio >= t.breakpoint && m.BorrowedValue.LessThan(m.UnhealthyBorrowValue):
		t.notified[id] = struct{}{}
		return Raised
	default:
		return None
	}
}

// Observe is Evaluate followed by a best-effort write-through to the store.
func (t *Tracker) Observe(ctx context.Context, id string, m domain.RefreshedMetrics) Transition {
	tr := t.Evaluate(id, m)
	if t.store == nil || tr == None {
		return tr
	}
	var err error
	if tr == Raised {
		err = t.store.Add(ctx, id)
	} else {
		err = t.store.Remove(ctx, id)
	}
	if err != nil {
		t.logger.Warn("persist alert state failed",
			slog.String("position", id),
			slog.String("transition", tr.String()),
			slog.String("error", err.Error()),
		)
	}
	return tr
}

// Contains reports whether id has an open alert.
func (t *Tracker) Contains(id string) bool {
	_, ok := t.notified[id]
	return ok
}

// Len returns the number of open alerts.
func (t *Tracker) Len() int {
	return len(t.notified)
}

// Notified returns the alerted identifiers in sorted order.
func (t *Tracker) Notified() []string {
	out := make([]string, 0, len(t.notified))
	for id := range t.notified {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
