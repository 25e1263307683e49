// Package scheduler runs the liquidator's epoch loop: snapshot every market,
// re-value every position, alert on approaching liquidations, liquidate what
// is underwater and rebalance the wallet afterwards.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/alert"
	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/liquidation"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/notify"
	"github.com/alanyoungcy/lendliquidator/internal/rebalance"
)

// Source reads chain state.
type Source interface {
	Snapshot(ctx context.Context, market domain.MarketConfig) (domain.MarketSnapshot, error)
	Positions(ctx context.Context, market domain.MarketConfig) ([]domain.Position, error)
	Position(ctx context.Context, address string) (domain.Position, error)
	Balance(ctx context.Context, quote domain.OracleQuote) (domain.WalletBalance, error)
}

// Liquidator runs one liquidation attempt.
type Liquidator interface {
	Liquidate(ctx context.Context, req liquidation.Request) executor.Outcome
}

// Rebalancer moves the wallet toward its targets.
type Rebalancer interface {
	Run(ctx context.Context, quotes []domain.OracleQuote) (rebalance.Report, error)
	Config() rebalance.Config
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event, message string)
}

// SessionLock hands out the signer session. The returned func releases it.
type SessionLock interface {
	AcquireExtending(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Config tunes the loop.
type Config struct {
	App         string
	RPCEndpoint string
	Wallet      string
	Markets     []domain.MarketConfig

	// Watch disables liquidation and rebalancing; only alerts are sent.
	Watch bool

	MarketThrottle time.Duration // pause between markets
	EpochInterval  time.Duration // pause between epochs
	MaxAttempts    int           // liquidation attempts per position per epoch
	MinDepositUSD  decimal.Decimal
	SessionTTL     time.Duration
}

// Scheduler owns the single-mutator loop over markets and positions.
type Scheduler struct {
	cfg      Config
	source   Source
	tracker  *alert.Tracker
	liq      Liquidator
	rebal    Rebalancer
	notifier Notifier
	audit    domain.AuditStore
	session  SessionLock
	logger   *slog.Logger

	mu     sync.RWMutex
	status Status
}

// Status is a point-in-time summary of the loop for the status endpoint.
type Status struct {
	Epoch           int64     `json:"epoch"`
	StartedAt       time.Time `json:"started_at"`
	LastEpochAt     time.Time `json:"last_epoch_at,omitempty"`
	LastEpochTook   string    `json:"last_epoch_took,omitempty"`
	Markets         int       `json:"markets"`
	Positions       int       `json:"positions"`
	Underwater      int       `json:"underwater"`
	Notified        []string  `json:"notified"`
	LastLiquidation string    `json:"last_liquidation,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Watch           bool      `json:"watch"`
}

// Deps groups the optional collaborators. Rebalancer, Audit and Session may be
// nil.
type Deps struct {
	Source     Source
	Tracker    *alert.Tracker
	Liquidator Liquidator
	Rebalancer Rebalancer
	Notifier   Notifier
	Audit      domain.AuditStore
	Session    SessionLock
}

// New creates a Scheduler.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 2 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		source:   deps.Source,
		tracker:  deps.Tracker,
		liq:      deps.Liquidator,
		rebal:    deps.Rebalancer,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		session:  deps.Session,
		logger:   logger.With(slog.String("component", "scheduler")),
		status: Status{
			Markets: len(cfg.Markets),
			Watch:   cfg.Watch,
		},
	}
}

// Status returns a copy of the current loop status.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Notified = append([]string(nil), s.status.Notified...)
	return st
}

// Run announces startup, performs the initial rebalance and then runs epochs
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.tracker.Restore(ctx); err != nil {
		s.logger.WarnContext(ctx, "restore alert state failed", slog.String("error", err.Error()))
	}
	s.setStatus(func(st *Status) {
		st.StartedAt = time.Now().UTC()
		st.Notified = s.tracker.Notified()
	})
	s.notifier.Notify(ctx, notify.EventStartup, s.banner())

	if s.rebalancing() {
		quotes := mergeQuotes(s.snapshots(ctx))
		s.rebalance(ctx, quotes)
	}

	for epoch := int64(1); ; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.RunEpoch(ctx, epoch)
		if err := sleep(ctx, s.cfg.EpochInterval); err != nil {
			return err
		}
	}
}

// EpochResult counts what one epoch did.
type EpochResult struct {
	Markets      int
	Positions    int
	Underwater   int
	Liquidations int
	Errors       int
}

// RunEpoch makes one pass over every market. Failures are reported and never
// abort the pass.
func (s *Scheduler) RunEpoch(ctx context.Context, epoch int64) EpochResult {
	start := time.Now()
	log := s.logger.With(slog.Int64("epoch", epoch))
	log.InfoContext(ctx, "epoch started", slog.Int("markets", len(s.cfg.Markets)))

	var res EpochResult
	snaps := s.snapshots(ctx)
	quotes := mergeQuotes(snaps)
	for i, market := range s.cfg.Markets {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := sleep(ctx, s.cfg.MarketThrottle); err != nil {
				break
			}
		}
		snap, ok := snaps[market.Address]
		if !ok {
			res.Errors++
			continue
		}
		res.Markets++
		s.runMarket(ctx, epoch, market, snap, quotes, &res)
	}

	took := time.Since(start)
	var epochErr error
	if res.Errors > 0 {
		epochErr = fmt.Errorf("%d errors", res.Errors)
	}
	metrics.RecordEpoch(took, epochErr)
	s.setStatus(func(st *Status) {
		st.Epoch = epoch
		st.LastEpochAt = time.Now().UTC()
		st.LastEpochTook = took.Round(time.Millisecond).String()
		st.Positions = res.Positions
		st.Underwater = res.Underwater
		st.Notified = s.tracker.Notified()
	})
	s.logAudit(ctx, domain.AuditEpoch, map[string]any{
		"epoch":        epoch,
		"markets":      res.Markets,
		"positions":    res.Positions,
		"underwater":   res.Underwater,
		"liquidations": res.Liquidations,
		"errors":       res.Errors,
		"duration_ms":  took.Milliseconds(),
	})
	log.InfoContext(ctx, "epoch finished",
		slog.Int("positions", res.Positions),
		slog.Int("underwater", res.Underwater),
		slog.Int("liquidations", res.Liquidations),
		slog.Int("errors", res.Errors),
		slog.Duration("took", took),
	)
	return res
}

// snapshots takes a snapshot of every market, keyed by market address. A
// market whose snapshot fails is reported and left out.
func (s *Scheduler) snapshots(ctx context.Context) map[string]domain.MarketSnapshot {
	out := make(map[string]domain.MarketSnapshot, len(s.cfg.Markets))
	for _, m := range s.cfg.Markets {
		snap, err := s.source.Snapshot(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return out
			}
			s.dataError(ctx, m, "snapshot", err)
			continue
		}
		out[m.Address] = snap
	}
	return out
}

func (s *Scheduler) runMarket(ctx context.Context, epoch int64, market domain.MarketConfig, snap domain.MarketSnapshot, quotes []domain.OracleQuote, res *EpochResult) {
	positions, err := s.source.Positions(ctx, market)
	if err != nil {
		if ctx.Err() == nil {
			s.dataError(ctx, market, "positions", err)
			res.Errors++
		}
		return
	}

	underwater := 0
	var skipped []error
	for _, p := range positions {
		if ctx.Err() != nil {
			return
		}
		if !p.HasBorrows() {
			continue
		}
		res.Positions++
		metrics.PositionsEvaluated.WithLabelValues(market.Name).Inc()

		out, err := s.processPosition(ctx, market, snap, quotes, p)
		if out.underwater {
			underwater++
		}
		res.Liquidations += out.liquidations
		if err != nil {
			res.Errors++
			skipped = append(skipped, err)
			s.logger.WarnContext(ctx, "position skipped",
				slog.Int64("epoch", epoch),
				slog.String("market", market.Name),
				slog.String("obligation", p.Address),
				slog.String("error", err.Error()),
			)
		}
	}
	res.Underwater += underwater
	metrics.PositionsUnderwater.WithLabelValues(market.Name).Set(float64(underwater))

	if len(skipped) > 0 {
		s.notifier.Notify(ctx, notify.EventDataError, fmt.Sprintf(
			"%d positions in market %s (%s) were skipped this epoch; first error: %v",
			len(skipped), market.Name, market.Address, skipped[0]))
	}
}

func (s *Scheduler) dataError(ctx context.Context, market domain.MarketConfig, kind string, err error) {
	metrics.MarketErrors.WithLabelValues(market.Name, kind).Inc()
	s.setStatus(func(st *Status) { st.LastError = err.Error() })
	s.notifier.Notify(ctx, notify.EventDataError,
		fmt.Sprintf("Failed to load %s for market %s (%s): %v", kind, market.Name, market.Address, err))
}

func (s *Scheduler) rebalancing() bool {
	return !s.cfg.Watch && s.rebal != nil && s.rebal.Config().Enabled()
}

func (s *Scheduler) rebalance(ctx context.Context, quotes []domain.OracleQuote) {
	rep, err := s.rebal.Run(ctx, quotes)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.setStatus(func(st *Status) { st.LastError = err.Error() })
		s.notifier.Notify(ctx, notify.EventSwapFailed, fmt.Sprintf("Rebalance failed: %v", err))
		return
	}
	if rep.Planned > 0 {
		s.logger.InfoContext(ctx, "wallet rebalanced",
			slog.Int("swapped", len(rep.Swapped)),
			slog.Int("failed", len(rep.Failed)),
		)
	}
}

func (s *Scheduler) setStatus(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Scheduler) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// mergeQuotes flattens the snapshots into one fresh quote per mint, in
// market configuration order, for valuing the wallet.
func mergeQuotes(snaps map[string]domain.MarketSnapshot) []domain.OracleQuote {
	seen := make(map[string]bool)
	var out []domain.OracleQuote
	for _, snap := range orderedSnapshots(snaps) {
		for _, q := range snap.QuoteList() {
			if q.Stale || seen[q.Mint] {
				continue
			}
			seen[q.Mint] = true
			out = append(out, q)
		}
	}
	return out
}

func orderedSnapshots(snaps map[string]domain.MarketSnapshot) []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap)
	}
	// Primary market first, then by name, so the wallet is valued with the
	// same quotes every epoch.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Market, out[j].Market
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		return a.Name < b.Name
	})
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
