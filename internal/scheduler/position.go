package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lendliquidator/internal/alert"
	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/liquidation"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/notify"
	"github.com/alanyoungcy/lendliquidator/internal/risk"
)

type positionOutcome struct {
	underwater   bool
	liquidations int
}

// processPosition re-values p and, while it stays underwater, liquidates it
// and re-reads it from the chain. It stops when the position is healthy, has
// nothing left to seize, or MaxAttempts attempts were made. A returned error
// means the position was abandoned for this epoch.
func (s *Scheduler) processPosition(ctx context.Context, market domain.MarketConfig, snap domain.MarketSnapshot, quotes []domain.OracleQuote, p domain.Position) (out positionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: position %s: panic: %v", p.Address, r)
		}
	}()

	log := s.logger.With(slog.String("market", market.Name), slog.String("obligation", p.Address))
	release := func() {}
	defer func() { release() }()

	for attempt := 0; ; attempt++ {
		m, err := risk.Refresh(p, snap)
		if err != nil {
			return out, err
		}

		switch s.tracker.Observe(ctx, p.Address, m) {
		case alert.Raised:
			s.notifier.Notify(ctx, notify.EventApproaching, approachingReport(market, p, m))
		case alert.Cleared:
			s.notifier.Notify(ctx, notify.EventAllClear,
				fmt.Sprintf("Obligation %s in market %s is no longer near liquidation (%s%% of limit)",
					p.Address, market.Name, percent(m)))
		}
		metrics.NotifiedPositions.Set(float64(s.tracker.Len()))

		if !m.IsLiquidatable() {
			return out, nil
		}
		out.underwater = true
		if s.cfg.Watch {
			return out, nil
		}

		// Dust and positions with nothing to seize are skipped without a report.
		cand, err := liquidation.Select(m, s.cfg.MinDepositUSD)
		if errors.Is(err, domain.ErrNoCandidate) || errors.Is(err, domain.ErrDustPosition) {
			log.InfoContext(ctx, "not liquidating", slog.String("reason", err.Error()))
			metrics.Liquidations.WithLabelValues(market.Name, "skipped").Inc()
			return out, nil
		}
		if err != nil {
			return out, err
		}

		if attempt >= s.cfg.MaxAttempts {
			s.notifier.Notify(ctx, notify.EventSkipped, fmt.Sprintf(
				"Obligation %s in market %s is still underwater after %d liquidation attempts; retrying next epoch",
				p.Address, market.Address, attempt))
			return out, nil
		}
		s.notifier.Notify(ctx, notify.EventUnderwater, underwaterReport(market, p, m))

		quote, ok := snap.Quotes[cand.Repay.Reserve]
		if !ok {
			return out, fmt.Errorf("scheduler: repay reserve %s: %w", cand.Repay.Reserve, domain.ErrMissingQuote)
		}
		bal, err := s.source.Balance(ctx, quote)
		if err != nil {
			return out, err
		}
		if bal.Missing || bal.Raw == 0 {
			metrics.Liquidations.WithLabelValues(market.Name, "skipped").Inc()
			s.notifier.Notify(ctx, notify.EventSkipped, fmt.Sprintf(
				"Cannot liquidate obligation %s in market %s: wallet holds no %s to repay",
				p.Address, market.Address, quote.Symbol))
			return out, nil
		}

		if attempt == 0 && s.session != nil {
			unlock, err := s.session.AcquireExtending(ctx, "signer:"+s.cfg.Wallet, s.cfg.SessionTTL)
			if err != nil {
				return out, fmt.Errorf("scheduler: signer session: %w", err)
			}
			release = unlock
		}

		res := s.liq.Liquidate(ctx, liquidation.Request{
			Market:    market,
			Position:  p,
			Candidate: cand,
			Amount:    bal.Raw,
		})
		detail := map[string]any{
			"market":     market.Address,
			"obligation": p.Address,
			"repay":      cand.Repay.Symbol,
			"withdraw":   cand.Withdraw.Symbol,
			"amount":     bal.Raw,
			"borrowed":   m.BorrowedValue.StringFixed(2),
			"unhealthy":  m.UnhealthyBorrowValue.StringFixed(2),
			"signature":  res.Signature,
		}
		if !res.OK() {
			metrics.Liquidations.WithLabelValues(market.Name, string(res.Stage)).Inc()
			detail["stage"] = string(res.Stage)
			detail["error"] = res.Err.Error()
			detail["diagnostic"] = res.Diagnostic
			s.logAudit(ctx, domain.AuditLiquidationFailed, detail)
			s.setStatus(func(st *Status) { st.LastError = res.String() })
			s.notifier.Notify(ctx, notify.EventLiquidationFailed, fmt.Sprintf(
				"Liquidation of obligation %s in market %s failed: %s", p.Address, market.Address, res))
		} else {
			out.liquidations++
			metrics.Liquidations.WithLabelValues(market.Name, "confirmed").Inc()
			s.logAudit(ctx, domain.AuditLiquidation, detail)
			s.setStatus(func(st *Status) { st.LastLiquidation = res.Signature })
			s.notifier.Notify(ctx, notify.EventLiquidated, fmt.Sprintf(
				"Liquidated obligation %s in market %s: repaid %s, seized %s\nsignature: %s",
				p.Address, market.Address, cand.Repay.Symbol, cand.Withdraw.Symbol, res.Signature))
			if s.rebalancing() {
				s.rebalance(ctx, quotes)
			}
		}

		p, err = s.source.Position(ctx, p.Address)
		if err != nil {
			return out, err
		}
	}
}
