package scheduler

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// percent is borrowed value as a percentage of the liquidation level.
func percent(m domain.RefreshedMetrics) string {
	if m.UnhealthyBorrowValue.IsZero() {
		return "inf"
	}
	return m.BorrowedValue.Div(m.UnhealthyBorrowValue).Mul(hundred).StringFixed(2)
}

func approachingReport(market domain.MarketConfig, p domain.Position, m domain.RefreshedMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Obligation %s is approaching liquidation\n", p.Address)
	fmt.Fprintf(&b, "owner: %s\n", p.Owner)
	for _, d := range m.Deposits {
		fmt.Fprintf(&b, "deposit: %s %s ($%s)\n", d.Amount.StringFixed(4), d.Symbol, d.MarketValue.StringFixed(2))
	}
	for _, br := range m.Borrows {
		fmt.Fprintf(&b, "borrow: %s %s ($%s)\n", br.Amount.StringFixed(4), br.Symbol, br.MarketValue.StringFixed(2))
	}
	fmt.Fprintf(&b, "borrowed / liquidation level: %s%%\n", percent(m))
	fmt.Fprintf(&b, "utilization: %s%%\n", m.UtilizationRatio.StringFixed(2))
	fmt.Fprintf(&b, "deposited: $%s  borrowed: $%s\n", m.DepositedValue.StringFixed(2), m.BorrowedValue.StringFixed(2))
	fmt.Fprintf(&b, "market: %s (%s)", market.Name, market.Address)
	return b.String()
}

func underwaterReport(market domain.MarketConfig, p domain.Position, m domain.RefreshedMetrics) string {
	return fmt.Sprintf("Obligation %s is underwater\nborrowed value: %s\nunhealthy borrow value: %s\nmarket address: %s",
		p.Address, m.BorrowedValue.StringFixed(2), m.UnhealthyBorrowValue.StringFixed(2), market.Address)
}

func (s *Scheduler) banner() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s started\n", s.cfg.App)
	fmt.Fprintf(&b, "rpc: %s\n", s.cfg.RPCEndpoint)
	fmt.Fprintf(&b, "wallet: %s\n", s.cfg.Wallet)
	if s.cfg.Watch {
		b.WriteString("mode: watch (no liquidations)\n")
	}
	if s.rebalancing() {
		cfg := s.rebal.Config()
		targets := make([]string, 0, len(cfg.Targets))
		for _, t := range cfg.Targets {
			targets = append(targets, t.Symbol+"="+t.Target.String())
		}
		fmt.Fprintf(&b, "rebalancing: ON (%s, base %s, padding %s)\n", cfg.Policy, cfg.Base, cfg.Padding)
		fmt.Fprintf(&b, "targets: %s\n", strings.Join(targets, ", "))
	} else {
		b.WriteString("rebalancing: OFF\n")
	}
	fmt.Fprintf(&b, "markets: %d", len(s.cfg.Markets))
	return b.String()
}
