// Package rebalance drives the liquidator's wallet back toward a target
// allocation by swapping through the base asset.
package rebalance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// Policy selects how targets are interpreted.
type Policy string

const (
	// PolicyThreshold treats targets as fractions of total wallet value and
	// only trades assets outside target×(1±padding).
	PolicyThreshold Policy = "threshold"
	// PolicySortedDiff treats targets as whole-token amounts and trades every
	// asset whose difference exceeds padding×target, sells first.
	PolicySortedDiff Policy = "sorted_diff"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyThreshold, PolicySortedDiff:
		return p, nil
	case "":
		return PolicyThreshold, nil
	default:
		return "", fmt.Errorf("rebalance: unknown policy %q", s)
	}
}

// Holding is a wallet balance with the price it is valued at.
type Holding struct {
	Quote   domain.OracleQuote
	Balance domain.WalletBalance
}

// Value returns the USD value of the holding.
func (h Holding) Value() decimal.Decimal {
	return h.Balance.Amount.Mul(h.Quote.Price)
}

// Trade is one planned swap. Amount is in whole units of From.
type Trade struct {
	Asset  string // the non-base asset being adjusted
	Sell   bool   // true when Asset is sold into the base asset
	From   domain.OracleQuote
	To     domain.OracleQuote
	Amount decimal.Decimal
	USD    decimal.Decimal
}

func (t Trade) String() string {
	side := "buy"
	if t.Sell {
		side = "sell"
	}
	return fmt.Sprintf("%s %s: %s %s -> %s (~$%s)",
		side, t.Asset, t.Amount.StringFixed(6), t.From.Symbol, t.To.Symbol, t.USD.StringFixed(2))
}

// PlanThreshold returns the trades that bring every non-base target back
// inside its band. Holdings absent from targets only count toward total
// wallet value; holdings with a stale price are left out of it.
func PlanThreshold(holdings []Holding, base string, targets []domain.TargetAllocation, padding decimal.Decimal) ([]Trade, error) {
	baseHolding, bySymbol, err := index(holdings, base)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, h := range bySymbol {
		total = total.Add(h.Value())
	}

	one := decimal.NewFromInt(1)
	var trades []Trade
	for _, t := range targets {
		if strings.EqualFold(t.Symbol, base) {
			continue
		}
		h, ok := bySymbol[strings.ToUpper(t.Symbol)]
		if !ok {
			return nil, fmt.Errorf("rebalance: target %s: %w", t.Symbol, domain.ErrMissingQuote)
		}

		target := t.Target.Mul(total).Div(h.Quote.Price)
		lower := target.Mul(one.Sub(padding))
		upper := target.Mul(one.Add(padding))
		bal := h.Balance.Amount
		if bal.GreaterThanOrEqual(lower) && bal.LessThanOrEqual(upper) {
			continue
		}

		diff := bal.Sub(target)
		trades = append(trades, trade(h, baseHolding, diff))
	}
	return trades, nil
}

// PlanSortedDiff returns one trade per asset whose balance differs from its
// token target by more than padding×target, largest surplus (by value)
// first so sells free up the base asset before buys spend it.
func PlanSortedDiff(holdings []Holding, base string, targets []domain.TargetAllocation, padding decimal.Decimal) ([]Trade, error) {
	baseHolding, bySymbol, err := index(holdings, base)
	if err != nil {
		return nil, err
	}

	type diff struct {
		holding Holding
		units   decimal.Decimal
		usd     decimal.Decimal
		target  decimal.Decimal
	}
	diffs := make([]diff, 0, len(targets))
	for _, t := range targets {
		if strings.EqualFold(t.Symbol, base) {
			continue
		}
		h, ok := bySymbol[strings.ToUpper(t.Symbol)]
		if !ok {
			return nil, fmt.Errorf("rebalance: target %s: %w", t.Symbol, domain.ErrMissingQuote)
		}
		units := h.Balance.Amount.Sub(t.Target)
		diffs = append(diffs, diff{holding: h, units: units, usd: units.Mul(h.Quote.Price), target: t.Target})
	}
	sort.SliceStable(diffs, func(i, j int) bool {
		return diffs[i].usd.GreaterThan(diffs[j].usd)
	})

	var trades []Trade
	for _, d := range diffs {
		if d.units.Abs().LessThanOrEqual(padding.Mul(d.target)) || d.units.IsZero() {
			continue
		}
		trades = append(trades, trade(d.holding, baseHolding, d.units))
	}
	return trades, nil
}

// trade converts a signed surplus of h (positive means too much) into a swap
// against the base asset.
func trade(h, base Holding, surplus decimal.Decimal) Trade {
	usd := surplus.Abs().Mul(h.Quote.Price)
	if surplus.IsPositive() {
		return Trade{Asset: h.Quote.Symbol, Sell: true, From: h.Quote, To: base.Quote, Amount: surplus, USD: usd}
	}
	return Trade{Asset: h.Quote.Symbol, From: base.Quote, To: h.Quote, Amount: usd.Div(base.Quote.Price), USD: usd}
}

func index(holdings []Holding, base string) (Holding, map[string]Holding, error) {
	bySymbol := make(map[string]Holding, len(holdings))
	for _, h := range holdings {
		if h.Quote.Stale || !h.Quote.Price.IsPositive() {
			continue
		}
		key := strings.ToUpper(h.Quote.Symbol)
		if _, dup := bySymbol[key]; !dup {
			bySymbol[key] = h
		}
	}
	b, ok := bySymbol[strings.ToUpper(base)]
	if !ok {
		return Holding{}, nil, fmt.Errorf("rebalance: base asset %s: %w", base, domain.ErrMissingQuote)
	}
	return b, bySymbol, nil
}
