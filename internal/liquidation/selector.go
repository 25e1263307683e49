package liquidation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// Candidate is the pair of assets to target: debt to repay and collateral to
// seize.
type Candidate struct {
	Repay    domain.AssetValue
	Withdraw domain.AssetValue
}

// Select picks the largest borrow to repay and the largest deposit to seize.
// Ties keep the first entry. It fails with domain.ErrNoCandidate if either
// side is empty and with domain.ErrDustPosition if total deposits are below
// minDeposit.
func Select(m domain.RefreshedMetrics, minDeposit decimal.Decimal) (Candidate, error) {
	if len(m.Borrows) == 0 || len(m.Deposits) == 0 {
		return Candidate{}, fmt.Errorf("liquidation: %w: %d deposits, %d borrows",
			domain.ErrNoCandidate, len(m.Deposits), len(m.Borrows))
	}
	if m.DepositedValue.LessThan(minDeposit) {
		return Candidate{}, fmt.Errorf("liquidation: %w: %s", domain.ErrDustPosition, m.DepositedValue.StringFixed(4))
	}
	return Candidate{
		Repay:    largest(m.Borrows),
		Withdraw: largest(m.Deposits),
	}, nil
}

func largest(assets []domain.AssetValue) domain.AssetValue {
	best := assets[0]
	for _, a := range assets[1:] {
		if a.MarketValue.GreaterThan(best.MarketValue) {
			best = a
		}
	}
	return best
}
