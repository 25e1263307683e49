// Package risk values lending positions against a market snapshot.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Refresh re-values every deposit and borrow of p at snapshot prices. It
// fails if any referenced reserve or quote is missing or stale; it never
// substitutes a default price. Refresh does not mutate its inputs.
func Refresh(p domain.Position, snap domain.MarketSnapshot) (domain.RefreshedMetrics, error) {
	m := domain.RefreshedMetrics{
		DepositedValue:       decimal.Zero,
		BorrowedValue:        decimal.Zero,
		AllowedBorrowValue:   decimal.Zero,
		UnhealthyBorrowValue: decimal.Zero,
		UtilizationRatio:     decimal.Zero,
	}

	for _, d := range p.Deposits {
		res, q, err := lookup(snap, d.Reserve)
		if err != nil {
			return domain.RefreshedMetrics{}, fmt.Errorf("risk: deposit: %w", err)
		}
		if !res.CollateralExchangeRate.IsPositive() {
			return domain.RefreshedMetrics{}, fmt.Errorf("risk: deposit %s: %w: exchange rate %s",
				d.Reserve, domain.ErrInvalidAccount, res.CollateralExchangeRate)
		}
		amount := d.Amount.Div(res.CollateralExchangeRate).Shift(-q.Decimals)
		value := amount.Mul(q.Price)

		m.DepositedValue = m.DepositedValue.Add(value)
		m.AllowedBorrowValue = m.AllowedBorrowValue.Add(value.Mul(res.LoanToValue))
		m.UnhealthyBorrowValue = m.UnhealthyBorrowValue.Add(value.Mul(res.LiquidationThreshold))
		m.Deposits = append(m.Deposits, domain.AssetValue{
			Reserve:     d.Reserve,
			Symbol:      q.Symbol,
			Mint:        q.Mint,
			Amount:      amount,
			MarketValue: value,
		})
	}

	for _, b := range p.Borrows {
		res, q, err := lookup(snap, b.Reserve)
		if err != nil {
			return domain.RefreshedMetrics{}, fmt.Errorf("risk: borrow: %w", err)
		}
		debt := accrue(b, res)
		amount := debt.Shift(-q.Decimals)
		value := amount.Mul(q.Price)

		m.BorrowedValue = m.BorrowedValue.Add(value)
		m.Borrows = append(m.Borrows, domain.AssetValue{
			Reserve:     b.Reserve,
			Symbol:      q.Symbol,
			Mint:        q.Mint,
			Amount:      amount,
			MarketValue: value,
		})
	}

	if m.DepositedValue.IsPositive() {
		m.UtilizationRatio = m.BorrowedValue.Div(m.DepositedValue).Mul(hundred)
	}
	return m, nil
}

// accrue scales raw debt by interest compounded since the position last
// accrued: rawDebt × reserveIndex / positionIndex.
func accrue(b domain.Borrow, res domain.ReserveMetadata) decimal.Decimal {
	if !b.CumulativeBorrowIndex.IsPositive() || !res.CumulativeBorrowIndex.IsPositive() {
		return b.RawDebt
	}
	if res.CumulativeBorrowIndex.LessThan(b.CumulativeBorrowIndex) {
		return b.RawDebt
	}
	return b.RawDebt.Mul(res.CumulativeBorrowIndex).Div(b.CumulativeBorrowIndex)
}

func lookup(snap domain.MarketSnapshot, reserve string) (domain.ReserveMetadata, domain.OracleQuote, error) {
	res, ok := snap.Reserves[reserve]
	if !ok {
		return domain.ReserveMetadata{}, domain.OracleQuote{}, fmt.Errorf("%w: %s", domain.ErrMissingReserve, reserve)
	}
	q, ok := snap.Quotes[reserve]
	if !ok {
		return domain.ReserveMetadata{}, domain.OracleQuote{}, fmt.Errorf("%w: %s", domain.ErrMissingQuote, reserve)
	}
	if q.Stale || !q.Price.IsPositive() {
		return domain.ReserveMetadata{}, domain.OracleQuote{}, fmt.Errorf("%w: %s (%s)", domain.ErrStaleQuote, q.Symbol, reserve)
	}
	return res, q, nil
}
