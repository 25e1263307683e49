package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// Deposit is collateral held by a position in one reserve. Amount is in raw
// collateral-token units; the reserve's exchange rate converts it back to the
// underlying liquidity token.
type Deposit struct {
	Reserve string
	Amount  decimal.Decimal
}

// Borrow is debt owed by a position to one reserve. RawDebt is in raw
// liquidity-token units as of the last time the position accrued interest,
// which happened at CumulativeBorrowIndex.
type Borrow struct {
	Reserve               string
	RawDebt               decimal.Decimal
	CumulativeBorrowIndex decimal.Decimal
}

// Position is a borrower's on-chain lending account.
type Position struct {
	Address  string
	Market   string
	Owner    string
	Deposits []Deposit
	Borrows  []Borrow
	Slot     uint64
	Stale    bool
}

// ReserveIDs returns the distinct reserves the position touches, deposits
// first, in first-seen order.
func (p Position) ReserveIDs() []string {
	seen := make(map[string]struct{}, len(p.Deposits)+len(p.Borrows))
	ids := make([]string, 0, len(p.Deposits)+len(p.Borrows))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, d := range p.Deposits {
		add(d.Reserve)
	}
	for _, b := range p.Borrows {
		add(b.Reserve)
	}
	return ids
}

// HasBorrows reports whether the position owes anything.
func (p Position) HasBorrows() bool {
	return len(p.Borrows) > 0
}

// AssetValue is one deposit or borrow of a position valued at current prices.
type AssetValue struct {
	Reserve     string
	Symbol      string
	Mint        string
	Amount      decimal.Decimal // whole-token units
	MarketValue decimal.Decimal // USD
}

// RefreshedMetrics is a position re-valued against a market snapshot.
type RefreshedMetrics struct {
	DepositedValue       decimal.Decimal
	BorrowedValue        decimal.Decimal
	AllowedBorrowValue   decimal.Decimal
	UnhealthyBorrowValue decimal.Decimal
	UtilizationRatio     decimal.Decimal // percent
	Deposits             []AssetValue
	Borrows              []AssetValue
}

// IsLiquidatable reports whether borrowed value strictly exceeds the
// unhealthy borrow value.
func (m RefreshedMetrics) IsLiquidatable() bool {
	return m.BorrowedValue.GreaterThan(m.UnhealthyBorrowValue)
}

// HealthRatio is borrowed / unhealthy. A position with debt and no unhealthy
// headroom reports +Inf; a position with neither reports 0.
func (m RefreshedMetrics) HealthRatio() float64 {
	if m.UnhealthyBorrowValue.IsZero() {
		if m.BorrowedValue.IsPositive() {
			return math.Inf(1)
		}
		return 0
	}
	return m.BorrowedValue.Div(m.UnhealthyBorrowValue).InexactFloat64()
}
