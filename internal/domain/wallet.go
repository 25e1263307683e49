package domain

import "github.com/shopspring/decimal"

// TargetAllocation is a desired holding for one asset. Under the threshold
// policy Target is a fraction of total wallet value; under the sorted-diff
// policy it is an amount in whole-token units.
type TargetAllocation struct {
	Symbol string
	Target decimal.Decimal
}

// WalletBalance is the liquidator's holding of one token. Missing is set when
// the associated token account has not been created yet; Amount is zero in
// that case.
type WalletBalance struct {
	Symbol       string
	Mint         string
	TokenAccount string
	Decimals     int32
	Raw          uint64
	Amount       decimal.Decimal // whole-token units
	Missing      bool
}

// BaseUnits converts a whole-token amount into raw units, truncating.
func BaseUnits(amount decimal.Decimal, decimals int32) uint64 {
	if !amount.IsPositive() {
		return 0
	}
	return uint64(amount.Shift(decimals).Floor().IntPart())
}

// WholeUnits converts raw units into whole-token units.
func WholeUnits(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-decimals)
}
