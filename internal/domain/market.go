package domain

import "github.com/shopspring/decimal"

// ReserveConfig is the static per-reserve metadata published by the market
// configuration service.
type ReserveConfig struct {
	Address           string
	Symbol            string
	Name              string
	Mint              string
	Decimals          int32
	CollateralMint    string
	CollateralSupply  string
	LiquiditySupply   string
	FeeReceiver       string
	PythOracle        string
	SwitchboardOracle string
}

// MarketConfig describes one lending market and its reserves.
type MarketConfig struct {
	Name      string
	Address   string
	Authority string
	IsPrimary bool
	Reserves  []ReserveConfig
}

// Reserve returns the configured reserve with the given address.
func (m MarketConfig) Reserve(address string) (ReserveConfig, bool) {
	for _, r := range m.Reserves {
		if r.Address == address {
			return r, true
		}
	}
	return ReserveConfig{}, false
}

// ReserveMetadata is the live on-chain state of a reserve needed to value
// positions.
type ReserveMetadata struct {
	Config                 ReserveConfig
	LoanToValue            decimal.Decimal // 0..1
	LiquidationThreshold   decimal.Decimal // 0..1
	LiquidationBonus       decimal.Decimal // 0..1
	CumulativeBorrowIndex  decimal.Decimal
	CollateralExchangeRate decimal.Decimal // collateral units per liquidity unit
	AvailableAmount        decimal.Decimal // raw liquidity units
	BorrowedAmount         decimal.Decimal // raw liquidity units
	Slot                   uint64
}

// OracleQuote is the price of a reserve's liquidity token.
type OracleQuote struct {
	Reserve  string
	Symbol   string
	Mint     string
	Decimals int32
	Price    decimal.Decimal // USD per whole token
	Slot     uint64
	Stale    bool
}

// MarketSnapshot is a consistent view of one market taken at the start of an
// epoch. Reserves and Quotes are keyed by reserve address.
type MarketSnapshot struct {
	Market   MarketConfig
	Reserves map[string]ReserveMetadata
	Quotes   map[string]OracleQuote
	Slot     uint64
}

// QuoteList returns the snapshot's quotes in reserve configuration order.
func (s MarketSnapshot) QuoteList() []OracleQuote {
	out := make([]OracleQuote, 0, len(s.Quotes))
	for _, r := range s.Market.Reserves {
		if q, ok := s.Quotes[r.Address]; ok {
			out = append(out, q)
		}
	}
	return out
}
