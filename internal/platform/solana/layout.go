package solana

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

// Account sizes and offsets of the lending program.
const (
	ObligationSize = 1300
	ReserveSize    = 619

	// LendingMarketOffset is where both obligations and reserves store their
	// market address.
	LendingMarketOffset = 10

	maxObligationReserves   = 10
	obligationCollateralLen = 88
	obligationLiquidityLen  = 112
	wadDecimals             = 18
)

// ObligationCollateral is one deposit inside an obligation.
type ObligationCollateral struct {
	DepositReserve  PublicKey
	DepositedAmount uint64
	MarketValue     *uint256.Int
}

// ObligationLiquidity is one borrow inside an obligation.
type ObligationLiquidity struct {
	BorrowReserve            PublicKey
	CumulativeBorrowRateWads *uint256.Int
	BorrowedAmountWads       *uint256.Int
	MarketValue              *uint256.Int
}

// Obligation is a decoded borrower account.
type Obligation struct {
	Version              uint8
	LastUpdateSlot       uint64
	Stale                bool
	LendingMarket        PublicKey
	Owner                PublicKey
	DepositedValue       *uint256.Int
	BorrowedValue        *uint256.Int
	AllowedBorrowValue   *uint256.Int
	UnhealthyBorrowValue *uint256.Int
	Deposits             []ObligationCollateral
	Borrows              []ObligationLiquidity
}

// DecodeObligation parses obligation account data.
func DecodeObligation(data []byte) (*Obligation, error) {
	if len(data) != ObligationSize {
		return nil, fmt.Errorf("solana: obligation: %w: size %d", domain.ErrInvalidAccount, len(data))
	}
	r := &reader{b: data}
	o := &Obligation{
		Version:        r.u8(),
		LastUpdateSlot: r.u64(),
		Stale:          r.u8() != 0,
		LendingMarket:  r.pubkey(),
		Owner:          r.pubkey(),
	}
	o.DepositedValue = r.u128()
	o.BorrowedValue = r.u128()
	o.AllowedBorrowValue = r.u128()
	o.UnhealthyBorrowValue = r.u128()
	r.skip(64)
	depositsLen := int(r.u8())
	borrowsLen := int(r.u8())
	if depositsLen+borrowsLen > maxObligationReserves {
		return nil, fmt.Errorf("solana: obligation: %w: %d deposits, %d borrows",
			domain.ErrInvalidAccount, depositsLen, borrowsLen)
	}
	for i := 0; i < depositsLen; i++ {
		start := r.off
		o.Deposits = append(o.Deposits, ObligationCollateral{
			DepositReserve:  r.pubkey(),
			DepositedAmount: r.u64(),
			MarketValue:     r.u128(),
		})
		r.off = start + obligationCollateralLen
	}
	for i := 0; i < borrowsLen; i++ {
		start := r.off
		o.Borrows = append(o.Borrows, ObligationLiquidity{
			BorrowReserve:            r.pubkey(),
			CumulativeBorrowRateWads: r.u128(),
			BorrowedAmountWads:       r.u128(),
			MarketValue:              r.u128(),
		})
		r.off = start + obligationLiquidityLen
	}
	if r.err != nil {
		return nil, fmt.Errorf("solana: obligation: %w", r.err)
	}
	return o, nil
}

// ToPosition converts an obligation into the chain-neutral position model.
func (o *Obligation) ToPosition(address PublicKey) domain.Position {
	p := domain.Position{
		Address: address.String(),
		Market:  o.LendingMarket.String(),
		Owner:   o.Owner.String(),
		Slot:    o.LastUpdateSlot,
		Stale:   o.Stale,
	}
	for _, d := range o.Deposits {
		p.Deposits = append(p.Deposits, domain.Deposit{
			Reserve: d.DepositReserve.String(),
			Amount:  decimal.NewFromUint64(d.DepositedAmount),
		})
	}
	for _, b := range o.Borrows {
		p.Borrows = append(p.Borrows, domain.Borrow{
			Reserve:               b.BorrowReserve.String(),
			RawDebt:               WadToDecimal(b.BorrowedAmountWads),
			CumulativeBorrowIndex: WadToDecimal(b.CumulativeBorrowRateWads),
		})
	}
	return p
}

// ReserveConfigParams are the risk parameters of a reserve, in percent.
type ReserveConfigParams struct {
	OptimalUtilizationRate uint8
	LoanToValueRatio       uint8
	LiquidationBonus       uint8
	LiquidationThreshold   uint8
	MinBorrowRate          uint8
	OptimalBorrowRate      uint8
	MaxBorrowRate          uint8
	BorrowFeeWad           uint64
	FlashLoanFeeWad        uint64
	HostFeePercentage      uint8
	DepositLimit           uint64
	BorrowLimit            uint64
	FeeReceiver            PublicKey
}

// Reserve is a decoded reserve account.
type Reserve struct {
	Version        uint8
	LastUpdateSlot uint64
	Stale          bool
	LendingMarket  PublicKey

	LiquidityMint            PublicKey
	LiquidityDecimals        uint8
	LiquiditySupply          PublicKey
	PythOracle               PublicKey
	SwitchboardOracle        PublicKey
	AvailableAmount          uint64
	BorrowedAmountWads       *uint256.Int
	CumulativeBorrowRateWads *uint256.Int
	MarketPrice              *uint256.Int

	CollateralMint            PublicKey
	CollateralMintTotalSupply uint64
	CollateralSupply          PublicKey

	Config ReserveConfigParams
}

// DecodeReserve parses reserve account data.
func DecodeReserve(data []byte) (*Reserve, error) {
	if len(data) != ReserveSize {
		return nil, fmt.Errorf("solana: reserve: %w: size %d", domain.ErrInvalidAccount, len(data))
	}
	r := &reader{b: data}
	res := &Reserve{
		Version:        r.u8(),
		LastUpdateSlot: r.u64(),
		Stale:          r.u8() != 0,
		LendingMarket:  r.pubkey(),
	}
	res.LiquidityMint = r.pubkey()
	res.LiquidityDecimals = r.u8()
	res.LiquiditySupply = r.pubkey()
	res.PythOracle = r.pubkey()
	res.SwitchboardOracle = r.pubkey()
	res.AvailableAmount = r.u64()
	res.BorrowedAmountWads = r.u128()
	res.CumulativeBorrowRateWads = r.u128()
	res.MarketPrice = r.u128()

	res.CollateralMint = r.pubkey()
	res.CollateralMintTotalSupply = r.u64()
	res.CollateralSupply = r.pubkey()

	c := &res.Config
	c.OptimalUtilizationRate = r.u8()
	c.LoanToValueRatio = r.u8()
	c.LiquidationBonus = r.u8()
	c.LiquidationThreshold = r.u8()
	c.MinBorrowRate = r.u8()
	c.OptimalBorrowRate = r.u8()
	c.MaxBorrowRate = r.u8()
	c.BorrowFeeWad = r.u64()
	c.FlashLoanFeeWad = r.u64()
	c.HostFeePercentage = r.u8()
	c.DepositLimit = r.u64()
	c.BorrowLimit = r.u64()
	c.FeeReceiver = r.pubkey()

	if r.err != nil {
		return nil, fmt.Errorf("solana: reserve: %w", r.err)
	}
	return res, nil
}

// TotalLiquidity is available plus borrowed liquidity in raw units.
func (r *Reserve) TotalLiquidity() decimal.Decimal {
	return decimal.NewFromUint64(r.AvailableAmount).Add(WadToDecimal(r.BorrowedAmountWads))
}

// CollateralExchangeRate is collateral tokens minted per liquidity token.
// An empty reserve mints one-for-one.
func (r *Reserve) CollateralExchangeRate() decimal.Decimal {
	total := r.TotalLiquidity()
	if r.CollateralMintTotalSupply == 0 || total.IsZero() {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromUint64(r.CollateralMintTotalSupply).Div(total)
}

// Price returns the cached oracle price in USD per whole token.
func (r *Reserve) Price() decimal.Decimal {
	return WadToDecimal(r.MarketPrice)
}

// ToMetadata merges on-chain state with the configured reserve.
func (r *Reserve) ToMetadata(cfg domain.ReserveConfig) domain.ReserveMetadata {
	pct := func(v uint8) decimal.Decimal { return decimal.NewFromInt(int64(v)).Shift(-2) }
	if cfg.Decimals == 0 {
		cfg.Decimals = int32(r.LiquidityDecimals)
	}
	return domain.ReserveMetadata{
		Config:                 cfg,
		LoanToValue:            pct(r.Config.LoanToValueRatio),
		LiquidationThreshold:   pct(r.Config.LiquidationThreshold),
		LiquidationBonus:       pct(r.Config.LiquidationBonus),
		CumulativeBorrowIndex:  WadToDecimal(r.CumulativeBorrowRateWads),
		CollateralExchangeRate: r.CollateralExchangeRate(),
		AvailableAmount:        decimal.NewFromUint64(r.AvailableAmount),
		BorrowedAmount:         WadToDecimal(r.BorrowedAmountWads),
		Slot:                   r.LastUpdateSlot,
	}
}

// TokenAccountAmount reads the balance of an SPL token account.
func TokenAccountAmount(data []byte) (uint64, error) {
	const amountOffset = 64
	if len(data) < amountOffset+8 {
		return 0, fmt.Errorf("solana: token account: %w: size %d", domain.ErrInvalidAccount, len(data))
	}
	return binary.LittleEndian.Uint64(data[amountOffset:]), nil
}

// WadToDecimal converts an 18-decimal fixed-point value.
func WadToDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -wadDecimals)
}

// DecimalToWad is the inverse of WadToDecimal, truncating extra precision.
func DecimalToWad(d decimal.Decimal) *uint256.Int {
	scaled := d.Shift(wadDecimals).Truncate(0).BigInt()
	if scaled.Sign() < 0 {
		scaled = new(big.Int)
	}
	v, _ := uint256.FromBig(scaled)
	return v
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: read past end at %d", domain.ErrInvalidAccount, r.off)
		return make([]byte, n)
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) skip(n int) { r.take(n) }

func (r *reader) u8() uint8 { return r.take(1)[0] }

func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }

func (r *reader) u128() *uint256.Int {
	le := r.take(16)
	be := make([]byte, 16)
	for i := range le {
		be[15-i] = le[i]
	}
	return new(uint256.Int).SetBytes(be)
}

func (r *reader) pubkey() PublicKey {
	var pk PublicKey
	copy(pk[:], r.take(32))
	return pk
}
