package solana

import "encoding/binary"

// Lending program instruction tags.
const (
	tagRefreshReserve               = 3
	tagRefreshObligation            = 7
	tagLiquidateObligationAndRedeem = 15
)

// RefreshReserve accrues interest and reloads the oracle price of a reserve.
func RefreshReserve(program, reserve, pythOracle, switchboardOracle PublicKey) Instruction {
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			Writable(reserve),
			Readonly(pythOracle),
			Readonly(switchboardOracle),
			Readonly(SysvarClockID),
		},
		Data: []byte{tagRefreshReserve},
	}
}

// RefreshObligation recomputes an obligation's values. Every deposit reserve
// and then every borrow reserve must be refreshed earlier in the same
// transaction.
func RefreshObligation(program, obligation PublicKey, depositReserves, borrowReserves []PublicKey) Instruction {
	accounts := []AccountMeta{Writable(obligation), Readonly(SysvarClockID)}
	for _, r := range depositReserves {
		accounts = append(accounts, Readonly(r))
	}
	for _, r := range borrowReserves {
		accounts = append(accounts, Readonly(r))
	}
	return Instruction{
		ProgramID: program,
		Accounts:  accounts,
		Data:      []byte{tagRefreshObligation},
	}
}

// LiquidateAccounts lists the accounts used by a liquidate-and-redeem.
type LiquidateAccounts struct {
	SourceLiquidity             PublicKey // liquidator's repay token account
	DestinationCollateral       PublicKey // liquidator's collateral token account
	DestinationLiquidity        PublicKey // liquidator's withdraw token account
	RepayReserve                PublicKey
	RepayReserveLiquiditySupply PublicKey
	WithdrawReserve             PublicKey
	WithdrawCollateralMint      PublicKey
	WithdrawCollateralSupply    PublicKey
	WithdrawLiquiditySupply     PublicKey
	WithdrawFeeReceiver         PublicKey
	Obligation                  PublicKey
	LendingMarket               PublicKey
	LendingMarketAuthority      PublicKey
	TransferAuthority           PublicKey
}

// LiquidateObligationAndRedeem repays up to amount of debt and redeems the
// seized collateral into the underlying token in one step.
func LiquidateObligationAndRedeem(program PublicKey, amount uint64, a LiquidateAccounts) Instruction {
	data := make([]byte, 9)
	data[0] = tagLiquidateObligationAndRedeem
	binary.LittleEndian.PutUint64(data[1:], amount)
	return Instruction{
		ProgramID: program,
		Accounts: []AccountMeta{
			Writable(a.SourceLiquidity),
			Writable(a.DestinationCollateral),
			Writable(a.DestinationLiquidity),
			Writable(a.RepayReserve),
			Writable(a.RepayReserveLiquiditySupply),
			Writable(a.WithdrawReserve),
			Writable(a.WithdrawCollateralMint),
			Writable(a.WithdrawCollateralSupply),
			Writable(a.WithdrawLiquiditySupply),
			Writable(a.WithdrawFeeReceiver),
			Writable(a.Obligation),
			Readonly(a.LendingMarket),
			Readonly(a.LendingMarketAuthority),
			{PublicKey: a.TransferAuthority, IsSigner: true},
			Readonly(SysvarClockID),
			Readonly(TokenProgramID),
		},
		Data: data,
	}
}
