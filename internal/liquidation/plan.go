package liquidation

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

// AccountChecker reports whether an account has been created.
type AccountChecker interface {
	AccountExists(ctx context.Context, pk solana.PublicKey) (bool, error)
}

// Request describes one liquidation attempt. Amount is an upper bound in raw
// repay-token units; the program caps the repaid share itself.
type Request struct {
	Market    domain.MarketConfig
	Position  domain.Position
	Candidate Candidate
	Amount    uint64
}

// Planner assembles the instruction sequence of a liquidate-and-redeem.
type Planner struct {
	program  solana.PublicKey
	accounts AccountChecker
}

// NewPlanner creates a Planner for the lending program.
func NewPlanner(program solana.PublicKey, accounts AccountChecker) *Planner {
	return &Planner{program: program, accounts: accounts}
}

// Build returns, in order: a refresh of every reserve the position touches,
// a refresh of the position, creation of any missing destination token
// accounts, and the liquidate-and-redeem itself.
func (p *Planner) Build(ctx context.Context, payer solana.PublicKey, req Request) ([]solana.Instruction, error) {
	var ixs []solana.Instruction

	for _, id := range req.Position.ReserveIDs() {
		rc, err := reserveConfig(req.Market, id)
		if err != nil {
			return nil, err
		}
		keys, err := parseKeys(rc.Address, rc.PythOracle, rc.SwitchboardOracle)
		if err != nil {
			return nil, fmt.Errorf("liquidation: reserve %s: %w", rc.Symbol, err)
		}
		ixs = append(ixs, solana.RefreshReserve(p.program, keys[0], keys[1], keys[2]))
	}

	obligation, err := solana.PublicKeyFromBase58(req.Position.Address)
	if err != nil {
		return nil, fmt.Errorf("liquidation: position: %w", err)
	}
	var deposits, borrows []solana.PublicKey
	for _, d := range req.Position.Deposits {
		pk, err := solana.PublicKeyFromBase58(d.Reserve)
		if err != nil {
			return nil, fmt.Errorf("liquidation: deposit reserve: %w", err)
		}
		deposits = append(deposits, pk)
	}
	for _, b := range req.Position.Borrows {
		pk, err := solana.PublicKeyFromBase58(b.Reserve)
		if err != nil {
			return nil, fmt.Errorf("liquidation: borrow reserve: %w", err)
		}
		borrows = append(borrows, pk)
	}
	ixs = append(ixs, solana.RefreshObligation(p.program, obligation, deposits, borrows))

	repay, err := reserveConfig(req.Market, req.Candidate.Repay.Reserve)
	if err != nil {
		return nil, err
	}
	withdraw, err := reserveConfig(req.Market, req.Candidate.Withdraw.Reserve)
	if err != nil {
		return nil, err
	}

	repayMint, err := solana.PublicKeyFromBase58(repay.Mint)
	if err != nil {
		return nil, fmt.Errorf("liquidation: repay mint: %w", err)
	}
	source, err := solana.FindAssociatedTokenAddress(payer, repayMint)
	if err != nil {
		return nil, fmt.Errorf("liquidation: repay account: %w", err)
	}

	wk, err := parseKeys(
		withdraw.Address, withdraw.CollateralMint, withdraw.CollateralSupply,
		withdraw.LiquiditySupply, withdraw.FeeReceiver, withdraw.Mint,
	)
	if err != nil {
		return nil, fmt.Errorf("liquidation: withdraw reserve %s: %w", withdraw.Symbol, err)
	}
	destCollateral, create, err := p.ensureAccount(ctx, payer, wk[1])
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, create...)
	destLiquidity, create, err := p.ensureAccount(ctx, payer, wk[5])
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, create...)

	rk, err := parseKeys(repay.Address, repay.LiquiditySupply)
	if err != nil {
		return nil, fmt.Errorf("liquidation: repay reserve %s: %w", repay.Symbol, err)
	}
	mk, err := parseKeys(req.Market.Address, req.Market.Authority)
	if err != nil {
		return nil, fmt.Errorf("liquidation: market %s: %w", req.Market.Name, err)
	}

	ixs = append(ixs, solana.LiquidateObligationAndRedeem(p.program, req.Amount, solana.LiquidateAccounts{
		SourceLiquidity:             source,
		DestinationCollateral:       destCollateral,
		DestinationLiquidity:        destLiquidity,
		RepayReserve:                rk[0],
		RepayReserveLiquiditySupply: rk[1],
		WithdrawReserve:             wk[0],
		WithdrawCollateralMint:      wk[1],
		WithdrawCollateralSupply:    wk[2],
		WithdrawLiquiditySupply:     wk[3],
		WithdrawFeeReceiver:         wk[4],
		Obligation:                  obligation,
		LendingMarket:               mk[0],
		LendingMarketAuthority:      mk[1],
		TransferAuthority:           payer,
	}))
	return ixs, nil
}

// ensureAccount returns payer's token account for mint and, when it does not
// exist yet, an instruction creating it.
func (p *Planner) ensureAccount(ctx context.Context, payer, mint solana.PublicKey) (solana.PublicKey, []solana.Instruction, error) {
	ix, ata, err := solana.CreateAssociatedTokenAccountIdempotent(payer, payer, mint)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("liquidation: %w", err)
	}
	exists, err := p.accounts.AccountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("liquidation: check account %s: %w", ata, err)
	}
	if exists {
		return ata, nil, nil
	}
	return ata, []solana.Instruction{ix}, nil
}

func reserveConfig(m domain.MarketConfig, id string) (domain.ReserveConfig, error) {
	rc, ok := m.Reserve(id)
	if !ok {
		return domain.ReserveConfig{}, fmt.Errorf("liquidation: %w: %s not in market %s", domain.ErrMissingReserve, id, m.Name)
	}
	return rc, nil
}

func parseKeys(addrs ...string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(addrs))
	for i, a := range addrs {
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, err
		}
		out[i] = pk
	}
	return out, nil
}
