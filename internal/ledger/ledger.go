// Package ledger reads lending positions, reserves, oracle prices and wallet
// balances from the chain and maps them onto the domain model.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

// nullOracle marks a reserve without a push oracle.
const nullOracle = "nu11111111111111111111111111111111111111111"

// RPC is the subset of the node API used for reads.
type RPC interface {
	GetAccountInfo(ctx context.Context, pk solana.PublicKey) (*solana.AccountInfo, error)
	GetMultipleAccounts(ctx context.Context, pks []solana.PublicKey) ([]*solana.AccountInfo, uint64, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...solana.Filter) ([]solana.KeyedAccount, error)
	GetRecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]solana.PrioritizationFee, error)
}

// TxExecutor submits instructions signed by the wallet.
type TxExecutor interface {
	Execute(ctx context.Context, kind string, ixs []solana.Instruction, priorityFee uint64) executor.Outcome
}

// Options tunes reads and fee estimation.
type Options struct {
	Program           solana.PublicKey
	MaxOracleSlotLag  uint64 // pyth aggregate older than this falls back to the reserve price
	MaxReserveSlotLag uint64 // cached reserve price older than this is stale
	PriorityFee       uint64 // micro-lamports per compute unit
	DynamicFee        bool
	MaxPriorityFee    uint64 // cap on the dynamic estimate, 0 for none
}

// Ledger is the chain-facing data source of the liquidator.
type Ledger struct {
	rpc    RPC
	exec   TxExecutor
	wallet solana.PublicKey
	opts   Options
	logger *slog.Logger
}

// New creates a Ledger for wallet. exec may be nil for read-only use, in
// which case CreateTokenAccount fails.
func New(rpc RPC, exec TxExecutor, wallet solana.PublicKey, opts Options, logger *slog.Logger) *Ledger {
	if opts.Program.IsZero() {
		opts.Program = solana.LendingProgramID
	}
	return &Ledger{
		rpc:    rpc,
		exec:   exec,
		wallet: wallet,
		opts:   opts,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Wallet returns the owner of the balances this Ledger reports.
func (l *Ledger) Wallet() solana.PublicKey {
	return l.wallet
}

// Positions returns every obligation of the market. Accounts that fail to
// decode are logged and skipped.
func (l *Ledger) Positions(ctx context.Context, market domain.MarketConfig) ([]domain.Position, error) {
	accounts, err := l.rpc.GetProgramAccounts(ctx, l.opts.Program,
		solana.Filter{Memcmp: &solana.Memcmp{Offset: solana.LendingMarketOffset, Bytes: market.Address}},
		solana.Filter{DataSize: solana.ObligationSize},
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: positions of %s: %w", market.Name, err)
	}

	out := make([]domain.Position, 0, len(accounts))
	for _, acc := range accounts {
		ob, err := solana.DecodeObligation(acc.Account.Data)
		if err != nil {
			l.logger.Warn("skipping undecodable obligation",
				slog.String("obligation", acc.PublicKey.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, ob.ToPosition(acc.PublicKey))
	}
	return out, nil
}

// Position re-reads one obligation.
func (l *Ledger) Position(ctx context.Context, address string) (domain.Position, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: position: %w", err)
	}
	info, err := l.rpc.GetAccountInfo(ctx, pk)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: position %s: %w", address, err)
	}
	if info == nil {
		return domain.Position{}, fmt.Errorf("ledger: position %s: %w", address, domain.ErrNotFound)
	}
	ob, err := solana.DecodeObligation(info.Data)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: position %s: %w", address, err)
	}
	return ob.ToPosition(pk), nil
}

// Snapshot reads every configured reserve of the market together with its
// oracle in one batch. A reserve whose account is missing or undecodable is
// left out, so positions touching it fail to refresh instead of being valued
// at a default.
func (l *Ledger) Snapshot(ctx context.Context, market domain.MarketConfig) (domain.MarketSnapshot, error) {
	type slotRef struct {
		cfg     domain.ReserveConfig
		reserve int
		oracle  int // -1 without a pyth account
	}

	var keys []solana.PublicKey
	refs := make([]slotRef, 0, len(market.Reserves))
	for _, rc := range market.Reserves {
		rpk, err := solana.PublicKeyFromBase58(rc.Address)
		if err != nil {
			return domain.MarketSnapshot{}, fmt.Errorf("ledger: snapshot %s: reserve %s: %w", market.Name, rc.Symbol, err)
		}
		ref := slotRef{cfg: rc, reserve: len(keys), oracle: -1}
		keys = append(keys, rpk)
		if rc.PythOracle != "" && rc.PythOracle != nullOracle {
			opk, err := solana.PublicKeyFromBase58(rc.PythOracle)
			if err != nil {
				return domain.MarketSnapshot{}, fmt.Errorf("ledger: snapshot %s: oracle %s: %w", market.Name, rc.Symbol, err)
			}
			ref.oracle = len(keys)
			keys = append(keys, opk)
		}
		refs = append(refs, ref)
	}

	infos, slot, err := l.rpc.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("ledger: snapshot %s: %w", market.Name, err)
	}

	snap := domain.MarketSnapshot{
		Market:   market,
		Reserves: make(map[string]domain.ReserveMetadata, len(refs)),
		Quotes:   make(map[string]domain.OracleQuote, len(refs)),
		Slot:     slot,
	}
	for _, ref := range refs {
		info := infos[ref.reserve]
		if info == nil {
			l.logger.Warn("reserve account missing",
				slog.String("market", market.Name),
				slog.String("reserve", ref.cfg.Address),
			)
			continue
		}
		res, err := solana.DecodeReserve(info.Data)
		if err != nil {
			l.logger.Warn("skipping undecodable reserve",
				slog.String("market", market.Name),
				slog.String("reserve", ref.cfg.Address),
				slog.String("error", err.Error()),
			)
			continue
		}
		meta := res.ToMetadata(ref.cfg)
		snap.Reserves[ref.cfg.Address] = meta

		var oracle *solana.AccountInfo
		if ref.oracle >= 0 {
			oracle = infos[ref.oracle]
		}
		snap.Quotes[ref.cfg.Address] = l.quote(meta.Config, res, oracle, slot)
	}
	return snap, nil
}

// quote prices a reserve from its pyth account when the aggregate is trading
// and recent, and otherwise from the price cached on the reserve by its last
// refresh. The cached price is marked stale once the reserve is more than
// MaxReserveSlotLag slots behind.
func (l *Ledger) quote(cfg domain.ReserveConfig, res *solana.Reserve, oracle *solana.AccountInfo, slot uint64) domain.OracleQuote {
	q := domain.OracleQuote{
		Reserve:  cfg.Address,
		Symbol:   cfg.Symbol,
		Mint:     cfg.Mint,
		Decimals: cfg.Decimals,
	}
	if q.Mint == "" {
		q.Mint = res.LiquidityMint.String()
	}

	if oracle != nil && solana.IsPythPriceAccount(oracle.Data) {
		p, err := solana.DecodePythPrice(oracle.Data)
		if err == nil && p.Trading && p.Price.IsPositive() && lag(slot, p.PubSlot) <= l.opts.MaxOracleSlotLag {
			q.Price, q.Slot = p.Price, p.PubSlot
			return q
		}
	}

	q.Price, q.Slot = res.Price(), res.LastUpdateSlot
	q.Stale = !q.Price.IsPositive() || lag(slot, res.LastUpdateSlot) > l.opts.MaxReserveSlotLag
	return q
}

func lag(now, then uint64) uint64 {
	if then >= now {
		return 0
	}
	return now - then
}

// Balances returns the wallet's holding of each quoted token in one batch.
// A token whose associated account does not exist is reported as Missing.
func (l *Ledger) Balances(ctx context.Context, quotes []domain.OracleQuote) ([]domain.WalletBalance, error) {
	out := make([]domain.WalletBalance, len(quotes))
	keys := make([]solana.PublicKey, len(quotes))
	for i, q := range quotes {
		mint, err := solana.PublicKeyFromBase58(q.Mint)
		if err != nil {
			return nil, fmt.Errorf("ledger: balance %s: %w", q.Symbol, err)
		}
		ata, err := solana.FindAssociatedTokenAddress(l.wallet, mint)
		if err != nil {
			return nil, fmt.Errorf("ledger: balance %s: %w", q.Symbol, err)
		}
		keys[i] = ata
		out[i] = domain.WalletBalance{
			Symbol:       q.Symbol,
			Mint:         q.Mint,
			TokenAccount: ata.String(),
			Decimals:     q.Decimals,
		}
	}

	infos, _, err := l.rpc.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("ledger: balances: %w", err)
	}
	for i, info := range infos {
		if info == nil {
			out[i].Missing = true
			continue
		}
		raw, err := solana.TokenAccountAmount(info.Data)
		if err != nil {
			return nil, fmt.Errorf("ledger: balance %s: %w", out[i].Symbol, err)
		}
		out[i].Raw = raw
		out[i].Amount = domain.WholeUnits(raw, out[i].Decimals)
	}
	return out, nil
}

// Balance returns the wallet's holding of one token.
func (l *Ledger) Balance(ctx context.Context, quote domain.OracleQuote) (domain.WalletBalance, error) {
	bals, err := l.Balances(ctx, []domain.OracleQuote{quote})
	if err != nil {
		return domain.WalletBalance{}, err
	}
	return bals[0], nil
}

// AccountExists reports whether an account has been created.
func (l *Ledger) AccountExists(ctx context.Context, pk solana.PublicKey) (bool, error) {
	info, err := l.rpc.GetAccountInfo(ctx, pk)
	if err != nil {
		return false, fmt.Errorf("ledger: account %s: %w", pk, err)
	}
	return info != nil, nil
}

// CreateTokenAccount creates the wallet's associated account for mint and
// returns its address. Creating an account that already exists succeeds.
func (l *Ledger) CreateTokenAccount(ctx context.Context, mint string) (string, error) {
	if l.exec == nil {
		return "", errors.New("ledger: create token account: no signer")
	}
	mpk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("ledger: create token account: %w", err)
	}
	ix, ata, err := solana.CreateAssociatedTokenAccountIdempotent(l.wallet, l.wallet, mpk)
	if err != nil {
		return "", fmt.Errorf("ledger: create token account: %w", err)
	}
	out := l.exec.Execute(ctx, "create_account", []solana.Instruction{ix}, l.opts.PriorityFee)
	if !out.OK() {
		return "", fmt.Errorf("ledger: create token account %s: %w", mint, out.Err)
	}
	l.logger.Info("created token account",
		slog.String("mint", mint),
		slog.String("account", ata.String()),
		slog.String("signature", out.Signature),
	)
	return ata.String(), nil
}

// PriorityFee returns the compute unit price to attach to a transaction
// locking accounts. With dynamic fees on it is the highest recent sample,
// capped at MaxPriorityFee; it falls back to the static fee on error or when
// no sample is above it.
func (l *Ledger) PriorityFee(ctx context.Context, accounts []solana.PublicKey) uint64 {
	if !l.opts.DynamicFee {
		return l.opts.PriorityFee
	}
	fees, err := l.rpc.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		l.logger.Warn("priority fee estimate failed", slog.String("error", err.Error()))
		return l.opts.PriorityFee
	}
	best := l.opts.PriorityFee
	for _, f := range fees {
		best = max(best, f.PrioritizationFee)
	}
	if l.opts.MaxPriorityFee > 0 {
		best = min(best, l.opts.MaxPriorityFee)
	}
	return best
}
