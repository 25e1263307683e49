package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/platform/jupiter"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

// ErrZeroAmount is a trade that rounds to zero raw units.
var ErrZeroAmount = errors.New("swap amount rounds to zero")

// Aggregator quotes routes and builds swap transactions.
type Aggregator interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64) (jupiter.Quote, error)
	BuildSwap(ctx context.Context, q jupiter.Quote, user string, priorityFee uint64) ([]byte, error)
}

// RawExecutor signs and submits a prebuilt transaction.
type RawExecutor interface {
	ExecuteRaw(ctx context.Context, kind string, raw *solana.RawTransaction) executor.Outcome
	Payer() solana.PublicKey
}

// FeeEstimator prices compute units.
type FeeEstimator interface {
	PriorityFee(ctx context.Context, accounts []solana.PublicKey) uint64
}

// SwapResult is a confirmed swap.
type SwapResult struct {
	Signature string
	InAmount  string
	OutAmount string
}

// Swapper executes one Trade through the aggregator and the ledger.
type Swapper struct {
	agg    Aggregator
	exec   RawExecutor
	fees   FeeEstimator
	logger *slog.Logger
}

// NewSwapper creates a Swapper.
func NewSwapper(agg Aggregator, exec RawExecutor, fees FeeEstimator, logger *slog.Logger) *Swapper {
	return &Swapper{
		agg:    agg,
		exec:   exec,
		fees:   fees,
		logger: logger.With(slog.String("component", "swapper")),
	}
}

// Swap quotes t, has the aggregator build the transaction, then re-signs it
// under a fresh blockhash and runs it through simulate, send and confirm.
func (s *Swapper) Swap(ctx context.Context, t Trade) (res SwapResult, err error) {
	defer func() { metrics.RecordSwap(t.From.Symbol, t.To.Symbol, err) }()

	amount := domain.BaseUnits(t.Amount, t.From.Decimals)
	if amount == 0 {
		return SwapResult{}, fmt.Errorf("rebalance: swap %s: %w", t.Asset, ErrZeroAmount)
	}

	q, err := s.agg.GetQuote(ctx, t.From.Mint, t.To.Mint, amount)
	if err != nil {
		return SwapResult{}, fmt.Errorf("rebalance: swap %s: %w", t.Asset, err)
	}
	wire, err := s.agg.BuildSwap(ctx, q, s.exec.Payer().String(), s.fees.PriorityFee(ctx, nil))
	if err != nil {
		return SwapResult{}, fmt.Errorf("rebalance: swap %s: %w", t.Asset, err)
	}
	raw, err := solana.ParseRawTransaction(wire)
	if err != nil {
		return SwapResult{}, fmt.Errorf("rebalance: swap %s: %w", t.Asset, err)
	}

	out := s.exec.ExecuteRaw(ctx, "swap", raw)
	if !out.OK() {
		return SwapResult{Signature: out.Signature}, fmt.Errorf("rebalance: swap %s at %s: %w", t.Asset, out.Stage, out.Err)
	}
	s.logger.Info("swap confirmed",
		slog.String("from", t.From.Symbol),
		slog.String("to", t.To.Symbol),
		slog.String("in", q.InAmount),
		slog.String("out", q.OutAmount),
		slog.String("signature", out.Signature),
	)
	return SwapResult{Signature: out.Signature, InAmount: q.InAmount, OutAmount: q.OutAmount}, nil
}
