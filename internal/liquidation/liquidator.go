package liquidation

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

// TxExecutor runs instructions through simulate, send and confirm.
type TxExecutor interface {
	Execute(ctx context.Context, kind string, ixs []solana.Instruction, priorityFee uint64) executor.Outcome
	Payer() solana.PublicKey
}

// FeeEstimator prices compute units for transactions that lock accounts.
type FeeEstimator interface {
	PriorityFee(ctx context.Context, accounts []solana.PublicKey) uint64
}

// Liquidator builds and submits liquidate-and-redeem transactions.
type Liquidator struct {
	planner *Planner
	exec    TxExecutor
	fees    FeeEstimator
	logger  *slog.Logger
}

// NewLiquidator creates a Liquidator.
func NewLiquidator(planner *Planner, exec TxExecutor, fees FeeEstimator, logger *slog.Logger) *Liquidator {
	return &Liquidator{
		planner: planner,
		exec:    exec,
		fees:    fees,
		logger:  logger.With(slog.String("component", "liquidator")),
	}
}

// Liquidate runs one attempt. A failed build is reported as a build-stage
// outcome; nothing is sent in that case.
func (l *Liquidator) Liquidate(ctx context.Context, req Request) executor.Outcome {
	ixs, err := l.planner.Build(ctx, l.exec.Payer(), req)
	if err != nil {
		return executor.Outcome{Kind: "liquidate", Stage: executor.StageBuild, Err: err}
	}
	l.logger.Info("submitting liquidation",
		slog.String("position", req.Position.Address),
		slog.String("market", req.Market.Name),
		slog.String("repay", req.Candidate.Repay.Symbol),
		slog.String("withdraw", req.Candidate.Withdraw.Symbol),
		slog.Uint64("amount", req.Amount),
		slog.Int("instructions", len(ixs)),
	)
	return l.exec.Execute(ctx, "liquidate", ixs, l.fees.PriorityFee(ctx, writableAccounts(ixs)))
}

func writableAccounts(ixs []solana.Instruction) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var out []solana.PublicKey
	for _, ix := range ixs {
		for _, a := range ix.Accounts {
			if !a.IsWritable || a.IsSigner {
				continue
			}
			if _, ok := seen[a.PublicKey]; ok {
				continue
			}
			seen[a.PublicKey] = struct{}{}
			out = append(out, a.PublicKey)
		}
	}
	return out
}
