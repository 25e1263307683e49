package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/notify"
)

// Wallet reads and materializes the liquidator's token accounts.
type Wallet interface {
	Balances(ctx context.Context, quotes []domain.OracleQuote) ([]domain.WalletBalance, error)
	CreateTokenAccount(ctx context.Context, mint string) (string, error)
}

// SwapRunner executes one trade.
type SwapRunner interface {
	Swap(ctx context.Context, t Trade) (SwapResult, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event, message string)
}

// RetryConfig bounds the threshold policy's per-swap retry loop.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AlertEvery      int // alert after every N consecutive failures, 0 disables
	MaxAttempts     int // 0 retries until success
}

// Config selects the policy and its targets.
type Config struct {
	Policy  Policy
	Base    string
	Targets []domain.TargetAllocation
	Padding decimal.Decimal
	Retry   RetryConfig
}

// Enabled reports whether any target is configured.
func (c Config) Enabled() bool {
	return len(c.Targets) > 0
}

// Report summarises one pass.
type Report struct {
	Planned  int
	Swapped  []Trade
	Failed   []Trade
	Accounts []string // token accounts created during the pass
}

// Rebalancer compares wallet balances with targets and swaps toward them.
type Rebalancer struct {
	cfg    Config
	wallet Wallet
	swaps  SwapRunner
	notify Notifier
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewRebalancer creates a Rebalancer. audit may be nil.
func NewRebalancer(cfg Config, wallet Wallet, swaps SwapRunner, n Notifier, audit domain.AuditStore, logger *slog.Logger) *Rebalancer {
	if cfg.Base == "" {
		cfg.Base = "USDC"
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyThreshold
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = time.Second
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = time.Minute
	}
	return &Rebalancer{
		cfg:    cfg,
		wallet: wallet,
		swaps:  swaps,
		notify: n,
		audit:  audit,
		logger: logger.With(slog.String("component", "rebalancer")),
	}
}

// Config returns the active configuration.
func (r *Rebalancer) Config() Config {
	return r.cfg
}

// Run performs one rebalance pass valued at quotes. Missing token accounts
// for target assets are created first and then count as zero balances.
// Trades run one at a time; a failed trade is reported and the pass moves on.
func (r *Rebalancer) Run(ctx context.Context, quotes []domain.OracleQuote) (Report, error) {
	var report Report
	if !r.cfg.Enabled() {
		return report, nil
	}

	balances, err := r.wallet.Balances(ctx, quotes)
	if err != nil {
		return report, fmt.Errorf("rebalance: balances: %w", err)
	}

	wanted := make(map[string]bool, len(r.cfg.Targets)+1)
	wanted[strings.ToUpper(r.cfg.Base)] = true
	for _, t := range r.cfg.Targets {
		wanted[strings.ToUpper(t.Symbol)] = true
	}

	holdings := make([]Holding, 0, len(balances))
	for i, b := range balances {
		if b.Missing && wanted[strings.ToUpper(b.Symbol)] {
			account, err := r.wallet.CreateTokenAccount(ctx, b.Mint)
			if err != nil {
				return report, fmt.Errorf("rebalance: %s account: %w", b.Symbol, err)
			}
			report.Accounts = append(report.Accounts, account)
			b.TokenAccount = account
		}
		b.Missing = false
		holdings = append(holdings, Holding{Quote: quotes[i], Balance: b})
	}

	var trades []Trade
	switch r.cfg.Policy {
	case PolicySortedDiff:
		trades, err = PlanSortedDiff(holdings, r.cfg.Base, r.cfg.Targets, r.cfg.Padding)
	default:
		trades, err = PlanThreshold(holdings, r.cfg.Base, r.cfg.Targets, r.cfg.Padding)
	}
	if err != nil {
		return report, err
	}
	report.Planned = len(trades)

	for _, t := range trades {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var res SwapResult
		if r.cfg.Policy == PolicyThreshold {
			res, err = r.swapWithRetry(ctx, t)
		} else {
			res, err = r.swaps.Swap(ctx, t)
		}
		if err != nil {
			report.Failed = append(report.Failed, t)
			r.recordFailure(ctx, t, err)
			continue
		}
		report.Swapped = append(report.Swapped, t)
		r.recordSwap(ctx, t, res)
	}

	r.logger.Info("rebalance pass finished",
		slog.String("policy", string(r.cfg.Policy)),
		slog.Int("planned", report.Planned),
		slog.Int("swapped", len(report.Swapped)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// swapWithRetry repeats one swap with exponential backoff until it succeeds,
// the context ends, or MaxAttempts is used up.
func (r *Rebalancer) swapWithRetry(ctx context.Context, t Trade) (SwapResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.Retry.InitialInterval
	bo.MaxInterval = r.cfg.Retry.MaxInterval
	bo.MaxElapsedTime = 0

	var policy backoff.BackOff = bo
	if r.cfg.Retry.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(r.cfg.Retry.MaxAttempts-1))
	}

	var (
		res      SwapResult
		failures int
	)
	op := func() error {
		var err error
		res, err = r.swaps.Swap(ctx, t)
		if errors.Is(err, ErrZeroAmount) {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		failures++
		metrics.RebalanceRetries.Inc()
		r.logger.Warn("swap failed, retrying",
			slog.String("trade", t.String()),
			slog.Int("failures", failures),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if every := r.cfg.Retry.AlertEvery; every > 0 && failures%every == 0 {
			r.notify.Notify(ctx, notify.EventRebalanceStalled,
				fmt.Sprintf("%s has failed %d times in a row: %v", t, failures, err))
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), onRetry)
	return res, err
}

func (r *Rebalancer) recordSwap(ctx context.Context, t Trade, res SwapResult) {
	r.notify.Notify(ctx, notify.EventSwap, fmt.Sprintf("%s\nsignature: %s", t, res.Signature))
	r.log(ctx, domain.AuditSwap, t, map[string]any{
		"signature":  res.Signature,
		"in_amount":  res.InAmount,
		"out_amount": res.OutAmount,
	})
}

func (r *Rebalancer) recordFailure(ctx context.Context, t Trade, err error) {
	r.notify.Notify(ctx, notify.EventSwapFailed, fmt.Sprintf("%s\nerror: %v", t, err))
	r.log(ctx, domain.AuditSwapFailed, t, map[string]any{"error": err.Error()})
}

func (r *Rebalancer) log(ctx context.Context, event string, t Trade, detail map[string]any) {
	if r.audit == nil {
		return
	}
	detail["asset"] = t.Asset
	detail["from"] = t.From.Symbol
	detail["to"] = t.To.Symbol
	detail["amount"] = t.Amount.String()
	detail["usd"] = t.USD.StringFixed(2)
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
