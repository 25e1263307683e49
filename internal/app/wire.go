package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/lendliquidator/internal/blob/s3"
	"github.com/alanyoungcy/lendliquidator/internal/cache/redis"
	"github.com/alanyoungcy/lendliquidator/internal/config"
	"github.com/alanyoungcy/lendliquidator/internal/crypto"
	"github.com/alanyoungcy/lendliquidator/internal/domain"
	"github.com/alanyoungcy/lendliquidator/internal/executor"
	"github.com/alanyoungcy/lendliquidator/internal/ledger"
	"github.com/alanyoungcy/lendliquidator/internal/liquidation"
	"github.com/alanyoungcy/lendliquidator/internal/notify"
	"github.com/alanyoungcy/lendliquidator/internal/platform/jupiter"
	"github.com/alanyoungcy/lendliquidator/internal/platform/marketcfg"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
	"github.com/alanyoungcy/lendliquidator/internal/rebalance"
	"github.com/alanyoungcy/lendliquidator/internal/scheduler"
	"github.com/alanyoungcy/lendliquidator/internal/server/handler"
	"github.com/alanyoungcy/lendliquidator/internal/store/postgres"
	"github.com/alanyoungcy/lendliquidator/internal/watcher"
)

// Dependencies bundles everything the modes need. Optional collaborators are
// held as interfaces and stay nil when their backend is not configured.
type Dependencies struct {
	// Chain
	RPC        *solana.Client
	Wallet     solana.PublicKey // zero in read-only modes
	Ledger     *ledger.Ledger
	Liquidator scheduler.Liquidator
	Rebalancer scheduler.Rebalancer
	Markets    []domain.MarketConfig

	// Stores
	AuditStore domain.AuditStore
	Archiver   domain.Archiver

	// Caches
	NotifiedStore domain.NotifiedStore
	SeenStore     domain.SeenStore
	Session       scheduler.SessionLock
	RateLimiter   domain.RateLimiter
	ActivitySink  watcher.Stream
	ActivityFeed  handler.ActivityFeed

	// Notifications
	Notifier *notify.Notifier

	// Pingers backs the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	// --- Solana RPC ---
	rpc, err := solana.Dial(ctx, cfg.RPC.Endpoint, solana.ClientOptions{
		Commitment:        cfg.RPC.Commitment,
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
		Timeout:           cfg.RPC.Timeout.Duration,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: rpc: %w", err))
	}
	closers = append(closers, rpc.Close)
	deps.RPC = rpc
	deps.Pingers["rpc"] = rpc

	// --- Market configuration ---
	markets, err := marketcfg.NewLoader(cfg.Markets.Source).Load(ctx, cfg.Markets.Only)
	if err != nil {
		return fail(fmt.Errorf("wire: markets: %w", err))
	}
	deps.Markets = markets

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		stream := redis.NewActivityStream(rc)
		deps.NotifiedStore = redis.NewNotifiedStore(rc)
		deps.SeenStore = redis.NewSeenStore(rc)
		deps.Session = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.ActivitySink = stream
		deps.ActivityFeed = stream
		deps.Pingers["redis"] = rc
	}

	// --- PostgreSQL (optional) ---
	var auditStore *postgres.AuditStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		auditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.AuditStore = auditStore
		deps.Pingers["postgres"] = pgClient
	}

	// --- S3 archival (requires postgres) ---
	if cfg.S3.Enabled && auditStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewObjects(s3Client), auditStore)
		deps.Pingers["s3"] = s3Client
	}

	// --- Notifications ---
	deps.Notifier = newNotifier(cfg, deps.RateLimiter, logger)

	// --- Wallet, ledger and the transaction pipeline ---
	if !cfg.NeedsWallet() {
		deps.Ledger = ledger.New(rpc, nil, solana.PublicKey{}, ledgerOptions(cfg.RPC), logger)
		return deps, cleanup, nil
	}

	kp, err := crypto.LoadKeypair(crypto.KeyConfig{
		SecretKey:        cfg.Wallet.SecretKey,
		KeypairPath:      cfg.Wallet.KeypairPath,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}
	deps.Wallet = kp.PublicKey()

	exec := executor.NewExecutor(rpc, kp, executor.Config{
		Commitment:     cfg.RPC.Commitment,
		ConfirmTimeout: cfg.RPC.ConfirmTimeout.Duration,
		SendMaxRetries: cfg.RPC.SendMaxRetries,
		SkipPreflight:  cfg.RPC.SkipPreflight,
	}, logger)
	led := ledger.New(rpc, exec, deps.Wallet, ledgerOptions(cfg.RPC), logger)
	deps.Ledger = led

	planner := liquidation.NewPlanner(solana.LendingProgramID, led)
	deps.Liquidator = liquidation.NewLiquidator(planner, exec, led, logger)

	rebal, err := newRebalancer(cfg, led, exec, deps, logger)
	if err != nil {
		return fail(err)
	}
	if rebal != nil {
		deps.Rebalancer = rebal
	}

	return deps, cleanup, nil
}

func ledgerOptions(rpc config.RPCConfig) ledger.Options {
	return ledger.Options{
		MaxOracleSlotLag:  rpc.MaxOracleSlotLag,
		MaxReserveSlotLag: rpc.MaxReserveSlotLag,
		PriorityFee:       rpc.PriorityFee,
		DynamicFee:        rpc.DynamicFee,
		MaxPriorityFee:    rpc.MaxPriorityFee,
	}
}

func newNotifier(cfg *config.Config, limiter domain.RateLimiter, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}

	n := notify.NewNotifier(cfg.App, senders, cfg.Notify.Events, logger)
	if limiter != nil && cfg.Notify.PerMinute > 0 {
		n = n.WithThrottle(limiter, cfg.Notify.PerMinute)
	}
	return n
}

// newRebalancer returns nil when no targets are configured.
func newRebalancer(cfg *config.Config, led *ledger.Ledger, exec *executor.Executor, deps *Dependencies, logger *slog.Logger) (*rebalance.Rebalancer, error) {
	if len(cfg.Rebalance.Targets) == 0 {
		return nil, nil
	}
	policy, err := rebalance.ParsePolicy(cfg.Rebalance.Policy)
	if err != nil {
		return nil, fmt.Errorf("wire: rebalance: %w", err)
	}

	targets := make([]domain.TargetAllocation, 0, len(cfg.Rebalance.Targets))
	for _, t := range cfg.Rebalance.Targets {
		targets = append(targets, domain.TargetAllocation{
			Symbol: t.Symbol,
			Target: decimal.NewFromFloat(t.Target),
		})
	}

	agg := jupiter.NewClient(cfg.Swap.BaseURL, jupiter.Options{
		SlippageBps:        cfg.Swap.SlippageBps,
		AutoSlippage:       cfg.Swap.AutoSlippage,
		MaxAutoSlippageUSD: cfg.Swap.MaxAutoSlippageUSD,
		RequestsPerSecond:  cfg.Swap.RequestsPerSecond,
		Timeout:            cfg.Swap.Timeout.Duration,
	})
	swaps := rebalance.NewSwapper(agg, exec, led, logger)

	return rebalance.NewRebalancer(rebalance.Config{
		Policy:  policy,
		Base:    cfg.Rebalance.Base,
		Targets: targets,
		Padding: decimal.NewFromFloat(cfg.Rebalance.Padding),
		Retry: rebalance.RetryConfig{
			InitialInterval: cfg.Rebalance.Retry.InitialInterval.Duration,
			MaxInterval:     cfg.Rebalance.Retry.MaxInterval.Duration,
			AlertEvery:      cfg.Rebalance.Retry.AlertEvery,
			MaxAttempts:     cfg.Rebalance.Retry.MaxAttempts,
		},
	}, led, swaps, deps.Notifier, deps.AuditStore, logger), nil
}
