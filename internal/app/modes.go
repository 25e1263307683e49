package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lendliquidator/internal/alert"
	"github.com/alanyoungcy/lendliquidator/internal/retention"
	"github.com/alanyoungcy/lendliquidator/internal/scheduler"
	"github.com/alanyoungcy/lendliquidator/internal/server"
	"github.com/alanyoungcy/lendliquidator/internal/server/handler"
	"github.com/alanyoungcy/lendliquidator/internal/watcher"
)

// LiquidateMode runs the epoch loop with liquidation and rebalancing, plus
// archival and the HTTP server when configured.
func (a *App) LiquidateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting liquidate mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.newScheduler(deps, false)
	g.Go(func() error {
		return sched.Run(ctx)
	})
	a.startRetention(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// WatchMode runs the epoch loop without a wallet: positions are evaluated and
// alerts sent, nothing is signed.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.newScheduler(deps, true)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

// ActivityMode runs one program activity watcher per market.
func (a *App) ActivityMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting activity mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startWatchers(ctx, g, deps)
	a.startRetention(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil)
	}

	return g.Wait()
}

// FullMode runs the liquidator, the activity watchers when enabled, archival
// and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := a.newScheduler(deps, false)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.cfg.Activity.Enabled {
		a.startWatchers(ctx, g, deps)
	} else {
		a.logger.InfoContext(ctx, "activity watcher disabled")
	}
	a.startRetention(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sched)
	}

	return g.Wait()
}

func (a *App) newScheduler(deps *Dependencies, watch bool) *scheduler.Scheduler {
	lc := a.cfg.Liquidator
	tracker := alert.NewTracker(lc.NotifyBreakpoint, lc.AntiSpamMargin, deps.NotifiedStore, a.logger)

	var wallet string
	if !deps.Wallet.IsZero() {
		wallet = deps.Wallet.String()
	}

	d := scheduler.Deps{
		Source:   deps.Ledger,
		Tracker:  tracker,
		Notifier: deps.Notifier,
		Audit:    deps.AuditStore,
		Session:  deps.Session,
	}
	if !watch {
		d.Liquidator = deps.Liquidator
		d.Rebalancer = deps.Rebalancer
	}

	return scheduler.New(scheduler.Config{
		App:            a.cfg.App,
		RPCEndpoint:    a.cfg.RPC.Endpoint,
		Wallet:         wallet,
		Markets:        deps.Markets,
		Watch:          watch,
		MarketThrottle: lc.MarketThrottle.Duration,
		EpochInterval:  lc.EpochInterval.Duration,
		MaxAttempts:    lc.MaxAttemptsPerPosition,
		MinDepositUSD:  decimal.NewFromFloat(lc.MinDepositUSD),
		SessionTTL:     lc.SessionTTL.Duration,
	}, d, a.logger)
}

// startWatchers adds one activity watcher per market to g.
func (a *App) startWatchers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	ac := a.cfg.Activity
	for _, m := range deps.Markets {
		w := watcher.New(watcher.Config{
			WSURL:           a.cfg.RPC.WebsocketURL(),
			Market:          m,
			FetchDelay:      ac.FetchDelay.Duration,
			PingInterval:    ac.PingInterval.Duration,
			RefreshInterval: ac.RefreshInterval.Duration,
			SeenTTL:         ac.SeenTTL.Duration,
		}, watcher.Deps{
			Fetcher:   deps.RPC,
			Positions: deps.Ledger,
			Audit:     deps.AuditStore,
			Seen:      deps.SeenStore,
			Stream:    deps.ActivitySink,
			Notifier:  deps.Notifier,
		}, a.logger)

		g.Go(func() error {
			return w.Run(ctx)
		})
	}
}

// startRetention schedules audit archival when an archiver is wired.
func (a *App) startRetention(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	job := retention.NewJob(deps.Archiver, a.cfg.S3.ArchiveRetentionDays, a.logger)
	g.Go(func() error {
		return job.RunCron(ctx, a.cfg.S3.ArchiveCron)
	})
}

// startHTTPServer adds the status API to g and shuts it down gracefully when
// ctx is cancelled. loop may be nil when no epoch loop runs.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, loop handler.LoopStatus) {
	var wallet string
	if !deps.Wallet.IsZero() {
		wallet = deps.Wallet.String()
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Pingers, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, wallet, loop),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.ActivityFeed != nil {
		handlers.Activity = handler.NewActivityHandler(deps.ActivityFeed, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
