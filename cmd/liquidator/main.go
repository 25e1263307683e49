// Command liquidator is the entry point of the lending liquidation bot. It
// loads configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/lendliquidator/internal/app"
	"github.com/alanyoungcy/lendliquidator/internal/config"
	"github.com/alanyoungcy/lendliquidator/internal/crypto"
	"github.com/alanyoungcy/lendliquidator/internal/metrics"
	"github.com/alanyoungcy/lendliquidator/internal/platform/solana"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptIn := flag.String("encrypt-keypair", "", "encrypt this keypair file with LIQUIDATOR_WALLET_KEY_PASSWORD and exit")
	encryptOut := flag.String("out", "keypair.enc.json", "output path for -encrypt-keypair")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *encryptIn != "" {
		if err := encryptKeypair(*encryptIn, *encryptOut, os.Getenv("LIQUIDATOR_WALLET_KEY_PASSWORD")); err != nil {
			logger.Error("encrypt keypair failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted keypair written", slog.String("path", *encryptOut))
		return
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("liquidator starting",
		slog.String("app", cfg.App),
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	metrics.Init()

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("liquidator stopped")
}

func encryptKeypair(in, out, password string) error {
	kp, err := solana.LoadKeypairFile(in)
	if err != nil {
		return err
	}
	data, err := crypto.EncryptKeypair(kp, password)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o600)
}
