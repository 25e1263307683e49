package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQUIDATOR_* environment variable overrides, and
// returns the final Config. A missing file is not an error so a deployment can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQUIDATOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) error {
	setStr(&cfg.App, "APP") // compatibility alias
	setStr(&cfg.App, "LIQUIDATOR_APP")

	// ── RPC ──
	setStr(&cfg.RPC.Endpoint, "RPC_ENDPOINT") // compatibility alias
	setStr(&cfg.RPC.Endpoint, "LIQUIDATOR_RPC_ENDPOINT")
	setStr(&cfg.RPC.WSEndpoint, "LIQUIDATOR_RPC_WS_ENDPOINT")
	setStr(&cfg.RPC.Commitment, "LIQUIDATOR_RPC_COMMITMENT")
	setFloat64(&cfg.RPC.RequestsPerSecond, "LIQUIDATOR_RPC_REQUESTS_PER_SECOND")
	setInt(&cfg.RPC.Burst, "LIQUIDATOR_RPC_BURST")
	setDuration(&cfg.RPC.Timeout, "LIQUIDATOR_RPC_TIMEOUT")
	setDuration(&cfg.RPC.ConfirmTimeout, "LIQUIDATOR_RPC_CONFIRM_TIMEOUT")
	setBool(&cfg.RPC.SkipPreflight, "LIQUIDATOR_RPC_SKIP_PREFLIGHT")
	setUint64(&cfg.RPC.PriorityFee, "LIQUIDATOR_RPC_PRIORITY_FEE")
	setBool(&cfg.RPC.DynamicFee, "LIQUIDATOR_RPC_DYNAMIC_FEE")
	setUint64(&cfg.RPC.MaxPriorityFee, "LIQUIDATOR_RPC_MAX_PRIORITY_FEE")

	// ── Wallet ──
	setStr(&cfg.Wallet.SecretKey, "LIQUIDATOR_WALLET_SECRET_KEY")
	setStr(&cfg.Wallet.KeypairPath, "LIQUIDATOR_WALLET_KEYPAIR_PATH")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LIQUIDATOR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LIQUIDATOR_WALLET_KEY_PASSWORD")

	// ── Markets ──
	setStr(&cfg.Markets.Source, "LIQUIDATOR_MARKETS_SOURCE")
	setStringSlice(&cfg.Markets.Only, "MARKET") // compatibility alias
	setStringSlice(&cfg.Markets.Only, "LIQUIDATOR_MARKETS_ONLY")

	// ── Liquidator ──
	setMillis(&cfg.Liquidator.MarketThrottle, "THROTTLE") // compatibility alias, milliseconds
	setDuration(&cfg.Liquidator.MarketThrottle, "LIQUIDATOR_LIQUIDATOR_MARKET_THROTTLE")
	setDuration(&cfg.Liquidator.EpochInterval, "LIQUIDATOR_LIQUIDATOR_EPOCH_INTERVAL")
	setInt(&cfg.Liquidator.MaxAttemptsPerPosition, "LIQUIDATOR_LIQUIDATOR_MAX_ATTEMPTS_PER_POSITION")
	setFloat64(&cfg.Liquidator.MinDepositUSD, "LIQUIDATOR_LIQUIDATOR_MIN_DEPOSIT_USD")
	setFloat64(&cfg.Liquidator.NotifyBreakpoint, "NOTIFICATION_BREAKPOINT") // compatibility alias
	setFloat64(&cfg.Liquidator.NotifyBreakpoint, "LIQUIDATOR_LIQUIDATOR_NOTIFY_BREAKPOINT")
	setFloat64(&cfg.Liquidator.AntiSpamMargin, "ANTI_SPAM_SPREAD") // compatibility alias
	setFloat64(&cfg.Liquidator.AntiSpamMargin, "LIQUIDATOR_LIQUIDATOR_ANTI_SPAM_MARGIN")
	setDuration(&cfg.Liquidator.SessionTTL, "LIQUIDATOR_LIQUIDATOR_SESSION_TTL")

	// ── Rebalance ──
	setStr(&cfg.Rebalance.Policy, "LIQUIDATOR_REBALANCE_POLICY")
	setStr(&cfg.Rebalance.Base, "LIQUIDATOR_REBALANCE_BASE")
	setFloat64(&cfg.Rebalance.Padding, "REBALANCE_PADDING") // compatibility alias
	setFloat64(&cfg.Rebalance.Padding, "LIQUIDATOR_REBALANCE_PADDING")
	for _, key := range []string{"TARGETS", "LIQUIDATOR_REBALANCE_TARGETS"} {
		if v := os.Getenv(key); v != "" {
			targets, err := ParseTargets(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", key, err)
			}
			cfg.Rebalance.Targets = targets
		}
	}
	setDuration(&cfg.Rebalance.Retry.InitialInterval, "LIQUIDATOR_REBALANCE_RETRY_INITIAL_INTERVAL")
	setDuration(&cfg.Rebalance.Retry.MaxInterval, "LIQUIDATOR_REBALANCE_RETRY_MAX_INTERVAL")
	setInt(&cfg.Rebalance.Retry.AlertEvery, "LIQUIDATOR_REBALANCE_RETRY_ALERT_EVERY")
	setInt(&cfg.Rebalance.Retry.MaxAttempts, "LIQUIDATOR_REBALANCE_RETRY_MAX_ATTEMPTS")

	// ── Swap ──
	setStr(&cfg.Swap.BaseURL, "LIQUIDATOR_SWAP_BASE_URL")
	setInt(&cfg.Swap.SlippageBps, "LIQUIDATOR_SWAP_SLIPPAGE_BPS")
	setBool(&cfg.Swap.AutoSlippage, "LIQUIDATOR_SWAP_AUTO_SLIPPAGE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOT_TOKEN") // compatibility alias
	setStr(&cfg.Notify.TelegramToken, "LIQUIDATOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAT_ID") // compatibility alias
	setStr(&cfg.Notify.TelegramChatID, "LIQUIDATOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIQUIDATOR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LIQUIDATOR_NOTIFY_EVENTS")
	setInt(&cfg.Notify.PerMinute, "LIQUIDATOR_NOTIFY_PER_MINUTE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LIQUIDATOR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LIQUIDATOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQUIDATOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQUIDATOR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIQUIDATOR_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "LIQUIDATOR_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LIQUIDATOR_REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "LIQUIDATOR_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "LIQUIDATOR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LIQUIDATOR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIQUIDATOR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIQUIDATOR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIQUIDATOR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIQUIDATOR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIQUIDATOR_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "LIQUIDATOR_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LIQUIDATOR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LIQUIDATOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQUIDATOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQUIDATOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQUIDATOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQUIDATOR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIQUIDATOR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIQUIDATOR_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "LIQUIDATOR_S3_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "LIQUIDATOR_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LIQUIDATOR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LIQUIDATOR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LIQUIDATOR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LIQUIDATOR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LIQUIDATOR_SERVER_RATE_LIMIT")

	// ── Activity ──
	setBool(&cfg.Activity.Enabled, "LIQUIDATOR_ACTIVITY_ENABLED")
	setDuration(&cfg.Activity.FetchDelay, "LIQUIDATOR_ACTIVITY_FETCH_DELAY")

	// ── Top-level ──
	setStr(&cfg.Mode, "LIQUIDATOR_MODE")
	setStr(&cfg.LogLevel, "LIQUIDATOR_LOG_LEVEL")
	return nil
}

// ParseTargets parses "USDC:0.5,SOL:0.25" into a target table.
func ParseTargets(s string) ([]TargetConfig, error) {
	var out []TargetConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("target %q: want SYMBOL:VALUE", part)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", part, err)
		}
		out = append(out, TargetConfig{Symbol: strings.TrimSpace(symbol), Target: f})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setMillis(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			dst.Duration = time.Duration(n) * time.Millisecond
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
