// Package config defines the top-level configuration for the liquidator and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LIQUIDATOR_* environment variables.
type Config struct {
	App        string           `toml:"app"`
	RPC        RPCConfig        `toml:"rpc"`
	Wallet     WalletConfig     `toml:"wallet"`
	Markets    MarketsConfig    `toml:"markets"`
	Liquidator LiquidatorConfig `toml:"liquidator"`
	Rebalance  RebalanceConfig  `toml:"rebalance"`
	Swap       SwapConfig       `toml:"swap"`
	Notify     NotifyConfig     `toml:"notify"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Activity   ActivityConfig   `toml:"activity"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// RPCConfig holds the ledger node endpoints and transaction parameters.
type RPCConfig struct {
	Endpoint          string   `toml:"endpoint"`
	WSEndpoint        string   `toml:"ws_endpoint"` // derived from endpoint when empty
	Commitment        string   `toml:"commitment"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           duration `toml:"timeout"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	SendMaxRetries    uint     `toml:"send_max_retries"`
	SkipPreflight     bool     `toml:"skip_preflight"`
	PriorityFee       uint64   `toml:"priority_fee"` // micro-lamports per compute unit
	DynamicFee        bool     `toml:"dynamic_fee"`
	MaxPriorityFee    uint64   `toml:"max_priority_fee"`
	MaxOracleSlotLag  uint64   `toml:"max_oracle_slot_lag"`
	MaxReserveSlotLag uint64   `toml:"max_reserve_slot_lag"`
}

// WebsocketURL returns WSEndpoint, or Endpoint with its scheme switched to
// ws(s).
func (r RPCConfig) WebsocketURL() string {
	if r.WSEndpoint != "" {
		return r.WSEndpoint
	}
	switch {
	case strings.HasPrefix(r.Endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(r.Endpoint, "https://")
	case strings.HasPrefix(r.Endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(r.Endpoint, "http://")
	}
	return r.Endpoint
}

// WalletConfig names the operator key source.
type WalletConfig struct {
	SecretKey        string `toml:"secret_key"`
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// MarketsConfig says where market metadata comes from.
type MarketsConfig struct {
	Source string   `toml:"source"` // URL or local JSON file
	Only   []string `toml:"only"`   // market addresses; empty means all
}

// LiquidatorConfig tunes the epoch loop.
type LiquidatorConfig struct {
	EpochInterval          duration `toml:"epoch_interval"`
	MarketThrottle         duration `toml:"market_throttle"`
	MaxAttemptsPerPosition int      `toml:"max_attempts_per_position"`
	MinDepositUSD          float64  `toml:"min_deposit_usd"`
	NotifyBreakpoint       float64  `toml:"notify_breakpoint"`
	AntiSpamMargin         float64  `toml:"anti_spam_margin"`
	SessionTTL             duration `toml:"session_ttl"`
}

// TargetConfig is one entry of the target allocation table.
type TargetConfig struct {
	Symbol string  `toml:"symbol"`
	Target float64 `toml:"target"`
}

// RebalanceRetryConfig bounds the per-swap retry loop.
type RebalanceRetryConfig struct {
	InitialInterval duration `toml:"initial_interval"`
	MaxInterval     duration `toml:"max_interval"`
	AlertEvery      int      `toml:"alert_every"`
	MaxAttempts     int      `toml:"max_attempts"`
}

// RebalanceConfig holds the wallet rebalancing policy.
type RebalanceConfig struct {
	Policy  string               `toml:"policy"` // "threshold" or "sorted_diff"
	Base    string               `toml:"base"`
	Padding float64              `toml:"padding"`
	Targets []TargetConfig       `toml:"targets"`
	Retry   RebalanceRetryConfig `toml:"retry"`
}

// SwapConfig holds the swap aggregator parameters.
type SwapConfig struct {
	BaseURL            string   `toml:"base_url"`
	SlippageBps        int      `toml:"slippage_bps"`
	AutoSlippage       bool     `toml:"auto_slippage"`
	MaxAutoSlippageUSD int      `toml:"max_auto_slippage_usd"`
	RequestsPerSecond  float64  `toml:"requests_per_second"`
	Timeout            duration `toml:"timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"` // per-sender budget, needs redis
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit log.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"` // 5-field cron, UTC
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`    // empty disables auth on /api/*
	RateLimit   int      `toml:"rate_limit"` // requests per client per minute, needs redis
}

// ActivityConfig tunes the program activity watcher.
type ActivityConfig struct {
	Enabled         bool     `toml:"enabled"`
	FetchDelay      duration `toml:"fetch_delay"`
	PingInterval    duration `toml:"ping_interval"`
	RefreshInterval duration `toml:"refresh_interval"`
	SeenTTL         duration `toml:"seen_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		App: "liquidator",
		RPC: RPCConfig{
			Commitment:        "confirmed",
			RequestsPerSecond: 10,
			Burst:             5,
			Timeout:           duration{30 * time.Second},
			ConfirmTimeout:    duration{60 * time.Second},
			SendMaxRetries:    3,
			MaxOracleSlotLag:  150,
			MaxReserveSlotLag: 25,
		},
		Markets: MarketsConfig{
			Source: "https://api.solend.fi/v1/markets/configs?scope=all&deployment=production",
		},
		Liquidator: LiquidatorConfig{
			EpochInterval:          duration{5 * time.Second},
			MaxAttemptsPerPosition: 3,
			NotifyBreakpoint:       0.9,
			AntiSpamMargin:         0.1,
			SessionTTL:             duration{time.Minute},
		},
		Rebalance: RebalanceConfig{
			Policy:  "threshold",
			Base:    "USDC",
			Padding: 0.2,
			Retry: RebalanceRetryConfig{
				InitialInterval: duration{time.Second},
				MaxInterval:     duration{time.Minute},
				AlertEvery:      5,
			},
		},
		Swap: SwapConfig{
			BaseURL:            "https://quote-api.jup.ag/v6",
			SlippageBps:        50,
			MaxAutoSlippageUSD: 1000,
			RequestsPerSecond:  1,
			Timeout:            duration{40 * time.Second},
		},
		Notify: NotifyConfig{
			TelegramAPI: "https://api.telegram.org",
			PerMinute:   20,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "liquidator",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "liquidator-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:   true,
			Port:      8000,
			RateLimit: 120,
		},
		Activity: ActivityConfig{
			FetchDelay:      duration{time.Second},
			PingInterval:    duration{3 * time.Second},
			RefreshInterval: duration{15 * time.Minute},
			SeenTTL:         duration{24 * time.Hour},
		},
		Mode:     ModeLiquidate,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	ModeLiquidate = "liquidate" // scan, liquidate and rebalance
	ModeWatch     = "watch"     // scan and alert only
	ModeActivity  = "activity"  // program activity watcher only
	ModeFull      = "full"      // liquidate plus activity and archival
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeLiquidate: true,
	ModeWatch:     true,
	ModeActivity:  true,
	ModeFull:      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode signs transactions.
func (c *Config) NeedsWallet() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeLiquidate || m == ModeFull
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: liquidate, watch, activity, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// RPC
	if strings.TrimSpace(c.RPC.Endpoint) == "" {
		errs = append(errs, "rpc: endpoint must not be empty")
	}
	if c.RPC.Commitment != "confirmed" && c.RPC.Commitment != "finalized" {
		errs = append(errs, fmt.Sprintf("rpc: commitment must be confirmed or finalized, got %q", c.RPC.Commitment))
	}

	if c.RPC.MaxOracleSlotLag == 0 {
		errs = append(errs, "rpc: max_oracle_slot_lag must be > 0")
	}
	if c.RPC.MaxReserveSlotLag == 0 {
		errs = append(errs, "rpc: max_reserve_slot_lag must be > 0")
	}

	// Wallet
	if c.NeedsWallet() {
		if c.Wallet.SecretKey == "" && c.Wallet.KeypairPath == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: one of secret_key, keypair_path or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Markets.Source == "" {
		errs = append(errs, "markets: source must not be empty")
	}

	// Liquidator
	if c.Liquidator.MaxAttemptsPerPosition < 1 {
		errs = append(errs, "liquidator: max_attempts_per_position must be >= 1")
	}
	if c.Liquidator.NotifyBreakpoint <= 0 || c.Liquidator.NotifyBreakpoint > 1 {
		errs = append(errs, "liquidator: notify_breakpoint must be in (0, 1]")
	}
	if c.Liquidator.AntiSpamMargin < 0 || c.Liquidator.AntiSpamMargin >= c.Liquidator.NotifyBreakpoint {
		errs = append(errs, "liquidator: anti_spam_margin must be in [0, notify_breakpoint)")
	}

	// Rebalance
	if p := c.Rebalance.Policy; p != "" && p != "threshold" && p != "sorted_diff" {
		errs = append(errs, fmt.Sprintf("rebalance: unknown policy %q (valid: threshold, sorted_diff)", p))
	}
	if c.Rebalance.Padding < 0 {
		errs = append(errs, "rebalance: padding must be >= 0")
	}
	seen := make(map[string]bool, len(c.Rebalance.Targets))
	sum := 0.0
	for _, t := range c.Rebalance.Targets {
		if t.Symbol == "" {
			errs = append(errs, "rebalance: target symbol must not be empty")
		}
		if seen[t.Symbol] {
			errs = append(errs, fmt.Sprintf("rebalance: duplicate target %s", t.Symbol))
		}
		seen[t.Symbol] = true
		if t.Target < 0 {
			errs = append(errs, fmt.Sprintf("rebalance: target %s must be >= 0", t.Symbol))
		}
		sum += t.Target
	}
	if c.Rebalance.Policy != "sorted_diff" && sum > 1.0000001 {
		errs = append(errs, fmt.Sprintf("rebalance: threshold targets are fractions of wallet value and sum to %.4f > 1", sum))
	}
	if len(c.Rebalance.Targets) > 0 && c.Swap.BaseURL == "" {
		errs = append(errs, "swap: base_url is required when rebalance targets are set")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival needs postgres.enabled")
		}
		if len(strings.Fields(c.S3.ArchiveCron)) != 5 {
			errs = append(errs, fmt.Sprintf("s3: archive_cron must have 5 fields, got %q", c.S3.ArchiveCron))
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
