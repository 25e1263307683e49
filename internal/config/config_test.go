package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.RPC.Endpoint = "https://rpc.example.com"
	cfg.Wallet.KeypairPath = "/keys/id.json"
	return cfg
}

func TestDefaultsNeedEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.KeypairPath = "/keys/id.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc: endpoint must not be empty")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateWalletOnlyForSigningModes(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet = WalletConfig{}
	assert.ErrorContains(t, cfg.Validate(), "wallet:")

	cfg.Mode = "watch"
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Liquidator.AntiSpamMargin = 0.95
	cfg.Rebalance.Policy = "greedy"
	cfg.Rebalance.Targets = []TargetConfig{{Symbol: "USDC", Target: 0.7}, {Symbol: "USDC", Target: 0.7}}
	cfg.S3.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"anti_spam_margin",
		`unknown policy "greedy"`,
		"duplicate target USDC",
		"s3: archival needs postgres.enabled",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsZeroSlotLag(t *testing.T) {
	cfg := validConfig()
	cfg.RPC.MaxOracleSlotLag = 0
	cfg.RPC.MaxReserveSlotLag = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_oracle_slot_lag")
	assert.Contains(t, err.Error(), "max_reserve_slot_lag")
}

func TestSortedDiffTargetsAreUnits(t *testing.T) {
	cfg := validConfig()
	cfg.Rebalance.Policy = "sorted_diff"
	cfg.Rebalance.Targets = []TargetConfig{{Symbol: "USDC", Target: 500}, {Symbol: "SOL", Target: 10}}
	assert.NoError(t, cfg.Validate())
}

func TestParseTargets(t *testing.T) {
	targets, err := ParseTargets("USDC:0.5, SOL:0.25,")
	require.NoError(t, err)
	assert.Equal(t, []TargetConfig{{Symbol: "USDC", Target: 0.5}, {Symbol: "SOL", Target: 0.25}}, targets)

	_, err = ParseTargets("USDC")
	assert.Error(t, err)
	_, err = ParseTargets("USDC:half")
	assert.Error(t, err)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "watch"

[rpc]
endpoint = "https://file.example.com"

[liquidator]
epoch_interval = "30s"

[[rebalance.targets]]
symbol = "USDC"
target = 0.6
`), 0o600))

	t.Setenv("LIQUIDATOR_RPC_ENDPOINT", "https://env.example.com")
	t.Setenv("THROTTLE", "1500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "https://env.example.com", cfg.RPC.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Liquidator.EpochInterval.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Liquidator.MarketThrottle.Duration)
	assert.Equal(t, []TargetConfig{{Symbol: "USDC", Target: 0.6}}, cfg.Rebalance.Targets)
	assert.Equal(t, "wss://env.example.com", cfg.RPC.WebsocketURL())
}

func TestLoadTargetsFromEnv(t *testing.T) {
	t.Setenv("LIQUIDATOR_REBALANCE_TARGETS", "USDC:0.5,SOL:0.25")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Rebalance.Targets, 2)

	t.Setenv("LIQUIDATOR_REBALANCE_TARGETS", "bogus")
	_, err = Load("")
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.SecretKey = "secret"
	cfg.Notify.TelegramToken = "token"
	cfg.Postgres.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Postgres.Password)
	assert.Equal(t, "secret", cfg.Wallet.SecretKey)
}
