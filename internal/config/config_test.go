package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "trade"
log_level = "debug"

[networks.a]
name = "avalanche"
rpc_url = "https://avax.example/rpc?key=abc"
pool = "0x1111111111111111111111111111111111111111"
usdc = "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
usdt = "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7"
native_usd = "21.5"

[networks.a.venue]
router = "0x2222222222222222222222222222222222222222"

[networks.b]
name = "sonic"
rpc_url = "https://sonic.example/rpc"
pool = "0x3333333333333333333333333333333333333333"
usdc = "0x29219dd400f2Bf60E5a23d13Be72B486D4038894"
usdt = "0x4444444444444444444444444444444444444444"

[networks.b.venue]
router = "0x5555555555555555555555555555555555555555"

[engine]
simulation = false
trade_amount = 2000000
min_profit_pct = "0.002"
bridge_timeout = "10m"

[supervisor]
poll_interval = "3s"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BRIDGEARB_WALLET_PRIVATE_KEY", "0xabc")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.True(t, cfg.Live())
	assert.Equal(t, int64(2_000_000), cfg.Engine.TradeAmount)
	assert.True(t, decimal.RequireFromString("0.002").Equal(cfg.Engine.MinProfitPct))
	assert.Equal(t, 10*time.Minute, cfg.Engine.BridgeTimeout.Duration)
	assert.Equal(t, 3*time.Second, cfg.Supervisor.PollInterval.Duration)
	assert.True(t, decimal.RequireFromString("21.5").Equal(cfg.Networks.A.NativeUSD))
	// untouched defaults survive
	assert.Equal(t, "pharaoh", cfg.Networks.A.Venue.Kind)
	assert.Equal(t, int64(146), cfg.Networks.B.ChainID)
	assert.Equal(t, "0xabc", cfg.Wallet.PrivateKey)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(writeConfig(t, sampleTOML+"\n[engine2]\nx = 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine2")
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BRIDGEARB_MODE", "monitor")
	t.Setenv("BRIDGEARB_ENGINE_MIN_PROFIT_PCT", "0.01")
	t.Setenv("BRIDGEARB_NETWORKS_B_POOL", "0x6666666666666666666666666666666666666666")
	t.Setenv("BRIDGEARB_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("BRIDGEARB_SUPERVISOR_POLL_INTERVAL", "1s")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.Mode)
	assert.True(t, decimal.RequireFromString("0.01").Equal(cfg.Engine.MinProfitPct))
	assert.Equal(t, "0x6666666666666666666666666666666666666666", cfg.Networks.B.Pool)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, time.Second, cfg.Supervisor.PollInterval.Duration)
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BRIDGEARB_ENGINE_TRADE_AMOUNT", "lots")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BRIDGEARB_ENGINE_TRADE_AMOUNT")
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BRIDGEARB_LOG_LEVEL=warn\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BRIDGEARB_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Engine.TradeAmount = 0
	cfg.Engine.MinTrade = 5
	cfg.Engine.MaxTrade = 1
	cfg.Engine.DistributedLock = true
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "yolo"`,
		"networks.a: rpc_url must not be empty",
		"networks.b: pool must be a hex address",
		"engine: trade_amount must be > 0",
		"engine: min_trade must not exceed max_trade",
		"engine: distributed_lock requires redis.enabled",
		"notify: telegram_token and telegram_chat_id must be set together",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateLiveNeedsWalletAndRouters(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Networks.B.Venue.Router = ""

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")
	assert.Contains(t, err.Error(), "networks.b: venue.router must be a hex address")

	cfg.Engine.Simulation = true
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Networks.A.RPCURL = "https://rpc.example/KEY"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Networks.A.RPCURL)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Wallet.KeyPassword)
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	out.Bridge.Policy["USDC"] = "ccip"
	assert.Equal(t, "debridge", cfg.Bridge.Policy["USDC"])
}
