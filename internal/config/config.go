// Package config defines the bot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BRIDGEARB_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Wallet     WalletConfig     `toml:"wallet"`
	Networks   NetworksConfig   `toml:"networks"`
	Engine     EngineConfig     `toml:"engine"`
	Pricing    PricingConfig    `toml:"pricing"`
	Venues     VenuesConfig     `toml:"venues"`
	Bridge     BridgeConfig     `toml:"bridge"`
	Retry      RetryConfig      `toml:"retry"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Redis      RedisConfig      `toml:"redis"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
}

// WalletConfig holds the signing key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// NetworksConfig names the home network (A) and the remote network (B).
type NetworksConfig struct {
	A NetworkConfig `toml:"a"`
	B NetworkConfig `toml:"b"`
}

// NetworkConfig describes one chain: its RPC, the sampled pool, the swap venue
// deployed on it and its bridge endpoints.
type NetworkConfig struct {
	Name        string          `toml:"name"`
	ChainID     int64           `toml:"chain_id"`
	RPCURL      string          `toml:"rpc_url"`
	Pool        string          `toml:"pool"`
	USDC        string          `toml:"usdc"`
	USDT        string          `toml:"usdt"`
	NativeUSD   decimal.Decimal `toml:"native_usd"`
	ReceiptPoll duration        `toml:"receipt_poll"`
	// DeBridgeChainID overrides ChainID for the deBridge API.
	DeBridgeChainID int64  `toml:"debridge_chain_id"`
	CCIPSelector    uint64 `toml:"ccip_selector"`
	CCIPRouter      string `toml:"ccip_router"`

	Venue VenueConfig `toml:"venue"`
}

// VenueConfig is the swap venue deployed on a network.
type VenueConfig struct {
	Kind        string `toml:"kind"` // "pharaoh" or "shadow"
	Router      string `toml:"router"`
	FeeBps      int64  `toml:"fee_bps"`
	FeeTier     int64  `toml:"fee_tier"`
	TickSpacing int64  `toml:"tick_spacing"`
	GasEstimate uint64 `toml:"gas_estimate"`
}

// EngineConfig tunes evaluation and execution. Amounts are USDC base units
// (six decimals).
type EngineConfig struct {
	Simulation        bool            `toml:"simulation"`
	ForceTest         bool            `toml:"force_test"`
	TradeAmount       int64           `toml:"trade_amount"`
	MinTrade          int64           `toml:"min_trade"`
	MaxTrade          int64           `toml:"max_trade"`
	MinProfitPct      decimal.Decimal `toml:"min_profit_pct"`
	BridgeTimeout     duration        `toml:"bridge_timeout"`
	WaitStep          duration        `toml:"wait_step"`
	SimulationDelay   duration        `toml:"simulation_delay"`
	FallbackBridgeFee int64           `toml:"fallback_bridge_fee"`
	DistributedLock   bool            `toml:"distributed_lock"`
	HistorySize       int             `toml:"history_size"`
	RecentSize        int             `toml:"recent_size"`
}

// PricingConfig tunes the price sampler.
type PricingConfig struct {
	FallbackEnabled bool     `toml:"fallback_enabled"`
	BandMin         int64    `toml:"band_min"`
	BandMax         int64    `toml:"band_max"`
	StaleThreshold  duration `toml:"stale_threshold"`
	HistorySize     int      `toml:"history_size"`
	TWAPWindow      duration `toml:"twap_window"`
}

// VenuesConfig holds settings shared by every swap venue.
type VenuesConfig struct {
	ImpactCap       decimal.Decimal `toml:"impact_cap"`
	SlippageBps     int64           `toml:"slippage_bps"`
	FallbackGasCost int64           `toml:"fallback_gas_cost"`
	Deadline        duration        `toml:"deadline"`
}

// BridgeConfig configures the bridge providers.
type BridgeConfig struct {
	DeBridgeURL          string   `toml:"debridge_url"`
	DeBridgePollInterval duration `toml:"debridge_poll_interval"`
	CCIPDwell            duration `toml:"ccip_dwell"`
	SimMinDelay          duration `toml:"sim_min_delay"`
	SimMaxDelay          duration `toml:"sim_max_delay"`
	// Policy maps an asset symbol to its preferred provider.
	Policy map[string]string `toml:"policy"`
}

// RetryConfig is the backoff policy for transient network calls.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	Multiplier  float64  `toml:"multiplier"`
	MaxDelay    duration `toml:"max_delay"`
}

// SupervisorConfig tunes the poll loop.
type SupervisorConfig struct {
	PollInterval         duration `toml:"poll_interval"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
}

// RedisConfig holds Redis connection parameters. Redis is optional.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	PriceTTL   duration `toml:"price_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values in config.example.toml,
// minus the deployment-specific addresses.
func Defaults() Config {
	return Config{
		Mode:     "monitor",
		LogLevel: "info",
		Networks: NetworksConfig{
			A: NetworkConfig{
				Name:         "avalanche",
				ChainID:      43114,
				NativeUSD:    decimal.NewFromInt(25),
				ReceiptPoll:  duration{2 * time.Second},
				CCIPSelector: 6433500567565415381,
				Venue:        VenueConfig{Kind: "pharaoh", FeeBps: 1, FeeTier: 100, GasEstimate: 180_000},
			},
			B: NetworkConfig{
				Name:            "sonic",
				ChainID:         146,
				NativeUSD:       decimal.RequireFromString("0.5"),
				ReceiptPoll:     duration{time.Second},
				DeBridgeChainID: 100000014,
				Venue:           VenueConfig{Kind: "shadow", FeeBps: 1, TickSpacing: 1, GasEstimate: 200_000},
			},
		},
		Engine: EngineConfig{
			Simulation:        true,
			TradeAmount:       1_000_000_000,
			MinTrade:          100_000_000,
			MaxTrade:          10_000_000_000,
			MinProfitPct:      decimal.RequireFromString("0.001"),
			BridgeTimeout:     duration{30 * time.Minute},
			WaitStep:          duration{30 * time.Second},
			SimulationDelay:   duration{2 * time.Second},
			FallbackBridgeFee: 1_000_000,
			HistorySize:       1000,
			RecentSize:        50,
		},
		Pricing: PricingConfig{
			FallbackEnabled: true,
			BandMin:         500_000,
			BandMax:         2_000_000,
			StaleThreshold:  duration{time.Minute},
			HistorySize:     100,
			TWAPWindow:      duration{5 * time.Minute},
		},
		Venues: VenuesConfig{
			ImpactCap:       decimal.RequireFromString("0.05"),
			SlippageBps:     50,
			FallbackGasCost: 250_000,
			Deadline:        duration{5 * time.Minute},
		},
		Bridge: BridgeConfig{
			DeBridgeURL:          "https://dln.debridge.finance/v1.0/dln",
			DeBridgePollInterval: duration{10 * time.Second},
			CCIPDwell:            duration{20 * time.Minute},
			SimMinDelay:          duration{2 * time.Second},
			SimMaxDelay:          duration{5 * time.Second},
			Policy:               map[string]string{"USDC": "debridge", "USDT": "ccip"},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   duration{500 * time.Millisecond},
			Multiplier:  2,
			MaxDelay:    duration{10 * time.Second},
		},
		Supervisor: SupervisorConfig{
			PollInterval:         duration{10 * time.Second},
			MaxConsecutiveErrors: 5,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "bridgearb",
			PriceTTL:   duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"execution", "circuit_breaker", "shutdown"},
		},
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenues = map[string]bool{
	"pharaoh": true,
	"shadow":  true,
}

var validProviders = map[string]bool{
	"debridge": true,
	"ccip":     true,
}

// Live reports whether the configuration signs real transactions.
func (c *Config) Live() bool {
	return strings.EqualFold(c.Mode, "trade") && !c.Engine.Simulation
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Live() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for live trading")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
	}

	c.validateNetwork("networks.a", c.Networks.A, &errs)
	c.validateNetwork("networks.b", c.Networks.B, &errs)
	if c.Networks.A.Name != "" && strings.EqualFold(c.Networks.A.Name, c.Networks.B.Name) {
		add("networks: a and b must be different networks")
	}

	e := c.Engine
	if e.TradeAmount <= 0 {
		add("engine: trade_amount must be > 0")
	}
	if e.MinTrade < 0 || e.MaxTrade < 0 {
		add("engine: min_trade and max_trade must be >= 0")
	}
	if e.MaxTrade > 0 && e.MinTrade > e.MaxTrade {
		add("engine: min_trade must not exceed max_trade")
	}
	if e.MinProfitPct.IsNegative() {
		add("engine: min_profit_pct must be >= 0")
	}
	if e.BridgeTimeout.Duration <= 0 {
		add("engine: bridge_timeout must be > 0")
	}
	if e.WaitStep.Duration < 0 || e.SimulationDelay.Duration < 0 {
		add("engine: wait_step and simulation_delay must be >= 0")
	}
	if e.DistributedLock && !c.Redis.Enabled {
		add("engine: distributed_lock requires redis.enabled")
	}

	if c.Pricing.BandMin <= 0 || c.Pricing.BandMin >= c.Pricing.BandMax {
		add("pricing: band_min must be > 0 and below band_max")
	}
	if c.Pricing.HistorySize < 1 {
		add("pricing: history_size must be >= 1")
	}

	if c.Venues.ImpactCap.IsNegative() || c.Venues.ImpactCap.GreaterThan(decimal.NewFromInt(1)) {
		add("venues: impact_cap must be within [0, 1]")
	}
	if c.Venues.SlippageBps < 0 || c.Venues.SlippageBps >= 10_000 {
		add("venues: slippage_bps must be within [0, 10000)")
	}

	if c.Bridge.DeBridgeURL == "" {
		add("bridge: debridge_url must not be empty")
	}
	if c.Bridge.SimMaxDelay.Duration < c.Bridge.SimMinDelay.Duration {
		add("bridge: sim_max_delay must be >= sim_min_delay")
	}
	for asset, provider := range c.Bridge.Policy {
		if asset != "USDC" && asset != "USDT" {
			add("bridge: policy asset %q (valid: USDC, USDT)", asset)
		}
		if !validProviders[provider] {
			add("bridge: policy provider %q for %s (valid: debridge, ccip)", provider, asset)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		add("retry: max_attempts must be >= 1")
	}
	if c.Retry.Multiplier < 1 {
		add("retry: multiplier must be >= 1")
	}

	if c.Supervisor.PollInterval.Duration <= 0 {
		add("supervisor: poll_interval must be > 0")
	}
	if c.Supervisor.MaxConsecutiveErrors < 1 {
		add("supervisor: max_consecutive_errors must be >= 1")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateNetwork(section string, n NetworkConfig, errs *[]string) {
	add := func(format string, args ...any) {
		*errs = append(*errs, section+": "+fmt.Sprintf(format, args...))
	}

	switch n.Name {
	case "avalanche", "sonic":
	default:
		add("unknown name %q (valid: avalanche, sonic)", n.Name)
	}
	if n.ChainID <= 0 {
		add("chain_id must be positive")
	}
	if n.RPCURL == "" {
		add("rpc_url must not be empty")
	}
	if !common.IsHexAddress(n.Pool) {
		add("pool must be a hex address")
	}
	if !common.IsHexAddress(n.USDC) || !common.IsHexAddress(n.USDT) {
		add("usdc and usdt must be hex addresses")
	}
	if !n.NativeUSD.IsPositive() {
		add("native_usd must be > 0")
	}
	if n.CCIPRouter != "" && !common.IsHexAddress(n.CCIPRouter) {
		add("ccip_router must be a hex address")
	}

	if !validVenues[n.Venue.Kind] {
		add("venue.kind %q (valid: pharaoh, shadow)", n.Venue.Kind)
	}
	if c.Live() && !common.IsHexAddress(n.Venue.Router) {
		add("venue.router must be a hex address for live trading")
	}
	if n.Venue.FeeBps < 0 {
		add("venue.fee_bps must be >= 0")
	}
}
