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
	"github.com/shopspring/decimal"
)

// envPrefix prefixes every environment override.
const envPrefix = "BRIDGEARB_"

// Load reads the TOML file at path over the built-in defaults, loads .env if
// present and applies BRIDGEARB_* overrides. An empty path skips the file.
// The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose BRIDGEARB_* variable is set.
// Secrets are normally injected this way rather than written to the TOML file.
// A variable that does not parse is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	e.str(&cfg.Mode, "MODE")
	e.str(&cfg.LogLevel, "LOG_LEVEL")

	// ── Wallet ──
	e.str(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	e.str(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	e.str(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Networks ──
	e.network(&cfg.Networks.A, "NETWORKS_A_")
	e.network(&cfg.Networks.B, "NETWORKS_B_")

	// ── Engine ──
	e.boolean(&cfg.Engine.Simulation, "ENGINE_SIMULATION")
	e.boolean(&cfg.Engine.ForceTest, "ENGINE_FORCE_TEST")
	e.int64(&cfg.Engine.TradeAmount, "ENGINE_TRADE_AMOUNT")
	e.int64(&cfg.Engine.MinTrade, "ENGINE_MIN_TRADE")
	e.int64(&cfg.Engine.MaxTrade, "ENGINE_MAX_TRADE")
	e.decimal(&cfg.Engine.MinProfitPct, "ENGINE_MIN_PROFIT_PCT")
	e.duration(&cfg.Engine.BridgeTimeout, "ENGINE_BRIDGE_TIMEOUT")
	e.boolean(&cfg.Engine.DistributedLock, "ENGINE_DISTRIBUTED_LOCK")

	// ── Pricing ──
	e.boolean(&cfg.Pricing.FallbackEnabled, "PRICING_FALLBACK_ENABLED")
	e.duration(&cfg.Pricing.StaleThreshold, "PRICING_STALE_THRESHOLD")

	// ── Bridge ──
	e.str(&cfg.Bridge.DeBridgeURL, "BRIDGE_DEBRIDGE_URL")
	e.duration(&cfg.Bridge.CCIPDwell, "BRIDGE_CCIP_DWELL")

	// ── Supervisor ──
	e.duration(&cfg.Supervisor.PollInterval, "SUPERVISOR_POLL_INTERVAL")
	e.int(&cfg.Supervisor.MaxConsecutiveErrors, "SUPERVISOR_MAX_CONSECUTIVE_ERRORS")

	// ── Redis ──
	e.boolean(&cfg.Redis.Enabled, "REDIS_ENABLED")
	e.str(&cfg.Redis.Addr, "REDIS_ADDR")
	e.str(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.int(&cfg.Redis.DB, "REDIS_DB")
	e.boolean(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	e.str(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── Server ──
	e.boolean(&cfg.Server.Enabled, "SERVER_ENABLED")
	e.int(&cfg.Server.Port, "SERVER_PORT")
	e.strings(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	e.str(&cfg.Server.APIKey, "SERVER_API_KEY")

	// ── Notify ──
	e.str(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	e.str(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	e.str(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	e.strings(&cfg.Notify.Events, "NOTIFY_EVENTS")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(e.errs...))
	}
	return nil
}

// envReader applies typed overrides and collects parse errors. Each setter only
// mutates the target when the variable is present and non-empty.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
}

func (e *envReader) network(n *NetworkConfig, prefix string) {
	e.str(&n.RPCURL, prefix+"RPC_URL")
	e.str(&n.Pool, prefix+"POOL")
	e.decimal(&n.NativeUSD, prefix+"NATIVE_USD")
	e.str(&n.Venue.Router, prefix+"VENUE_ROUTER")
	e.str(&n.CCIPRouter, prefix+"CCIP_ROUTER")
}

func (e *envReader) str(dst *string, key string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(dst *int, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(dst *int64, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(dst *bool, key string) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) decimal(dst *decimal.Decimal, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) duration(dst *duration, key string) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		dst.Duration = d
	}
}

func (e *envReader) strings(dst *[]string, key string) {
	if v, ok := e.lookup(key); ok {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
