package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bridgearb/internal/bridge"
	"github.com/alanyoungcy/bridgearb/internal/cache/redis"
	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/config"
	"github.com/alanyoungcy/bridgearb/internal/crypto"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/engine"
	"github.com/alanyoungcy/bridgearb/internal/notify"
	"github.com/alanyoungcy/bridgearb/internal/pricing"
	"github.com/alanyoungcy/bridgearb/internal/retry"
	"github.com/alanyoungcy/bridgearb/internal/swap"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Home   domain.Network
	Remote domain.Network
	// Clients holds one chain client per network, home first.
	Clients []*chain.EthClient

	Sampler  *pricing.Sampler
	Swaps    *swap.Coordinator
	Bridges  *bridge.Coordinator
	Engine   *engine.Engine
	Notifier *notify.Notifier

	// Redis and everything built on it are nil when redis is disabled.
	Redis       *redis.Client
	SignalBus   *redis.SignalBus
	RateLimiter *redis.RateLimiter

	// publisher receives bot events. It is the redis bus when present and is
	// otherwise filled in by the mode once the websocket hub exists.
	publisher *publisherRef
}

// publisherRef lets components built before the websocket hub publish to it.
type publisherRef struct {
	target domain.Publisher
}

func (p *publisherRef) Publish(ctx context.Context, channel string, payload []byte) error {
	if p.target == nil {
		return nil
	}
	return p.target.Publish(ctx, channel, payload)
}

// Wire constructs every dependency from cfg and returns them together with a
// cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Home:      domain.Network(cfg.Networks.A.Name),
		Remote:    domain.Network(cfg.Networks.B.Name),
		publisher: &publisherRef{},
	}
	policy := retryPolicy(cfg.Retry)

	// --- Redis (optional) ---
	var samplerOpts []pricing.Option
	var engineOpts []engine.Option
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
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.publisher.target = deps.SignalBus
		samplerOpts = append(samplerOpts, pricing.WithCache(redis.NewPriceCache(rc, cfg.Redis.PriceTTL.Duration)))
		if cfg.Engine.DistributedLock {
			engineOpts = append(engineOpts, engine.WithLock(redis.NewLockManager(rc)))
		}
	}
	samplerOpts = append(samplerOpts, pricing.WithBus(deps.publisher))
	engineOpts = append(engineOpts, engine.WithBus(deps.publisher))

	// --- Wallet ---
	var signer *crypto.Signer
	if cfg.Live() {
		key, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wire: wallet: %w", err)
		}
		if signer, err = crypto.NewSigner(key); err != nil {
			return fail("wire: signer: %w", err)
		}
		logger.InfoContext(ctx, "wallet loaded", slog.String("address", signer.Address().Hex()))
	}

	// --- Chains ---
	networks := []config.NetworkConfig{cfg.Networks.A, cfg.Networks.B}
	clients := make([]chain.Client, 0, len(networks))
	for _, n := range networks {
		c, err := chain.Dial(ctx, chain.Config{
			Network:     domain.Network(n.Name),
			RPCURL:      n.RPCURL,
			ChainID:     n.ChainID,
			Signer:      signer,
			Retry:       policy,
			ReceiptPoll: n.ReceiptPoll.Duration,
		}, logger)
		if err != nil {
			return fail("wire: chain: %w", err)
		}
		closers = append(closers, c.Close)
		deps.Clients = append(deps.Clients, c)
		clients = append(clients, c)
	}

	// --- Pricing ---
	pools := make([]pricing.Pool, 0, len(networks))
	for _, n := range networks {
		pools = append(pools, pricing.Pool{Network: domain.Network(n.Name), Address: n.Pool, QuoteToken: n.USDT})
	}
	band := pricing.Band{Min: big.NewInt(cfg.Pricing.BandMin), Max: big.NewInt(cfg.Pricing.BandMax)}
	sampler, err := pricing.NewSampler(clients, pools, pricing.Config{
		FallbackEnabled: cfg.Pricing.FallbackEnabled,
		Band:            band,
		StaleThreshold:  cfg.Pricing.StaleThreshold.Duration,
		HistorySize:     cfg.Pricing.HistorySize,
	}, logger, samplerOpts...)
	if err != nil {
		return fail("wire: sampler: %w", err)
	}
	deps.Sampler = sampler

	// --- Swap venues ---
	venues := make([]swap.Venue, 0, len(networks))
	for i, n := range networks {
		v, err := swap.New(swap.Config{
			Kind:            swap.VenueKind(n.Venue.Kind),
			Network:         domain.Network(n.Name),
			Router:          n.Venue.Router,
			Pool:            n.Pool,
			Tokens:          tokens(n),
			FeeBps:          n.Venue.FeeBps,
			FeeTier:         n.Venue.FeeTier,
			TickSpacing:     n.Venue.TickSpacing,
			GasEstimate:     n.Venue.GasEstimate,
			ImpactCap:       cfg.Venues.ImpactCap,
			SlippageBps:     cfg.Venues.SlippageBps,
			NativeUSD:       n.NativeUSD,
			Deadline:        cfg.Venues.Deadline.Duration,
			Band:            band,
			FallbackEnabled: cfg.Pricing.FallbackEnabled,
		}, clients[i], logger)
		if err != nil {
			return fail("wire: venue: %w", err)
		}
		venues = append(venues, v)
	}
	deps.Swaps = swap.NewCoordinator(venues, big.NewInt(cfg.Venues.FallbackGasCost), logger)

	// --- Bridges ---
	endpoints := make(bridge.Endpoints, len(networks))
	nativeUSD := make(map[domain.Network]decimal.Decimal, len(networks))
	for _, n := range networks {
		endpoints[domain.Network(n.Name)] = bridge.Endpoint{
			Network:      domain.Network(n.Name),
			ChainID:      debridgeChainID(n),
			CCIPSelector: n.CCIPSelector,
			CCIPRouter:   n.CCIPRouter,
			Tokens:       tokens(n),
		}
		nativeUSD[domain.Network(n.Name)] = n.NativeUSD
	}
	providers := []bridge.Provider{
		bridge.NewDeBridge(bridge.DeBridgeConfig{
			BaseURL:      cfg.Bridge.DeBridgeURL,
			PollInterval: cfg.Bridge.DeBridgePollInterval.Duration,
			Endpoints:    endpoints,
			NativeUSD:    nativeUSD,
			Retry:        policy,
		}, clients, logger),
		bridge.NewCCIP(bridge.CCIPConfig{
			Endpoints: endpoints,
			NativeUSD: nativeUSD,
			Dwell:     cfg.Bridge.CCIPDwell.Duration,
		}, clients, logger),
	}
	sim := bridge.NewSimulation(cfg.Bridge.SimMinDelay.Duration, cfg.Bridge.SimMaxDelay.Duration, logger)
	deps.Bridges = bridge.NewCoordinator(providers, sim, bridgePolicy(cfg.Bridge.Policy), logger)

	// --- Engine ---
	deps.Engine = engine.New(engine.Config{
		Home:              deps.Home,
		Remote:            deps.Remote,
		TradeAmount:       big.NewInt(cfg.Engine.TradeAmount),
		MinTrade:          big.NewInt(cfg.Engine.MinTrade),
		MaxTrade:          big.NewInt(cfg.Engine.MaxTrade),
		MinProfitPct:      cfg.Engine.MinProfitPct,
		Simulation:        cfg.Engine.Simulation,
		ForceTest:         cfg.Engine.ForceTest,
		BridgeTimeout:     cfg.Engine.BridgeTimeout.Duration,
		WaitStep:          cfg.Engine.WaitStep.Duration,
		SimulationDelay:   cfg.Engine.SimulationDelay.Duration,
		FallbackBridgeFee: big.NewInt(cfg.Engine.FallbackBridgeFee),
		HistorySize:       cfg.Engine.HistorySize,
		RecentSize:        cfg.Engine.RecentSize,
	}, sampler, deps.Swaps, deps.Bridges, logger, engineOpts...)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			notify.WithTelegramRetry(policy),
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, policy))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func retryPolicy(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Duration,
		Multiplier:  c.Multiplier,
		MaxDelay:    c.MaxDelay.Duration,
	}
}

func tokens(n config.NetworkConfig) map[domain.Asset]string {
	return map[domain.Asset]string{
		domain.AssetUSDC: n.USDC,
		domain.AssetUSDT: n.USDT,
	}
}

func debridgeChainID(n config.NetworkConfig) int64 {
	if n.DeBridgeChainID > 0 {
		return n.DeBridgeChainID
	}
	return n.ChainID
}

// bridgePolicy overlays the configured asset to provider choices on the
// default policy.
func bridgePolicy(m map[string]string) bridge.Policy {
	p := bridge.DefaultPolicy()
	for asset, provider := range m {
		p[domain.Asset(asset)] = bridge.ProviderKind(provider)
	}
	return p
}
