package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/server"
	"github.com/alanyoungcy/bridgearb/internal/server/handler"
	"github.com/alanyoungcy/bridgearb/internal/server/middleware"
	"github.com/alanyoungcy/bridgearb/internal/server/ws"
	"github.com/alanyoungcy/bridgearb/internal/supervisor"
)

// venueProbe is the USDC amount quoted by the venue health endpoint.
var venueProbe = big.NewInt(1_000_000)

// TradeMode runs the poll loop with execution enabled. Without a signer the
// engine runs its simulated plan.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("simulation", a.cfg.Engine.Simulation),
		slog.Bool("force_test", a.cfg.Engine.ForceTest),
	)
	if a.cfg.Live() {
		a.logBalances(ctx, deps)
	}
	return a.run(ctx, deps, true)
}

// MonitorMode evaluates opportunities and serves the API. Nothing is executed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.run(ctx, deps, false)
}

func (a *App) run(ctx context.Context, deps *Dependencies, execute bool) error {
	g, ctx := errgroup.WithContext(ctx)

	sup := supervisor.New(supervisor.Config{
		Home:                 deps.Home,
		Remote:               deps.Remote,
		PollInterval:         a.cfg.Supervisor.PollInterval.Duration,
		MaxConsecutiveErrors: a.cfg.Supervisor.MaxConsecutiveErrors,
		Execute:              execute,
	}, deps.Sampler, deps.Engine, deps.Notifier, deps.publisher, a.logger)

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(busOrNil(deps), func() any { return sup.Metrics() }, a.logger)
		if deps.SignalBus == nil {
			deps.publisher.target = hub
		}
		g.Go(func() error {
			return hub.Run(ctx)
		})
		a.startHTTPServer(ctx, g, deps, hub, sup)
	}

	g.Go(func() error {
		return sup.Run(ctx)
	})

	return g.Wait()
}

// busOrNil keeps a nil *redis.SignalBus from becoming a non-nil interface.
func busOrNil(deps *Dependencies) domain.SignalBus {
	if deps.SignalBus == nil {
		return nil
	}
	return deps.SignalBus
}

// startHTTPServer builds the API on top of deps and runs it until ctx is done.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	sup *supervisor.Supervisor,
) {
	pingers := make(map[string]handler.Pinger, len(deps.Clients)+1)
	for _, c := range deps.Clients {
		pingers["rpc_"+string(c.Network())] = rpcPinger{c: c}
	}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
	}

	var limiter middleware.Limiter
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		supervisor.NewCollector(sup, deps.Engine.InProgress),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	})

	srv := server.NewServer(server.Config{
		Addr:        fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(pingers, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, sup, deps.Engine),
		Prices:  handler.NewPriceHandler(deps.Sampler, a.logger),
		Engine:  handler.NewEngineHandler(deps.Engine, a.logger),
		Venues:  handler.NewVenueHandler(deps.Swaps, deps.Bridges, deps.Home, deps.Remote, venueProbe),
		Metrics: metrics,
	}, hub, limiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// logBalances reports the wallet's stable and native balances on both
// networks before live trading starts.
func (a *App) logBalances(ctx context.Context, deps *Dependencies) {
	tokens := map[domain.Network]map[domain.Asset]string{
		deps.Home:   tokens(a.cfg.Networks.A),
		deps.Remote: tokens(a.cfg.Networks.B),
	}
	for _, c := range deps.Clients {
		attrs := []any{slog.String("network", string(c.Network())), slog.String("wallet", c.Address().Hex())}
		if native, err := c.NativeBalance(ctx); err == nil {
			attrs = append(attrs, slog.String("native", native.String()))
		}
		for asset, token := range tokens[c.Network()] {
			bal, err := c.BalanceOf(ctx, common.HexToAddress(token), c.Address())
			if err != nil {
				a.logger.WarnContext(ctx, "balance check failed",
					slog.String("network", string(c.Network())),
					slog.String("asset", string(asset)),
					slog.String("error", err.Error()),
				)
				continue
			}
			attrs = append(attrs, slog.String(string(asset), bal.String()))
		}
		a.logger.InfoContext(ctx, "wallet balances", attrs...)
	}
}

// rpcPinger checks an RPC endpoint by reading the head block.
type rpcPinger struct {
	c interface {
		BlockNumber(ctx context.Context) (uint64, error)
	}
}

func (p rpcPinger) Ping(ctx context.Context) error {
	_, err := p.c.BlockNumber(ctx)
	return err
}
