// Package engine turns a pair of price samples into an arbitrage opportunity,
// builds its execution plan and runs the plan one step at a time. At most one
// execution is in flight per process, and optionally per wallet through a
// distributed lock.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bridgearb/internal/bridge"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/profit"
	"github.com/alanyoungcy/bridgearb/internal/swap"
)

// PriceSource re-reads a network's pool price.
type PriceSource interface {
	Sample(ctx context.Context, network domain.Network) (domain.PriceSample, error)
}

// Swapper quotes and executes swaps on a network.
type Swapper interface {
	ExecuteOn(ctx context.Context, network domain.Network, req domain.SwapRequest) (domain.SwapResult, error)
	EstimateSwapCosts(ctx context.Context, legs []swap.Leg) swap.CostEstimate
}

// Bridger starts and monitors transfers between networks.
type Bridger interface {
	EstimateCost(ctx context.Context, req domain.BridgeRequest, fallbackFee *big.Int) *big.Int
	Execute(ctx context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error)
	Monitor(ctx context.Context, t domain.BridgeTransfer, timeout time.Duration) (bridge.Completion, error)
}

// Config tunes evaluation and execution.
type Config struct {
	// Home holds the capital between cycles; Remote is the other network.
	Home   domain.Network
	Remote domain.Network

	TradeAmount  *big.Int
	MinTrade     *big.Int
	MaxTrade     *big.Int
	MinProfitPct decimal.Decimal

	Simulation bool
	ForceTest  bool

	BridgeTimeout     time.Duration
	WaitStep          time.Duration
	SimulationDelay   time.Duration
	FallbackBridgeFee *big.Int
	LockTTL           time.Duration

	HistorySize int
	RecentSize  int
}

var (
	decimal0 = decimal.Zero
	decimal2 = decimal.NewFromInt(2)
)

const (
	defaultHistorySize = 1000
	defaultRecentSize  = 50
	lockKey            = "bridgearb:execution"
)

// Engine evaluates opportunities and executes their plans.
type Engine struct {
	cfg     Config
	prices  PriceSource
	swaps   Swapper
	bridges Bridger
	lock    domain.LockManager
	bus     domain.Publisher
	logger  *slog.Logger
	now     func() time.Time

	running atomic.Bool

	mu      sync.RWMutex
	history []domain.ExecutionResult
	recent  []domain.ArbitrageOpportunity
	next    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLock layers a distributed lock under the in-process execution flag.
func WithLock(l domain.LockManager) Option {
	return func(e *Engine) { e.lock = l }
}

// WithBus publishes opportunities and execution results.
func WithBus(b domain.Publisher) Option {
	return func(e *Engine) { e.bus = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(cfg Config, prices PriceSource, swaps Swapper, bridges Bridger, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.Home == "" {
		cfg.Home = domain.NetworkAvalanche
	}
	if cfg.Remote == "" {
		cfg.Remote = domain.NetworkSonic
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = defaultRecentSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2*cfg.BridgeTimeout + 5*time.Minute
	}
	e := &Engine{
		cfg:     cfg,
		prices:  prices,
		swaps:   swaps,
		bridges: bridges,
		logger:  logger.With(slog.String("component", "engine")),
		now:     time.Now,
		recent:  make([]domain.ArbitrageOpportunity, 0, cfg.RecentSize),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// InProgress reports whether an execution is running.
func (e *Engine) InProgress() bool { return e.running.Load() }

// Simulation reports whether the engine runs in simulation mode.
func (e *Engine) Simulation() bool { return e.cfg.Simulation }

// tradeAmount clamps the configured amount into [MinTrade, MaxTrade].
func (e *Engine) tradeAmount() *big.Int {
	amount := new(big.Int)
	if e.cfg.TradeAmount != nil {
		amount.Set(e.cfg.TradeAmount)
	}
	if e.cfg.MinTrade != nil && amount.Cmp(e.cfg.MinTrade) < 0 {
		amount.Set(e.cfg.MinTrade)
	}
	if e.cfg.MaxTrade != nil && e.cfg.MaxTrade.Sign() > 0 && amount.Cmp(e.cfg.MaxTrade) > 0 {
		amount.Set(e.cfg.MaxTrade)
	}
	return amount
}

// Evaluate compares the home and remote samples and prices a full cycle in the
// profitable direction. Capital is bought where the base asset is cheaper.
func (e *Engine) Evaluate(ctx context.Context, home, remote domain.PriceSample) (domain.ArbitrageOpportunity, error) {
	if home.Price == nil || remote.Price == nil || home.Price.Sign() <= 0 || remote.Price.Sign() <= 0 {
		return domain.ArbitrageOpportunity{}, &domain.ExecutionError{
			Kind:    domain.KindNotExecutable,
			Context: domain.Context{"home": bigString(home.Price), "remote": bigString(remote.Price)},
			Err:     fmt.Errorf("missing price"),
		}
	}

	direction := domain.DirectionAToB
	buy, sell := home, remote
	if remote.Price.Cmp(home.Price) < 0 {
		direction = domain.DirectionBToA
		buy, sell = remote, home
	}

	amount := e.tradeAmount()
	gross := profit.GrossProfit(amount, buy.Price, sell.Price, big.NewInt(domain.PriceScale))
	costs := e.estimateCosts(ctx, direction, amount)
	net := profit.NetProfit(gross, costs.gas, costs.bridge, costs.slippage)
	pct := profit.ProfitPercentage(net, amount)

	opp := domain.ArbitrageOpportunity{
		ID:                  uuid.NewString(),
		Direction:           direction,
		Buy:                 domain.Leg{Network: buy.Network, Pool: buy.Pool, Price: new(big.Int).Set(buy.Price), Asset: domain.AssetUSDC},
		Sell:                domain.Leg{Network: sell.Network, Pool: sell.Pool, Price: new(big.Int).Set(sell.Price), Asset: domain.AssetUSDC},
		Amount:              amount,
		EstimatedGasCost:    costs.gas,
		EstimatedBridgeCost: costs.bridge,
		EstimatedSlippage:   costs.slippage,
		GrossProfit:         gross,
		NetProfit:           net,
		ProfitPct:           pct,
		PriceDifferencePct:  profit.PriceDifference(buy.Price, sell.Price),
		Profitable:          net.Sign() > 0 && pct.GreaterThanOrEqual(e.cfg.MinProfitPct),
		CreatedAt:           e.now(),
	}
	e.remember(ctx, opp)
	return opp, nil
}

// Executable reports whether opp may be executed. The forced-test toggle
// admits unprofitable opportunities.
func (e *Engine) Executable(opp domain.ArbitrageOpportunity) bool {
	return opp.Profitable || e.cfg.ForceTest
}

type costBreakdown struct {
	gas      *big.Int
	bridge   *big.Int
	slippage *big.Int
}

// estimateCosts quotes the swap legs and both bridge legs of the plan
// concurrently. Every estimator degrades to a conservative fallback instead of
// failing.
func (e *Engine) estimateCosts(ctx context.Context, d domain.Direction, amount *big.Int) costBreakdown {
	var (
		legs     []swap.Leg
		requests []domain.BridgeRequest
	)
	for _, st := range e.template(d) {
		switch st.Kind {
		case domain.StepSwap:
			legs = append(legs, swap.Leg{
				Network: st.Network,
				Request: domain.SwapRequest{TokenIn: st.AssetIn, TokenOut: st.AssetOut, AmountIn: amount},
			})
		case domain.StepBridge:
			requests = append(requests, domain.BridgeRequest{
				Route:  domain.BridgeRoute{Asset: st.AssetIn, From: st.Network, To: st.Destination},
				Amount: amount,
			})
		}
	}

	bridgeCosts := make([]*big.Int, len(requests))
	var (
		swapCost swap.CostEstimate
		g        errgroup.Group
	)
	g.Go(func() error {
		swapCost = e.swaps.EstimateSwapCosts(ctx, legs)
		return nil
	})
	for i, req := range requests {
		g.Go(func() error {
			bridgeCosts[i] = e.bridges.EstimateCost(ctx, req, e.cfg.FallbackBridgeFee)
			return nil
		})
	}
	_ = g.Wait()

	out := costBreakdown{gas: new(big.Int), bridge: new(big.Int), slippage: new(big.Int)}
	if swapCost.Gas != nil {
		out.gas.Set(swapCost.Gas)
	}
	if swapCost.Slippage != nil {
		out.slippage.Set(swapCost.Slippage)
	}
	for _, c := range bridgeCosts {
		if c != nil {
			out.bridge.Add(out.bridge, c)
		}
	}
	return out
}

// remember keeps opp in the recent-opportunity ring and publishes it.
func (e *Engine) remember(ctx context.Context, opp domain.ArbitrageOpportunity) {
	e.mu.Lock()
	if len(e.recent) < e.cfg.RecentSize {
		e.recent = append(e.recent, opp)
	} else {
		e.recent[e.next] = opp
	}
	e.next = (e.next + 1) % e.cfg.RecentSize
	e.mu.Unlock()
	e.publish(ctx, domain.ChannelOpportunity, opp)
}

// RecentOpportunities returns the remembered opportunities, newest first.
func (e *Engine) RecentOpportunities() []domain.ArbitrageOpportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.recent)
	out := make([]domain.ArbitrageOpportunity, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, e.recent[(e.next-i+n)%n])
	}
	return out
}

// Results returns the execution history, oldest first.
func (e *Engine) Results() []domain.ExecutionResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ExecutionResult, len(e.history))
	copy(out, e.history)
	return out
}

// Result returns the execution of the given opportunity.
func (e *Engine) Result(opportunityID string) (domain.ExecutionResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].OpportunityID == opportunityID {
			return e.history[i], nil
		}
	}
	return domain.ExecutionResult{}, fmt.Errorf("engine: execution %s: %w", opportunityID, domain.ErrNotFound)
}

func (e *Engine) appendResult(ctx context.Context, r domain.ExecutionResult) {
	e.mu.Lock()
	e.history = append(e.history, r)
	if over := len(e.history) - e.cfg.HistorySize; over > 0 {
		e.history = append(e.history[:0:0], e.history[over:]...)
	}
	e.mu.Unlock()
	e.publish(ctx, domain.ChannelExecution, r)
}

func (e *Engine) publish(ctx context.Context, channel string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err == nil {
		err = e.bus.Publish(ctx, channel, payload)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "engine: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
