package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bridgearb/internal/bridge"
	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/chain/chaintest"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/swap"
)

const (
	home   = domain.NetworkAvalanche
	remote = domain.NetworkSonic
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakePrices struct {
	mu     sync.Mutex
	prices map[domain.Network]int64
}

func (f *fakePrices) set(n domain.Network, p int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[n] = p
}

func (f *fakePrices) Sample(_ context.Context, n domain.Network) (domain.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[n]
	if !ok {
		return domain.PriceSample{}, &domain.PriceError{Kind: domain.KindPoolRead, Network: n, Err: errors.New("no pool")}
	}
	return sample(n, p), nil
}

type fakeSwaps struct {
	bonus map[domain.Network]int64
	gas   int64
	calls atomic.Int32
}

func (f *fakeSwaps) ExecuteOn(_ context.Context, n domain.Network, req domain.SwapRequest) (domain.SwapResult, error) {
	f.calls.Add(1)
	out := new(big.Int).Add(req.AmountIn, big.NewInt(f.bonus[n]))
	return domain.SwapResult{
		Venue:     "fake",
		Network:   n,
		TxRef:     "0xswap-" + string(n),
		AmountIn:  req.AmountIn,
		AmountOut: out,
		GasUsed:   100_000,
		GasCost:   big.NewInt(f.gas),
	}, nil
}

func (f *fakeSwaps) EstimateSwapCosts(context.Context, []swap.Leg) swap.CostEstimate {
	return swap.CostEstimate{Gas: big.NewInt(400), Slippage: new(big.Int)}
}

type fakeBridges struct {
	gas     int64
	monErr  error
	started chan struct{}
	gate    chan struct{}
	calls   atomic.Int32
}

func (f *fakeBridges) EstimateCost(context.Context, domain.BridgeRequest, *big.Int) *big.Int {
	return big.NewInt(250)
}

func (f *fakeBridges) Execute(_ context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error) {
	f.calls.Add(1)
	return domain.BridgeTransfer{
		Provider:        "fake",
		Route:           req.Route,
		TxRef:           "0xbridge-" + string(req.Route.Asset),
		AmountIn:        req.Amount,
		EstimatedOutput: req.Amount,
		GasCost:         big.NewInt(f.gas),
	}, nil
}

func (f *fakeBridges) Monitor(ctx context.Context, t domain.BridgeTransfer, _ time.Duration) (bridge.Completion, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return bridge.Completion{}, ctx.Err()
		}
	}
	if f.monErr != nil {
		return bridge.Completion{}, f.monErr
	}
	return bridge.Completion{Provider: "fake", TxRef: t.TxRef, AmountOut: t.EstimatedOutput}, nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func sample(n domain.Network, price int64) domain.PriceSample {
	return domain.PriceSample{Network: n, Pool: "0xpool-" + string(n), Price: big.NewInt(price), Timestamp: time.Now()}
}

type fixture struct {
	prices  *fakePrices
	swaps   *fakeSwaps
	bridges *fakeBridges
	engine  *Engine
}

func newFixture(t *testing.T, mutate func(*Config), opts ...Option) *fixture {
	t.Helper()
	cfg := Config{
		TradeAmount:   big.NewInt(1_000_000),
		MinTrade:      big.NewInt(100_000),
		MaxTrade:      big.NewInt(10_000_000),
		MinProfitPct:  decimal.RequireFromString("0.005"),
		BridgeTimeout: time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{
		prices:  &fakePrices{prices: map[domain.Network]int64{}},
		swaps:   &fakeSwaps{bonus: map[domain.Network]int64{}, gas: 100},
		bridges: &fakeBridges{gas: 50},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(cfg, f.prices, f.swaps, f.bridges, logger, opts...)
	return f
}

// opportunity evaluates home/remote prices and mirrors them into the price
// source so re-validation sees an unchanged market.
func (f *fixture) opportunity(t *testing.T, homePrice, remotePrice int64) domain.ArbitrageOpportunity {
	t.Helper()
	f.prices.set(home, homePrice)
	f.prices.set(remote, remotePrice)
	opp, err := f.engine.Evaluate(context.Background(), sample(home, homePrice), sample(remote, remotePrice))
	require.NoError(t, err)
	return opp
}

// --------------------------------------------------------------------------
// Evaluation and planning
// --------------------------------------------------------------------------

func TestEvaluateProfitNumbers(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 999_500, 1_000_500)

	assert.Equal(t, domain.DirectionAToB, opp.Direction)
	assert.Equal(t, home, opp.Buy.Network)
	assert.Equal(t, remote, opp.Sell.Network)
	assert.Equal(t, int64(1_000), opp.GrossProfit.Int64())
	// 400 swap gas + 2 x 250 bridge
	assert.Equal(t, int64(900), opp.TotalCost().Int64())
	assert.Equal(t, int64(100), opp.NetProfit.Int64())
	assert.True(t, opp.ProfitPct.Equal(decimal.RequireFromString("0.01")), "pct %s", opp.ProfitPct)
	assert.True(t, opp.Profitable)
}

func TestEvaluateChoosesCheaperSide(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 1_002_000, 1_000_000)

	assert.Equal(t, domain.DirectionBToA, opp.Direction)
	assert.Equal(t, remote, opp.Buy.Network)
	assert.Equal(t, int64(2_000), opp.GrossProfit.Int64())
}

func TestEvaluateBelowThresholdIsNotProfitable(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 1_000_000, 1_000_500)

	assert.Equal(t, int64(0), opp.NetProfit.Int64())
	assert.False(t, opp.Profitable)
	assert.False(t, f.engine.Executable(opp))
}

func TestEvaluateRejectsMissingPrice(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Evaluate(context.Background(), domain.PriceSample{Network: home}, sample(remote, 1_000_000))
	assert.Equal(t, domain.KindNotExecutable, domain.KindOf(err))
}

func TestTradeAmountClamped(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TradeAmount = big.NewInt(50_000_000) })
	opp := f.opportunity(t, 999_000, 1_001_000)
	assert.Equal(t, int64(10_000_000), opp.Amount.Int64())
}

func TestPlanStepOrder(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		direction domain.Direction
		want      []domain.StepKind
	}{
		{domain.DirectionAToB, []domain.StepKind{domain.StepSwap, domain.StepBridge, domain.StepWait, domain.StepSwap, domain.StepBridge, domain.StepWait}},
		{domain.DirectionBToA, []domain.StepKind{domain.StepBridge, domain.StepWait, domain.StepSwap, domain.StepBridge, domain.StepWait, domain.StepSwap}},
	}
	for _, tc := range tests {
		t.Run(string(tc.direction), func(t *testing.T) {
			plan, err := f.engine.BuildPlan(domain.ArbitrageOpportunity{ID: "x", Direction: tc.direction})
			require.NoError(t, err)
			assert.Equal(t, tc.want, plan.Kinds())
			for i, s := range plan.Steps {
				assert.Equal(t, i, s.Index)
				assert.Equal(t, domain.StepPending, s.Status)
			}
			first, last := plan.Steps[0], plan.Steps[len(plan.Steps)-1]
			assert.Equal(t, home, first.Network)
			assert.Equal(t, home, last.Network)
		})
	}

	_, err := f.engine.BuildPlan(domain.ArbitrageOpportunity{Direction: "sideways"})
	assert.Error(t, err)
}

func TestPlanAssetsChain(t *testing.T) {
	f := newFixture(t, nil)
	plan, err := f.engine.BuildPlan(domain.ArbitrageOpportunity{Direction: domain.DirectionAToB})
	require.NoError(t, err)

	assert.Equal(t, domain.AssetUSDT, plan.Steps[0].AssetIn)
	assert.Equal(t, domain.AssetUSDC, plan.Steps[0].AssetOut)
	assert.Equal(t, domain.AssetUSDC, plan.Steps[1].AssetIn)
	assert.Equal(t, remote, plan.Steps[1].Destination)
	assert.Equal(t, remote, plan.Steps[3].Network)
	assert.Equal(t, domain.AssetUSDT, plan.Steps[4].AssetIn)
	assert.Equal(t, home, plan.Steps[4].Destination)
	assert.Equal(t, 2*time.Second, plan.EstimatedDuration)
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

func TestExecuteFeedsOutputsForward(t *testing.T) {
	f := newFixture(t, nil)
	f.swaps.bonus[remote] = 600
	opp := f.opportunity(t, 999_000, 1_001_000)

	res, err := f.engine.Execute(context.Background(), opp)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	assert.Len(t, res.CompletedSteps, 6)
	assert.Nil(t, res.FailedStep)
	assert.Equal(t, int64(1_000_600), res.FinalAmount.Int64())
	// two swaps at 100 and two bridges at 50
	assert.Equal(t, int64(300), res.TotalGasCost.Int64())
	assert.Equal(t, int64(300), res.NetProfit.Int64())
	assert.Len(t, res.TxRefs, 4)
	assert.False(t, f.engine.InProgress())

	got, err := f.engine.Result(opp.ID)
	require.NoError(t, err)
	assert.Equal(t, res.NetProfit, got.NetProfit)
}

// ccipCoordinator routes USDC from home through a CCIP router on a fake chain
// and everything else through simulation.
func ccipCoordinator(t *testing.T, logger *slog.Logger) *bridge.Coordinator {
	t.Helper()
	router := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	client := chaintest.New(home)
	selector := func(sig string) []byte { return crypto.Keccak256([]byte(sig))[:4] }
	client.SetCallResult(router, selector("getFee(uint64,(bytes,bytes,(address,uint256)[],address,bytes))"),
		common.LeftPadBytes(big.NewInt(2_000_000_000_000_000).Bytes(), 32))
	client.SetCallResult(router, selector("isChainSupported(uint64)"), common.LeftPadBytes([]byte{1}, 32))

	endpoints := bridge.Endpoints{
		home: {
			Network:      home,
			ChainID:      43114,
			CCIPSelector: 6433500567565415381,
			CCIPRouter:   router.Hex(),
			Tokens:       map[domain.Asset]string{domain.AssetUSDC: "0x00000000000000000000000000000000000000c1"},
		},
		remote: {
			Network:      remote,
			ChainID:      146,
			CCIPSelector: 1673871237479749969,
			Tokens:       map[domain.Asset]string{domain.AssetUSDC: "0x00000000000000000000000000000000000000c2"},
		},
	}
	ccip := bridge.NewCCIP(bridge.CCIPConfig{
		Endpoints: endpoints,
		NativeUSD: map[domain.Network]decimal.Decimal{home: decimal.NewFromInt(20)},
		Dwell:     time.Millisecond,
	}, []chain.Client{client}, logger)
	return bridge.NewCoordinator([]bridge.Provider{ccip}, bridge.NewSimulation(0, 0, logger),
		bridge.Policy{domain.AssetUSDC: bridge.KindCCIP}, logger)
}

func TestExecuteCountsBridgeFeeOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prices := &fakePrices{prices: map[domain.Network]int64{home: 999_000, remote: 1_001_000}}
	swaps := &fakeSwaps{bonus: map[domain.Network]int64{}, gas: 100}
	e := New(Config{
		TradeAmount:   big.NewInt(1_000_000),
		MinTrade:      big.NewInt(100_000),
		MaxTrade:      big.NewInt(10_000_000),
		MinProfitPct:  decimal.RequireFromString("0.005"),
		ForceTest:     true,
		BridgeTimeout: time.Second,
	}, prices, swaps, ccipCoordinator(t, logger), logger)

	opp, err := e.Evaluate(context.Background(), sample(home, 999_000), sample(remote, 1_001_000))
	require.NoError(t, err)
	res, err := e.Execute(context.Background(), opp)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	// two swaps at 100; approval and ccipSend at 150k gas and 25 gwei plus a
	// 0.002 native fee, native at 20 USD
	assert.Equal(t, int64(200+2*75_000+40_000), res.TotalGasCost.Int64())
	// the simulated return leg keeps 0.1%
	assert.Equal(t, int64(1_000), res.TotalBridgeCost.Int64())

	spent := new(big.Int).Sub(res.AmountIn, res.FinalAmount)
	spent.Add(spent, res.TotalGasCost)
	assert.Equal(t, spent, new(big.Int).Add(res.TotalGasCost, res.TotalBridgeCost))
	assert.Equal(t, new(big.Int).Neg(spent), res.NetProfit)
}

func TestExecuteMonitorTimeoutFailsBridgeStep(t *testing.T) {
	f := newFixture(t, nil)
	f.bridges.monErr = &domain.BridgeError{Kind: domain.KindMonitorTimeout, Provider: "fake", Err: domain.ErrMonitorTimeout}
	opp := f.opportunity(t, 999_000, 1_001_000)

	res, err := f.engine.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.FailedStep)
	assert.Equal(t, domain.StepBridge, res.FailedStep.Kind)
	assert.Equal(t, domain.StepFailed, res.FailedStep.Status)
	require.Len(t, res.CompletedSteps, 1)
	assert.Equal(t, domain.StepSwap, res.CompletedSteps[0].Kind)
	assert.Contains(t, res.Error, "monitor_timeout")
	assert.Equal(t, int32(1), f.swaps.calls.Load())
	assert.Len(t, f.engine.Results(), 1)
	assert.False(t, f.engine.InProgress())
}

func TestExecuteRejectsConcurrentRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.bridges.started = make(chan struct{}, 1)
	f.bridges.gate = make(chan struct{})
	opp := f.opportunity(t, 999_000, 1_001_000)

	type outcome struct {
		res domain.ExecutionResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.engine.Execute(context.Background(), opp)
		first <- outcome{res, err}
	}()

	select {
	case <-f.bridges.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first execution never reached bridge monitoring")
	}

	_, err := f.engine.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, domain.ErrExecutionInProgress)
	assert.Equal(t, domain.KindInProgress, domain.KindOf(err))
	assert.True(t, f.engine.InProgress())

	close(f.bridges.gate)
	out := <-first
	require.NoError(t, out.err)
	assert.True(t, out.res.Success)
	assert.False(t, f.engine.InProgress())
}

func TestExecuteAbortsWhenSpreadHalves(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 1_000_000, 1_010_000)
	require.True(t, opp.PriceDifferencePct.Equal(decimal.NewFromInt(1)))

	f.prices.set(remote, 1_005_000)
	_, err := f.engine.Execute(context.Background(), opp)

	assert.ErrorIs(t, err, domain.ErrPriceMoved)
	assert.Equal(t, domain.KindPriceMoved, domain.KindOf(err))
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, int32(0), f.swaps.calls.Load())
	assert.Equal(t, int32(0), f.bridges.calls.Load())
	assert.Empty(t, f.engine.Results())
	assert.False(t, f.engine.InProgress())
}

func TestExecuteProceedsWhenSpreadHolds(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 1_000_000, 1_010_000)

	f.prices.set(remote, 1_006_000)
	res, err := f.engine.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecuteRevalidationReadFailure(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 1_000_000, 1_010_000)
	delete(f.prices.prices, remote)

	_, err := f.engine.Execute(context.Background(), opp)
	assert.Equal(t, domain.KindRevalidation, domain.KindOf(err))
	assert.False(t, f.engine.InProgress())
}

func TestExecuteRespectsDistributedLock(t *testing.T) {
	f := newFixture(t, nil, WithLock(heldLock{}))
	opp := f.opportunity(t, 999_000, 1_001_000)

	_, err := f.engine.Execute(context.Background(), opp)
	assert.ErrorIs(t, err, domain.ErrExecutionInProgress)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.False(t, f.engine.InProgress())
}

func TestExecuteNotExecutable(t *testing.T) {
	f := newFixture(t, nil)
	opp := f.opportunity(t, 1_000_000, 1_000_100)

	_, err := f.engine.Execute(context.Background(), opp)
	assert.Equal(t, domain.KindNotExecutable, domain.KindOf(err))

	forced := newFixture(t, func(c *Config) { c.ForceTest = true })
	opp = forced.opportunity(t, 1_000_000, 1_000_100)
	res, err := forced.engine.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestSimulationModeSkipsChain(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Simulation = true
		c.SimulationDelay = 5 * time.Millisecond
	})
	opp := f.opportunity(t, 999_500, 1_000_500)
	f.prices.set(remote, 999_500)

	res, err := f.engine.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Simulated)
	assert.Equal(t, int64(100), res.NetProfit.Int64())
	assert.Len(t, res.CompletedSteps, 6)
	assert.GreaterOrEqual(t, res.Duration, 5*time.Millisecond)
	// final - amount - gas = net
	net := new(big.Int).Sub(res.FinalAmount, res.AmountIn)
	net.Sub(net, res.TotalGasCost)
	assert.Equal(t, res.NetProfit, net)
	assert.Equal(t, int32(0), f.swaps.calls.Load())
	for _, step := range res.CompletedSteps {
		assert.Equal(t, domain.StepCompleted, step.Status, step.Description)
	}
}

// --------------------------------------------------------------------------
// History
// --------------------------------------------------------------------------

func TestRecentOpportunitiesRing(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RecentSize = 2 })
	f.opportunity(t, 999_000, 1_001_000)
	second := f.opportunity(t, 999_100, 1_001_000)
	third := f.opportunity(t, 999_200, 1_001_000)

	recent := f.engine.RecentOpportunities()
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)
}

func TestResultNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Result("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryBounded(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.HistorySize = 2 })
	var last string
	for i := 0; i < 3; i++ {
		opp := f.opportunity(t, 999_000, 1_001_000)
		_, err := f.engine.Execute(context.Background(), opp)
		require.NoError(t, err)
		last = opp.ID
	}
	results := f.engine.Results()
	require.Len(t, results, 2)
	assert.Equal(t, last, results[1].OpportunityID)
}
