package swap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/chain/chaintest"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/pricing"
)

var (
	usdcA   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	usdtA   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	usdcB   = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	usdtB   = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	poolA   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	routerA = common.HexToAddress("0x00000000000000000000000000000000000000ea")
	routerB = common.HexToAddress("0x00000000000000000000000000000000000000eb")
	q96     = new(big.Int).Lsh(big.NewInt(1), 96)
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	a, b    *chaintest.Client
	pharaoh Venue
	shadow  Venue
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	a := chaintest.New(domain.NetworkAvalanche)
	b := chaintest.New(domain.NetworkSonic)
	a.SetPool(poolA, domain.PoolState{SqrtPriceX96: q96, Liquidity: big.NewInt(1e12), Token0: usdcA.Hex(), Token1: usdtA.Hex()})
	b.SetPool(poolB, domain.PoolState{SqrtPriceX96: q96, Liquidity: big.NewInt(1e12), Token0: usdcB.Hex(), Token1: usdtB.Hex()})

	ph, err := New(Config{
		Kind:        KindPharaoh,
		Network:     domain.NetworkAvalanche,
		Router:      routerA.Hex(),
		Pool:        poolA.Hex(),
		Tokens:      map[domain.Asset]string{domain.AssetUSDC: usdcA.Hex(), domain.AssetUSDT: usdtA.Hex()},
		FeeBps:      5,
		FeeTier:     500,
		GasEstimate: 200_000,
		SlippageBps: 50,
		NativeUSD:   decimal.NewFromInt(20),
	}, a, discard())
	require.NoError(t, err)

	sh, err := New(Config{
		Kind:        KindShadow,
		Network:     domain.NetworkSonic,
		Router:      routerB.Hex(),
		Pool:        poolB.Hex(),
		Tokens:      map[domain.Asset]string{domain.AssetUSDC: usdcB.Hex(), domain.AssetUSDT: usdtB.Hex()},
		FeeBps:      1,
		TickSpacing: 1,
		GasEstimate: 200_000,
		SlippageBps: 50,
		NativeUSD:   decimal.NewFromInt(20),
	}, b, discard())
	require.NoError(t, err)

	return &fixture{
		a:       a,
		b:       b,
		pharaoh: ph,
		shadow:  sh,
		coord:   NewCoordinator([]Venue{ph, sh}, big.NewInt(500_000), discard()),
	}
}

func usdcToUSDT(amount int64) domain.SwapRequest {
	return domain.SwapRequest{TokenIn: domain.AssetUSDC, TokenOut: domain.AssetUSDT, AmountIn: big.NewInt(amount)}
}

func TestQuoteAppliesFeeAndGas(t *testing.T) {
	f := newFixture(t)
	q, err := f.pharaoh.Quote(context.Background(), usdcToUSDT(1_000_000))
	require.NoError(t, err)

	assert.Equal(t, "pharaoh", q.Venue)
	assert.Equal(t, int64(999_500), q.AmountOut.Int64())
	assert.Equal(t, "0.0005", q.PriceImpact.String())
	// 200k gas * 25 gwei * $20 = $0.10
	assert.Equal(t, int64(100_000), q.GasCost.Int64())
}

func TestQuoteReverseDirection(t *testing.T) {
	f := newFixture(t)
	f.b.SetPool(poolB, domain.PoolState{
		SqrtPriceX96: chaintest.SqrtPriceX96("1.25"),
		Liquidity:    big.NewInt(1),
		Token0:       usdcB.Hex(),
		Token1:       usdtB.Hex(),
	})
	q, err := f.shadow.Quote(context.Background(), domain.SwapRequest{
		TokenIn: domain.AssetUSDT, TokenOut: domain.AssetUSDC, AmountIn: big.NewInt(1_250_000),
	})
	require.NoError(t, err)
	assert.InDelta(t, 999_900, q.AmountOut.Int64(), 2)
	// |0.79992 - 1| exceeds the default 5% cap.
	assert.Equal(t, "0.05", q.PriceImpact.String())
}

func TestQuoteFollowsPricingBand(t *testing.T) {
	b := chaintest.New(domain.NetworkSonic)
	b.SetPool(poolB, domain.PoolState{
		SqrtPriceX96: chaintest.SqrtPriceX96("1.25"),
		Liquidity:    big.NewInt(1),
		Token0:       usdcB.Hex(),
		Token1:       usdtB.Hex(),
	})
	narrow := pricing.Band{Min: big.NewInt(900_000), Max: big.NewInt(1_100_000)}
	venue := func(fallback bool) Venue {
		v, err := New(Config{
			Kind:            KindShadow,
			Network:         domain.NetworkSonic,
			Router:          routerB.Hex(),
			Pool:            poolB.Hex(),
			Tokens:          map[domain.Asset]string{domain.AssetUSDC: usdcB.Hex(), domain.AssetUSDT: usdtB.Hex()},
			FeeBps:          1,
			TickSpacing:     1,
			GasEstimate:     200_000,
			NativeUSD:       decimal.NewFromInt(20),
			Band:            narrow,
			FallbackEnabled: fallback,
		}, b, discard())
		require.NoError(t, err)
		return v
	}

	_, err := venue(false).Quote(context.Background(), usdcToUSDT(1_000_000))
	assert.Equal(t, domain.KindQuoteFailed, domain.KindOf(err))
	var pe *domain.PriceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindOutOfBand, pe.Kind)

	q, err := venue(true).Quote(context.Background(), usdcToUSDT(1_000_000))
	require.NoError(t, err)
	assert.InDelta(t, 1_249_875, q.AmountOut.Int64(), 2)
}

func TestQuoteRejectsBadRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.pharaoh.Quote(context.Background(), usdcToUSDT(0))
	assert.Equal(t, domain.KindQuoteFailed, domain.KindOf(err))

	_, err = f.pharaoh.Quote(context.Background(), domain.SwapRequest{TokenIn: domain.AssetUSDC, TokenOut: domain.AssetUSDC, AmountIn: big.NewInt(1)})
	assert.Equal(t, domain.KindQuoteFailed, domain.KindOf(err))
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(Config{Kind: "uniswap", Network: domain.NetworkSonic}, chaintest.New(domain.NetworkSonic), discard())
	assert.Equal(t, domain.KindUnknownVenue, domain.KindOf(err))
}

func TestQuoteAllOneVenueFailing(t *testing.T) {
	f := newFixture(t)
	f.b.PoolErr = errors.New("rpc timeout")

	quotes, err := f.coord.QuoteAll(context.Background(), "", usdcToUSDT(1_000_000))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Contains(t, quotes, "pharaoh")
}

func TestQuoteAllEveryVenueFailing(t *testing.T) {
	f := newFixture(t)
	f.a.PoolErr = errors.New("down")
	f.b.PoolErr = errors.New("down")

	_, err := f.coord.QuoteAll(context.Background(), "", usdcToUSDT(1_000_000))
	assert.Equal(t, domain.KindNoQuotes, domain.KindOf(err))
	assert.ErrorContains(t, err, "down")
}

func TestBestPicksHighestOutput(t *testing.T) {
	f := newFixture(t)
	best, err := f.coord.Best(context.Background(), "", usdcToUSDT(1_000_000))
	require.NoError(t, err)
	// shadow charges 1 bp against pharaoh's 5.
	assert.Equal(t, "shadow", best.Venue)
	assert.Equal(t, int64(999_900), best.AmountOut.Int64())

	best, err = f.coord.Best(context.Background(), domain.NetworkAvalanche, usdcToUSDT(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "pharaoh", best.Venue)
}

func TestExecuteApprovesOnceAndMeasuresOutput(t *testing.T) {
	f := newFixture(t)
	f.a.OnSend = func(c *chaintest.Client, req chain.TxRequest) {
		if req.To == routerA {
			c.AddBalance(usdtA, big.NewInt(999_000))
		}
	}

	res, err := f.coord.ExecuteOn(context.Background(), domain.NetworkAvalanche, usdcToUSDT(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "pharaoh", res.Venue)
	assert.Equal(t, int64(999_000), res.AmountOut.Int64())
	assert.Equal(t, uint64(150_000), res.GasUsed)
	assert.Equal(t, int64(75_000), res.GasCost.Int64())
	assert.NotEmpty(t, res.TxRef)
	assert.Equal(t, 1, f.a.Approvals)

	last := f.a.Sent[len(f.a.Sent)-1]
	assert.Equal(t, pharaohRouter.Methods["exactInputSingle"].ID, last.Data[:4])

	_, err = f.coord.Execute(context.Background(), "pharaoh", usdcToUSDT(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, 1, f.a.Approvals, "allowance cache must skip the second approval")
}

func TestExecuteRevertedSwap(t *testing.T) {
	f := newFixture(t)
	_, err := f.a.Approve(context.Background(), usdcA, routerA, maxApproval)
	require.NoError(t, err)
	f.a.RevertSends = true

	_, err = f.pharaoh.Execute(context.Background(), usdcToUSDT(1_000_000))
	assert.Equal(t, domain.KindReceipt, domain.KindOf(err))
	assert.False(t, domain.IsFatal(err))
}

func TestExecuteUnknownVenue(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Execute(context.Background(), "curve", usdcToUSDT(1))
	assert.Equal(t, domain.KindUnknownVenue, domain.KindOf(err))
}

func TestShadowEncodesTickSpacing(t *testing.T) {
	data, err := shadowEncoder{tickSpacing: 50}.encodeSwap(swapParams{
		TokenIn:      usdcB,
		TokenOut:     usdtB,
		Recipient:    common.HexToAddress("0x01"),
		Deadline:     big.NewInt(1),
		AmountIn:     big.NewInt(10),
		AmountOutMin: big.NewInt(9),
	})
	require.NoError(t, err)
	assert.Equal(t, shadowRouter.Methods["exactInputSingle"].ID, data[:4])
	// selector + 8 static words
	assert.Len(t, data, 4+8*32)
	assert.Equal(t, byte(50), data[4+2*32+31])
}

func TestScoreBands(t *testing.T) {
	cases := []struct {
		impact string
		gas    int64
		want   int
	}{
		{"0", 0, 100},
		{"0.006", 300_000, 90},
		{"0.015", 2_000_000, 75},
		{"0.025", 6_000_000, 50},
	}
	for _, tc := range cases {
		q := domain.SwapQuote{PriceImpact: decimal.RequireFromString(tc.impact), GasCost: big.NewInt(tc.gas)}
		assert.Equal(t, tc.want, Score(q), "impact %s gas %d", tc.impact, tc.gas)
	}
}

func TestRouteHealthFailedVenueScoresZero(t *testing.T) {
	f := newFixture(t)
	f.b.PoolErr = errors.New("down")

	hs := f.coord.RouteHealth(context.Background(), usdcToUSDT(1_000_000))
	require.Len(t, hs, 2)
	assert.Equal(t, 100, hs[0].Score)
	assert.Equal(t, 0, hs[1].Score)
	assert.NotEmpty(t, hs[1].Error)
}

func TestVenueHealth(t *testing.T) {
	f := newFixture(t)
	f.b.SetPool(poolB, domain.PoolState{SqrtPriceX96: q96, Liquidity: big.NewInt(0), Token0: usdcB.Hex()})

	hs := f.coord.VenueHealth(context.Background())
	require.Len(t, hs, 2)
	assert.True(t, hs[0].Healthy)
	assert.False(t, hs[1].Healthy)
	assert.False(t, f.shadow.IsAvailable(context.Background()))
}

func TestEstimateSwapCostsUsesFallbackForFailedLeg(t *testing.T) {
	f := newFixture(t)
	f.b.PoolErr = errors.New("down")

	est := f.coord.EstimateSwapCosts(context.Background(), []Leg{
		{Network: domain.NetworkAvalanche, Request: usdcToUSDT(1_000_000)},
		{Network: domain.NetworkSonic, Request: usdcToUSDT(1_000_000)},
	})
	assert.Equal(t, 1, est.Fallbacks)
	assert.Equal(t, int64(600_000), est.Gas.Int64())
	assert.Equal(t, int64(5_500), est.Slippage.Int64())
	assert.Equal(t, int64(605_500), est.Total().Int64())
}
