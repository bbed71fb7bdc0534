package profit

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceDifferenceSymmetric(t *testing.T) {
	pairs := [][2]int64{
		{999_500, 1_000_500},
		{1_000_000, 1_000_000},
		{1_010_000, 1_000_000},
		{1, 2_000_000},
		{0, 1_000_000},
	}
	for _, p := range pairs {
		a, b := big.NewInt(p[0]), big.NewInt(p[1])
		ab := PriceDifference(a, b)
		ba := PriceDifference(b, a)
		assert.True(t, ab.Equal(ba), "difference(%d,%d) not symmetric: %s vs %s", p[0], p[1], ab, ba)
		assert.False(t, ab.IsNegative())
	}
}

func TestPriceDifferenceValue(t *testing.T) {
	d := PriceDifference(big.NewInt(1_000_000), big.NewInt(1_010_000))
	assert.True(t, d.Equal(decimal.NewFromInt(1)), "got %s", d)
}

func TestNetProfitNeverNegative(t *testing.T) {
	assert.Equal(t, int64(0), NetProfit(big.NewInt(100), big.NewInt(150)).Int64())
	assert.Equal(t, int64(50), NetProfit(big.NewInt(150), big.NewInt(100)).Int64())
	assert.Equal(t, int64(40), NetProfit(big.NewInt(150), big.NewInt(100), nil, big.NewInt(10)).Int64())
}

func TestGrossProfitClampsNonPositiveSpread(t *testing.T) {
	unit := big.NewInt(1_000_000)
	assert.Equal(t, int64(0), GrossProfit(big.NewInt(1_000_000), big.NewInt(1_000_500), big.NewInt(999_500), unit).Int64())
	assert.Equal(t, int64(0), GrossProfit(big.NewInt(1_000_000), big.NewInt(1_000_000), big.NewInt(1_000_000), unit).Int64())
}

func TestEndToEndScenario(t *testing.T) {
	unit := big.NewInt(1_000_000)
	amount := big.NewInt(1_000_000)

	gross := GrossProfit(amount, big.NewInt(999_500), big.NewInt(1_000_500), unit)
	require.Equal(t, int64(1_000), gross.Int64())

	net := NetProfit(gross, big.NewInt(600), big.NewInt(300))
	require.Equal(t, int64(100), net.Int64())

	pct := ProfitPercentage(net, amount)
	assert.True(t, pct.Equal(decimal.RequireFromString("0.01")), "got %s", pct)
}

func TestSlippageCost(t *testing.T) {
	cost := SlippageCost(big.NewInt(1_000_000), decimal.RequireFromString("0.0005"))
	assert.Equal(t, int64(500), cost.Int64())
	assert.Equal(t, int64(0), SlippageCost(big.NewInt(1_000_000), decimal.Zero).Int64())
}

func TestTWAP(t *testing.T) {
	now := time.Now()
	window := 10 * time.Second

	points := []Point{
		{Price: big.NewInt(1_000_000), At: now.Add(-8 * time.Second)}, // weight 2000
		{Price: big.NewInt(1_002_000), At: now.Add(-2 * time.Second)}, // weight 8000
		{Price: big.NewInt(5_000_000), At: now.Add(-30 * time.Second)},
	}
	got, ok := TWAP(points, window, now)
	require.True(t, ok)
	// (1_000_000*2000 + 1_002_000*8000) / 10000
	assert.Equal(t, int64(1_001_600), got.Int64())
}

func TestTWAPEmpty(t *testing.T) {
	now := time.Now()
	_, ok := TWAP(nil, time.Minute, now)
	assert.False(t, ok)

	_, ok = TWAP([]Point{{Price: big.NewInt(1), At: now.Add(-2 * time.Minute)}}, time.Minute, now)
	assert.False(t, ok)
}

func TestNativeToStable(t *testing.T) {
	// 0.001 native at $20.50
	got := NativeToStable(big.NewInt(1_000_000_000_000_000), decimal.RequireFromString("20.5"))
	assert.Equal(t, int64(20_500), got.Int64())
	assert.Equal(t, int64(0), NativeToStable(nil, decimal.NewFromInt(20)).Int64())
	assert.Equal(t, int64(0), NativeToStable(big.NewInt(1), decimal.NewFromInt(20)).Int64())
}

func TestGasCost(t *testing.T) {
	got := GasCost(200_000, big.NewInt(25_000_000_000), decimal.NewFromInt(20))
	assert.Equal(t, int64(100_000), got.Int64())
	assert.Equal(t, int64(0), GasCost(200_000, nil, decimal.NewFromInt(20)).Int64())
}
