// Package profit holds the pure fixed-point arithmetic used to evaluate an
// opportunity. Amounts are *big.Int in stable-asset base units; percentages are
// decimal.Decimal and only ever used for thresholds and display.
package profit

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PriceDifference returns |p1 - p2| as a percentage of the lower price. It is
// symmetric and never negative; a non-positive lower price yields zero.
func PriceDifference(p1, p2 *big.Int) decimal.Decimal {
	if p1 == nil || p2 == nil {
		return decimal.Zero
	}
	low, high := p1, p2
	if low.Cmp(high) > 0 {
		low, high = high, low
	}
	if low.Sign() <= 0 {
		return decimal.Zero
	}
	diff := new(big.Int).Sub(high, low)
	return decimal.NewFromBigInt(diff, 0).
		Div(decimal.NewFromBigInt(low, 0)).
		Mul(hundred)
}

// GrossProfit returns amount * (sell - buy) / unit, clamped to zero when the
// spread is not positive.
func GrossProfit(amount, buyPrice, sellPrice, unit *big.Int) *big.Int {
	if amount == nil || buyPrice == nil || sellPrice == nil || unit == nil || unit.Sign() == 0 {
		return new(big.Int)
	}
	spread := new(big.Int).Sub(sellPrice, buyPrice)
	if spread.Sign() <= 0 {
		return new(big.Int)
	}
	gross := new(big.Int).Mul(amount, spread)
	return gross.Quo(gross, unit)
}

// NetProfit returns max(0, gross - sum(costs)).
func NetProfit(gross *big.Int, costs ...*big.Int) *big.Int {
	net := new(big.Int)
	if gross != nil {
		net.Set(gross)
	}
	for _, c := range costs {
		if c != nil {
			net.Sub(net, c)
		}
	}
	if net.Sign() < 0 {
		return new(big.Int)
	}
	return net
}

// ProfitPercentage returns net / investment * 100.
func ProfitPercentage(net, investment *big.Int) decimal.Decimal {
	if net == nil || investment == nil || investment.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(net, 0).
		Div(decimal.NewFromBigInt(investment, 0)).
		Mul(hundred)
}

// SlippageCost returns amount * impact, truncated to base units.
func SlippageCost(amount *big.Int, impact decimal.Decimal) *big.Int {
	if amount == nil || impact.Sign() <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(impact).Truncate(0).BigInt()
}

var (
	stableUnit   = decimal.NewFromInt(1_000_000)
	weiPerNative = decimal.New(1, 18)
)

// NativeToStable converts an amount of native currency in wei into six-decimal
// stable units at nativeUSD dollars per whole token.
func NativeToStable(wei *big.Int, nativeUSD decimal.Decimal) *big.Int {
	if wei == nil || wei.Sign() == 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(wei, 0).Mul(nativeUSD).Mul(stableUnit).Div(weiPerNative).Truncate(0).BigInt()
}

// GasCost prices gas units at gasPrice wei in stable units.
func GasCost(gas uint64, gasPrice *big.Int, nativeUSD decimal.Decimal) *big.Int {
	if gasPrice == nil {
		return new(big.Int)
	}
	return NativeToStable(new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice), nativeUSD)
}

// Point is one timestamped price used for TWAP.
type Point struct {
	Price *big.Int
	At    time.Time
}

// TWAP returns the linear-recency weighted average of the points that fall
// inside window, with weight = window - age in milliseconds. ok is false when no
// point qualifies.
func TWAP(points []Point, window time.Duration, now time.Time) (*big.Int, bool) {
	if window <= 0 {
		return nil, false
	}
	weighted := new(big.Int)
	total := new(big.Int)
	for _, p := range points {
		if p.Price == nil {
			continue
		}
		age := now.Sub(p.At)
		if age < 0 {
			age = 0
		}
		if age >= window {
			continue
		}
		w := big.NewInt((window - age).Milliseconds())
		if w.Sign() <= 0 {
			continue
		}
		weighted.Add(weighted, new(big.Int).Mul(p.Price, w))
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return nil, false
	}
	return weighted.Quo(weighted, total), true
}
