package pricing

import (
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

var (
	// q96 is 2^96 as a float for the primary formula.
	q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	// parity is 1.000000.
	parity = big.NewInt(domain.PriceScale)
)

// Band is the accepted range around parity for the primary formula. Bounds are
// prices with six implied decimals.
type Band struct {
	Min *big.Int
	Max *big.Int
}

// DefaultBand accepts 0.5 to 2.0.
func DefaultBand() Band {
	return Band{Min: big.NewInt(500_000), Max: big.NewInt(2_000_000)}
}

// Contains reports whether p lies inside the band, inclusive.
func (b Band) Contains(p *big.Int) bool {
	if p == nil {
		return false
	}
	if b.Min != nil && p.Cmp(b.Min) < 0 {
		return false
	}
	if b.Max != nil && p.Cmp(b.Max) > 0 {
		return false
	}
	return true
}

// primaryPrice computes (sqrtPriceX96 / 2^96)^2 scaled to six decimals. Both
// tokens of the pair have six decimals so there is no decimal adjustment.
func primaryPrice(sqrtPriceX96 *big.Int) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return new(big.Int)
	}
	ratio := new(big.Float).SetPrec(256).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, q96)
	ratio.Mul(ratio, ratio)
	ratio.Mul(ratio, new(big.Float).SetInt64(domain.PriceScale))
	out, _ := ratio.Int(nil)
	return out
}

// fallbackPrice computes sqrt*sqrt/2^96 then *1e6/2^96 in 512-bit intermediate
// precision. It returns zero if the input does not fit 256 bits or an
// intermediate overflows.
func fallbackPrice(sqrtPriceX96 *big.Int) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return new(big.Int)
	}
	s, overflow := uint256.FromBig(sqrtPriceX96)
	if overflow {
		return new(big.Int)
	}
	q := new(uint256.Int).Lsh(uint256.NewInt(1), 96)

	priceX96, overflow := new(uint256.Int).MulDivOverflow(s, s, q)
	if overflow {
		return new(big.Int)
	}
	scaled, overflow := new(uint256.Int).MulDivOverflow(priceX96, uint256.NewInt(uint64(domain.PriceScale)), q)
	if overflow {
		return new(big.Int)
	}
	return scaled.ToBig()
}

// Conversion is the outcome of turning a sqrt price into a normalized price.
type Conversion struct {
	Price    *big.Int
	Fallback bool
	// Primary is the unadjusted primary-formula result, kept for diagnostics.
	Primary *big.Int
}

// Convert applies the primary formula and, when the result is zero or outside
// band, the fallback conversion. If the fallback also yields zero the primary
// result is used when non-zero, otherwise parity.
func Convert(sqrtPriceX96 *big.Int, band Band) Conversion {
	primary := primaryPrice(sqrtPriceX96)
	if primary.Sign() > 0 && band.Contains(primary) {
		return Conversion{Price: primary, Primary: primary}
	}
	fb := fallbackPrice(sqrtPriceX96)
	switch {
	case fb.Sign() > 0:
		return Conversion{Price: fb, Fallback: true, Primary: primary}
	case primary.Sign() > 0:
		return Conversion{Price: primary, Fallback: true, Primary: primary}
	default:
		return Conversion{Price: new(big.Int).Set(parity), Fallback: true, Primary: primary}
	}
}

// Invert returns 1/p with six implied decimals. Zero stays zero.
func Invert(p *big.Int) *big.Int {
	if p == nil || p.Sign() == 0 {
		return new(big.Int)
	}
	unit := new(big.Int).Mul(parity, parity)
	return unit.Quo(unit, p)
}

// orientPrice makes the price USDC-in-USDT regardless of token order. quote is
// the USDT token address; when it is token0 the pool price is inverted.
func orientPrice(price *big.Int, st domain.PoolState, quote string) *big.Int {
	if quote != "" && strings.EqualFold(st.Token0, quote) {
		return Invert(price)
	}
	return price
}
