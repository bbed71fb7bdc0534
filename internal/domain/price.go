package domain

import (
	"math/big"
	"time"
)

// PriceSample is one normalized pool price observation. Price carries six
// implied decimals (1.000000 == 1_000_000).
type PriceSample struct {
	Network     Network   `json:"network"`
	Pool        string    `json:"pool"`
	Price       *big.Int  `json:"price"`
	Liquidity   *big.Int  `json:"liquidity"`
	BlockHeight uint64    `json:"block_height"`
	Timestamp   time.Time `json:"timestamp"`
	// Fallback is set when the price came from the fallback conversion path or
	// the parity default instead of the primary formula.
	Fallback bool `json:"fallback"`
	// Stale is computed at read time; it is never stored in history.
	Stale bool `json:"stale"`
}

// Key returns the pool key the sample is stored under.
func (s PriceSample) Key() string {
	return PoolKey(s.Network, s.Pool)
}

// Age returns how old the sample is relative to now.
func (s PriceSample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// IsStale reports whether the sample is older than threshold. A zero threshold
// disables staleness.
func (s PriceSample) IsStale(now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	return s.Age(now) > threshold
}

// PoolState is the raw concentrated-liquidity pool state read from chain.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int64
	Token0       string
	Token1       string
	BlockHeight  uint64
}
