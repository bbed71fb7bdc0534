package domain

import "strings"

// Network identifies one of the two chains the bot trades across.
type Network string

const (
	NetworkAvalanche Network = "avalanche"
	NetworkSonic     Network = "sonic"
)

// Asset is a token symbol of the traded stable pair.
type Asset string

const (
	AssetUSDC Asset = "USDC"
	AssetUSDT Asset = "USDT"
)

// Direction is the leg ordering of an arbitrage cycle. Capital always starts and
// ends on network A.
type Direction string

const (
	// DirectionAToB buys on network A and sells on network B.
	DirectionAToB Direction = "A_TO_B"
	// DirectionBToA buys on network B and sells on network A.
	DirectionBToA Direction = "B_TO_A"
)

// String returns a human-readable description of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionAToB:
		return "A -> B (buy on A, sell on B)"
	case DirectionBToA:
		return "B -> A (buy on B, sell on A)"
	default:
		return "unknown"
	}
}

// PriceScale is the fixed-point unit for prices and stable amounts (6 decimals).
const PriceScale int64 = 1_000_000

// PoolKey builds the history key for a pool on a network.
func PoolKey(network Network, pool string) string {
	return string(network) + ":" + strings.ToLower(pool)
}
