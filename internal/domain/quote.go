package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// SwapRequest is a single swap on one network.
type SwapRequest struct {
	TokenIn  Asset
	TokenOut Asset
	AmountIn *big.Int
}

// SwapQuote is a venue's answer to a SwapRequest. It is single-use.
type SwapQuote struct {
	Venue       string          `json:"venue"`
	Network     Network         `json:"network"`
	TokenIn     Asset           `json:"token_in"`
	TokenOut    Asset           `json:"token_out"`
	AmountIn    *big.Int        `json:"amount_in"`
	AmountOut   *big.Int        `json:"amount_out"`
	FeeBps      int64           `json:"fee_bps"`
	GasEstimate uint64          `json:"gas_estimate"`
	// GasCost is the gas estimate priced in stable-asset base units.
	GasCost     *big.Int        `json:"gas_cost"`
	PriceImpact decimal.Decimal `json:"price_impact"`
	QuotedAt    time.Time       `json:"quoted_at"`
}

// EffectivePrice returns AmountOut/AmountIn with six implied decimals.
func (q SwapQuote) EffectivePrice() *big.Int {
	if q.AmountIn == nil || q.AmountIn.Sign() == 0 || q.AmountOut == nil {
		return new(big.Int)
	}
	p := new(big.Int).Mul(q.AmountOut, big.NewInt(PriceScale))
	return p.Quo(p, q.AmountIn)
}

// SwapResult is the uniform outcome of an executed swap.
type SwapResult struct {
	Venue       string          `json:"venue"`
	Network     Network         `json:"network"`
	TxRef       string          `json:"tx_ref"`
	AmountIn    *big.Int        `json:"amount_in"`
	AmountOut   *big.Int        `json:"amount_out"`
	GasUsed     uint64          `json:"gas_used"`
	GasCost     *big.Int        `json:"gas_cost"`
	PriceImpact decimal.Decimal `json:"price_impact"`
}

// VenueHealth is a venue liveness snapshot.
type VenueHealth struct {
	Venue     string   `json:"venue"`
	Network   Network  `json:"network"`
	Healthy   bool     `json:"healthy"`
	Liquidity *big.Int `json:"liquidity"`
	Price     *big.Int `json:"price"`
	Error     string   `json:"error,omitempty"`
}

// BridgeRoute is an (asset, source, destination) triple.
type BridgeRoute struct {
	Asset Asset   `json:"asset"`
	From  Network `json:"from"`
	To    Network `json:"to"`
}

// BridgeRequest asks a provider to move Amount along Route.
type BridgeRequest struct {
	Route  BridgeRoute
	Amount *big.Int
}

// BridgeQuote is a provider's answer for a route and amount.
type BridgeQuote struct {
	Provider      string        `json:"provider"`
	Route         BridgeRoute   `json:"route"`
	AmountIn      *big.Int      `json:"amount_in"`
	AmountOut     *big.Int      `json:"amount_out"`
	// Fee is any cost not already deducted from AmountOut, in stable base units.
	Fee           *big.Int      `json:"fee"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

// EffectiveCost returns the fee plus output shrinkage.
func (q BridgeQuote) EffectiveCost() *big.Int {
	cost := new(big.Int)
	if q.Fee != nil {
		cost.Add(cost, q.Fee)
	}
	if q.AmountIn != nil && q.AmountOut != nil {
		cost.Add(cost, new(big.Int).Sub(q.AmountIn, q.AmountOut))
	}
	return cost
}

// BridgeTransfer is an in-flight cross-chain transfer.
type BridgeTransfer struct {
	Provider        string      `json:"provider"`
	Route           BridgeRoute `json:"route"`
	TxRef           string      `json:"tx_ref"`
	OrderRef        string      `json:"order_ref"`
	AmountIn        *big.Int    `json:"amount_in"`
	EstimatedOutput *big.Int    `json:"estimated_output"`
	GasUsed         uint64      `json:"gas_used"`
	// GasCost covers source-chain gas and any native-currency message fee.
	GasCost *big.Int `json:"gas_cost"`
	// Fee is the native message fee in stable units. It is included in
	// GasCost.
	Fee       *big.Int  `json:"fee"`
	Fallback  bool      `json:"fallback"`
	StartedAt time.Time `json:"started_at"`
}
