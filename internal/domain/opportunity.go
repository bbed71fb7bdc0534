package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one side of an opportunity: where the base asset is bought or sold.
type Leg struct {
	Network Network  `json:"network"`
	Pool    string   `json:"pool"`
	Price   *big.Int `json:"price"`
	Asset   Asset    `json:"asset"`
}

// ArbitrageOpportunity is an evaluated price divergence between the two pools.
// It is immutable after creation.
type ArbitrageOpportunity struct {
	ID                  string          `json:"id"`
	Direction           Direction       `json:"direction"`
	Buy                 Leg             `json:"buy"`
	Sell                Leg             `json:"sell"`
	Amount              *big.Int        `json:"amount"`
	EstimatedGasCost    *big.Int        `json:"estimated_gas_cost"`
	EstimatedBridgeCost *big.Int        `json:"estimated_bridge_cost"`
	EstimatedSlippage   *big.Int        `json:"estimated_slippage"`
	GrossProfit         *big.Int        `json:"gross_profit"`
	NetProfit           *big.Int        `json:"net_profit"`
	ProfitPct           decimal.Decimal `json:"profit_pct"`
	PriceDifferencePct  decimal.Decimal `json:"price_difference_pct"`
	Profitable          bool            `json:"profitable"`
	CreatedAt           time.Time       `json:"created_at"`
}

// TotalCost returns the sum of all estimated costs.
func (o ArbitrageOpportunity) TotalCost() *big.Int {
	total := new(big.Int)
	for _, c := range []*big.Int{o.EstimatedGasCost, o.EstimatedBridgeCost, o.EstimatedSlippage} {
		if c != nil {
			total.Add(total, c)
		}
	}
	return total
}
