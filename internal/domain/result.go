package domain

import (
	"math/big"
	"time"
)

// ExecutionResult is the immutable outcome of one execution attempt.
type ExecutionResult struct {
	OpportunityID   string          `json:"opportunity_id"`
	Direction       Direction       `json:"direction"`
	Success         bool            `json:"success"`
	Simulated       bool            `json:"simulated"`
	CompletedSteps  []ExecutionStep `json:"completed_steps"`
	FailedStep      *ExecutionStep  `json:"failed_step,omitempty"`
	AmountIn        *big.Int        `json:"amount_in"`
	FinalAmount     *big.Int        `json:"final_amount"`
	NetProfit       *big.Int        `json:"net_profit"`
	TotalGasCost    *big.Int        `json:"total_gas_cost"`
	TotalBridgeCost *big.Int        `json:"total_bridge_cost"`
	Duration        time.Duration   `json:"duration"`
	TxRefs          []string        `json:"tx_refs"`
	Error           string          `json:"error,omitempty"`
	FinishedAt      time.Time       `json:"finished_at"`
}

// Metrics are cumulative supervisor counters.
type Metrics struct {
	Trades            int64     `json:"trades"`
	Successes         int64     `json:"successes"`
	Failures          int64     `json:"failures"`
	TotalProfit       *big.Int  `json:"total_profit"`
	TotalLoss         *big.Int  `json:"total_loss"`
	Opportunities     int64     `json:"opportunities"`
	Aborts            int64     `json:"aborts"`
	Cycles            int64     `json:"cycles"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	CircuitOpen       bool      `json:"circuit_open"`
	StartedAt         time.Time `json:"started_at"`
	LastCycleAt       time.Time `json:"last_cycle_at"`
}
