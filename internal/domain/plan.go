package domain

import (
	"fmt"
	"math/big"
	"time"
)

// StepKind is the operation an execution step performs.
type StepKind string

const (
	StepSwap   StepKind = "swap"
	StepBridge StepKind = "bridge"
	StepWait   StepKind = "wait"
)

// StepStatus is the lifecycle state of a step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// rank orders statuses so transitions can only move forward.
func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepExecuting:
		return 1
	case StepCompleted, StepFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are allowed.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// ExecutionStep is one operation of an execution plan.
type ExecutionStep struct {
	Index       int        `json:"index"`
	Kind        StepKind   `json:"kind"`
	Network     Network    `json:"network"`
	Destination Network    `json:"destination,omitempty"`
	AssetIn     Asset      `json:"asset_in,omitempty"`
	AssetOut    Asset      `json:"asset_out,omitempty"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	TxRef       string     `json:"tx_ref,omitempty"`
	GasUsed     uint64     `json:"gas_used"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Transition moves the step to next. Statuses never regress and terminal
// statuses are final. Only an executing step can complete; a pending step may
// still fail without starting.
func (s *ExecutionStep) Transition(next StepStatus, at time.Time) error {
	if s.Status.Terminal() || next.rank() <= s.Status.rank() ||
		(next == StepCompleted && s.Status != StepExecuting) {
		return fmt.Errorf("domain: step %d: invalid transition %s -> %s", s.Index, s.Status, next)
	}
	s.Status = next
	s.Timestamp = at
	return nil
}

// ExecutionPlan is the ordered sequence of steps for one opportunity.
type ExecutionPlan struct {
	OpportunityID       string          `json:"opportunity_id"`
	Direction           Direction       `json:"direction"`
	Steps               []ExecutionStep `json:"steps"`
	EstimatedGasCost    *big.Int        `json:"estimated_gas_cost"`
	EstimatedBridgeCost *big.Int        `json:"estimated_bridge_cost"`
	EstimatedDuration   time.Duration   `json:"estimated_duration"`
}

// Kinds returns the step kinds in plan order.
func (p ExecutionPlan) Kinds() []StepKind {
	out := make([]StepKind, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Kind
	}
	return out
}
