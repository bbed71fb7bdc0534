package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

func swapStep(n domain.Network, in, out domain.Asset) domain.ExecutionStep {
	return domain.ExecutionStep{
		Kind:        domain.StepSwap,
		Network:     n,
		AssetIn:     in,
		AssetOut:    out,
		Description: fmt.Sprintf("swap %s -> %s on %s", in, out, n),
	}
}

func bridgeStep(a domain.Asset, from, to domain.Network) domain.ExecutionStep {
	return domain.ExecutionStep{
		Kind:        domain.StepBridge,
		Network:     from,
		Destination: to,
		AssetIn:     a,
		AssetOut:    a,
		Description: fmt.Sprintf("bridge %s %s -> %s", a, from, to),
	}
}

func waitStep(n domain.Network) domain.ExecutionStep {
	return domain.ExecutionStep{
		Kind:        domain.StepWait,
		Network:     n,
		Description: fmt.Sprintf("wait for settlement on %s", n),
	}
}

// template returns the ordered steps of a cycle. Capital starts and ends as
// USDT on the home network.
func (e *Engine) template(d domain.Direction) []domain.ExecutionStep {
	a, b := e.cfg.Home, e.cfg.Remote
	var steps []domain.ExecutionStep
	switch d {
	case domain.DirectionAToB:
		steps = []domain.ExecutionStep{
			swapStep(a, domain.AssetUSDT, domain.AssetUSDC),
			bridgeStep(domain.AssetUSDC, a, b),
			waitStep(b),
			swapStep(b, domain.AssetUSDC, domain.AssetUSDT),
			bridgeStep(domain.AssetUSDT, b, a),
			waitStep(a),
		}
	case domain.DirectionBToA:
		steps = []domain.ExecutionStep{
			bridgeStep(domain.AssetUSDT, a, b),
			waitStep(b),
			swapStep(b, domain.AssetUSDT, domain.AssetUSDC),
			bridgeStep(domain.AssetUSDC, b, a),
			waitStep(a),
			swapStep(a, domain.AssetUSDC, domain.AssetUSDT),
		}
	}
	for i := range steps {
		steps[i].Index = i
		steps[i].Status = domain.StepPending
	}
	return steps
}

// BuildPlan lays out the steps for opp with the opportunity's cost estimates.
func (e *Engine) BuildPlan(opp domain.ArbitrageOpportunity) (domain.ExecutionPlan, error) {
	steps := e.template(opp.Direction)
	if len(steps) == 0 {
		return domain.ExecutionPlan{}, &domain.ExecutionError{
			Kind:    domain.KindNotExecutable,
			Context: domain.Context{"opportunity": opp.ID, "direction": string(opp.Direction)},
			Err:     fmt.Errorf("unknown direction"),
		}
	}
	var bridges, waits int
	for _, s := range steps {
		switch s.Kind {
		case domain.StepBridge:
			bridges++
		case domain.StepWait:
			waits++
		}
	}
	return domain.ExecutionPlan{
		OpportunityID:       opp.ID,
		Direction:           opp.Direction,
		Steps:               steps,
		EstimatedGasCost:    copyOrZero(opp.EstimatedGasCost),
		EstimatedBridgeCost: copyOrZero(opp.EstimatedBridgeCost),
		EstimatedDuration:   e.cfg.BridgeTimeout*time.Duration(bridges) + e.cfg.WaitStep*time.Duration(waits),
	}, nil
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
