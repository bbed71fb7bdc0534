package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/profit"
)

// Execute runs opp's plan. Admission conflicts and re-validation aborts are
// returned as errors before any capital moves. Once the plan starts, a failing
// step halts it and is reported in the result; nothing is rolled back.
func (e *Engine) Execute(ctx context.Context, opp domain.ArbitrageOpportunity) (domain.ExecutionResult, error) {
	if !e.Executable(opp) {
		return domain.ExecutionResult{}, &domain.ExecutionError{
			Kind:    domain.KindNotExecutable,
			Context: domain.Context{"opportunity": opp.ID},
			Err:     fmt.Errorf("opportunity is not profitable"),
		}
	}

	release, err := e.admit(ctx)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	defer release()

	plan, err := e.BuildPlan(opp)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	log := e.logger.With(
		slog.String("opportunity", opp.ID),
		slog.String("direction", string(opp.Direction)),
	)

	if e.cfg.Simulation {
		return e.simulate(ctx, opp, plan, log)
	}

	if err := e.revalidate(ctx, opp); err != nil {
		log.WarnContext(ctx, "engine: re-validation aborted execution", slog.String("error", err.Error()))
		return domain.ExecutionResult{}, err
	}

	log.InfoContext(ctx, "engine: executing plan",
		slog.String("amount", opp.Amount.String()),
		slog.String("expected_net", opp.NetProfit.String()),
	)
	return e.run(ctx, opp, plan, log), nil
}

// admit sets the in-process flag and, when configured, the distributed lock.
// The returned func releases both.
func (e *Engine) admit(ctx context.Context) (func(), error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, &domain.ExecutionError{Kind: domain.KindInProgress, Err: domain.ErrExecutionInProgress}
	}
	if e.lock == nil {
		return func() { e.running.Store(false) }, nil
	}
	unlock, err := e.lock.Acquire(ctx, lockKey, e.cfg.LockTTL)
	if err != nil {
		e.running.Store(false)
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, &domain.ExecutionError{
				Kind:    domain.KindInProgress,
				Context: domain.Context{"lock": lockKey},
				Err:     errors.Join(domain.ErrExecutionInProgress, err),
			}
		}
		return nil, fmt.Errorf("engine: acquire execution lock: %w", err)
	}
	return func() {
		unlock()
		e.running.Store(false)
	}, nil
}

// revalidate re-reads both pools and aborts when the directional spread has
// fallen to half of what it was at evaluation or less.
func (e *Engine) revalidate(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	buy, err := e.prices.Sample(ctx, opp.Buy.Network)
	if err != nil {
		return &domain.ExecutionError{Kind: domain.KindRevalidation, Context: domain.Context{"network": string(opp.Buy.Network)}, Err: err}
	}
	sell, err := e.prices.Sample(ctx, opp.Sell.Network)
	if err != nil {
		return &domain.ExecutionError{Kind: domain.KindRevalidation, Context: domain.Context{"network": string(opp.Sell.Network)}, Err: err}
	}

	current := decimal0
	if sell.Price.Cmp(buy.Price) > 0 {
		current = profit.PriceDifference(buy.Price, sell.Price)
	}
	threshold := opp.PriceDifferencePct.Div(decimal2)
	if current.LessThanOrEqual(threshold) {
		return &domain.ExecutionError{
			Kind: domain.KindPriceMoved,
			Context: domain.Context{
				"original_pct": opp.PriceDifferencePct.StringFixed(4),
				"current_pct":  current.StringFixed(4),
			},
			Err: domain.ErrPriceMoved,
		}
	}
	return nil
}

// run executes the steps in order, feeding each step's output into the next.
func (e *Engine) run(ctx context.Context, opp domain.ArbitrageOpportunity, plan domain.ExecutionPlan, log *slog.Logger) domain.ExecutionResult {
	start := e.now()
	res := domain.ExecutionResult{
		OpportunityID:   opp.ID,
		Direction:       opp.Direction,
		AmountIn:        new(big.Int).Set(opp.Amount),
		TotalGasCost:    new(big.Int),
		TotalBridgeCost: new(big.Int),
		NetProfit:       new(big.Int),
	}
	held := new(big.Int).Set(opp.Amount)

	for i := range plan.Steps {
		step := &plan.Steps[i]
		_ = step.Transition(domain.StepExecuting, e.now())

		out, err := e.step(ctx, step, held, &res)
		if err != nil {
			_ = step.Transition(domain.StepFailed, e.now())
			failed := *step
			res.FailedStep = &failed
			res.Error = err.Error()
			res.FinalAmount = held
			log.ErrorContext(ctx, "engine: plan step failed",
				slog.Int("step", step.Index),
				slog.String("kind", string(step.Kind)),
				slog.String("description", step.Description),
				slog.String("error", err.Error()),
			)
			break
		}
		held = out
		_ = step.Transition(domain.StepCompleted, e.now())
		res.CompletedSteps = append(res.CompletedSteps, *step)
		log.InfoContext(ctx, "engine: step completed",
			slog.Int("step", step.Index),
			slog.String("description", step.Description),
			slog.String("held", held.String()),
		)
	}

	if res.FailedStep == nil {
		res.Success = true
		res.FinalAmount = held
		res.NetProfit = new(big.Int).Sub(held, opp.Amount)
		res.NetProfit.Sub(res.NetProfit, res.TotalGasCost)
	}
	res.Duration = e.now().Sub(start)
	res.FinishedAt = e.now()
	e.appendResult(ctx, res)

	log.InfoContext(ctx, "engine: execution finished",
		slog.Bool("success", res.Success),
		slog.String("net_profit", res.NetProfit.String()),
		slog.String("gas", res.TotalGasCost.String()),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// step performs one plan step on amount and returns the amount now held.
func (e *Engine) step(ctx context.Context, s *domain.ExecutionStep, amount *big.Int, res *domain.ExecutionResult) (*big.Int, error) {
	switch s.Kind {
	case domain.StepSwap:
		r, err := e.swaps.ExecuteOn(ctx, s.Network, domain.SwapRequest{TokenIn: s.AssetIn, TokenOut: s.AssetOut, AmountIn: amount})
		if err != nil {
			return nil, err
		}
		s.TxRef = r.TxRef
		s.GasUsed = r.GasUsed
		res.TxRefs = append(res.TxRefs, r.TxRef)
		if r.GasCost != nil {
			res.TotalGasCost.Add(res.TotalGasCost, r.GasCost)
		}
		return r.AmountOut, nil

	case domain.StepBridge:
		req := domain.BridgeRequest{
			Route:  domain.BridgeRoute{Asset: s.AssetIn, From: s.Network, To: s.Destination},
			Amount: amount,
		}
		t, err := e.bridges.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		s.TxRef = t.TxRef
		s.GasUsed = t.GasUsed
		if t.Fallback {
			s.Description += " (simulated fallback)"
		}
		res.TxRefs = append(res.TxRefs, t.TxRef)
		if t.GasCost != nil {
			res.TotalGasCost.Add(res.TotalGasCost, t.GasCost)
		}
		done, err := e.bridges.Monitor(ctx, t, e.cfg.BridgeTimeout)
		if err != nil {
			return nil, err
		}
		// Native message fees are already part of t.GasCost.
		shrink := new(big.Int).Sub(amount, done.AmountOut)
		if shrink.Sign() > 0 {
			res.TotalBridgeCost.Add(res.TotalBridgeCost, shrink)
		}
		return done.AmountOut, nil

	case domain.StepWait:
		if err := sleep(ctx, e.cfg.WaitStep); err != nil {
			return nil, err
		}
		return amount, nil
	}
	return nil, fmt.Errorf("engine: unknown step kind %q", s.Kind)
}

// simulate completes every step after a short pause and reports the projected
// profit.
func (e *Engine) simulate(ctx context.Context, opp domain.ArbitrageOpportunity, plan domain.ExecutionPlan, log *slog.Logger) (domain.ExecutionResult, error) {
	start := e.now()
	if err := sleep(ctx, e.cfg.SimulationDelay); err != nil {
		return domain.ExecutionResult{}, &domain.ExecutionError{Kind: domain.KindStepFailed, Context: domain.Context{"opportunity": opp.ID}, Err: err}
	}
	res := domain.ExecutionResult{
		OpportunityID:   opp.ID,
		Direction:       opp.Direction,
		Success:         true,
		Simulated:       true,
		AmountIn:        new(big.Int).Set(opp.Amount),
		NetProfit:       copyOrZero(opp.NetProfit),
		TotalGasCost:    copyOrZero(opp.EstimatedGasCost),
		TotalBridgeCost: copyOrZero(opp.EstimatedBridgeCost),
	}
	for i := range plan.Steps {
		step := plan.Steps[i]
		_ = step.Transition(domain.StepExecuting, e.now())
		_ = step.Transition(domain.StepCompleted, e.now())
		res.CompletedSteps = append(res.CompletedSteps, step)
	}
	final := new(big.Int).Add(opp.Amount, res.NetProfit)
	res.FinalAmount = final.Add(final, res.TotalGasCost)
	res.Duration = e.now().Sub(start)
	res.FinishedAt = e.now()
	e.appendResult(ctx, res)

	log.InfoContext(ctx, "engine: simulated execution finished",
		slog.String("net_profit", res.NetProfit.String()),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
