// Package supervisor drives the poll loop: sample both pools, evaluate, and in
// trade mode execute. Consecutive failures trip a circuit breaker that stops
// the loop.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// Sampler reads both pools.
type Sampler interface {
	SampleAll(ctx context.Context) (map[domain.Network]domain.PriceSample, error)
}

// Engine evaluates and executes opportunities.
type Engine interface {
	Evaluate(ctx context.Context, home, remote domain.PriceSample) (domain.ArbitrageOpportunity, error)
	Executable(opp domain.ArbitrageOpportunity) bool
	Execute(ctx context.Context, opp domain.ArbitrageOpportunity) (domain.ExecutionResult, error)
}

// Notifier delivers operator alerts filtered by event name.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert event names.
const (
	EventExecution      = "execution"
	EventCircuitBreaker = "circuit_breaker"
	EventShutdown       = "shutdown"
)

// Config tunes the loop.
type Config struct {
	Home                 domain.Network
	Remote               domain.Network
	PollInterval         time.Duration
	MaxConsecutiveErrors int
	// Execute is false in monitor mode: opportunities are evaluated and
	// published but never executed.
	Execute bool
}

// Supervisor owns the poll loop and the metrics.
type Supervisor struct {
	cfg      Config
	sampler  Sampler
	engine   Engine
	notifier Notifier
	bus      domain.Publisher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Supervisor. notifier and bus may be nil.
func New(cfg Config, sampler Sampler, engine Engine, notifier Notifier, bus domain.Publisher, logger *slog.Logger) *Supervisor {
	if cfg.Home == "" {
		cfg.Home = domain.NetworkAvalanche
	}
	if cfg.Remote == "" {
		cfg.Remote = domain.NetworkSonic
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	return &Supervisor{
		cfg:      cfg,
		sampler:  sampler,
		engine:   engine,
		notifier: notifier,
		bus:      bus,
		metrics:  NewMetrics(time.Now()),
		logger:   logger.With(slog.String("component", "supervisor")),
		now:      time.Now,
	}
}

// Metrics returns a snapshot of the counters.
func (s *Supervisor) Metrics() domain.Metrics { return s.metrics.Snapshot() }

// Run polls until ctx is cancelled or the circuit breaker trips. Cancellation
// is a clean stop and returns nil; a tripped breaker returns its error. Final
// metrics are flushed on both paths.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "supervisor: started",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Bool("execute", s.cfg.Execute),
		slog.Int("max_consecutive_errors", s.cfg.MaxConsecutiveErrors),
	)
	defer s.flush()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := s.Cycle(ctx); err != nil && domain.KindOf(err) == domain.KindCircuitOpen {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs one poll iteration. It returns the cycle's error after it has
// been logged and counted; the error is of kind circuit_open once the breaker
// trips.
func (s *Supervisor) Cycle(ctx context.Context) error {
	if s.metrics.Snapshot().CircuitOpen {
		return &domain.ExecutionError{Kind: domain.KindCircuitOpen, Err: domain.ErrCircuitOpen}
	}
	s.metrics.cycle(s.now())

	err := s.cycle(ctx)
	if err == nil || ctx.Err() != nil {
		if err == nil {
			s.metrics.clean()
		}
		return err
	}

	n := s.metrics.failure()
	s.logger.WarnContext(ctx, "supervisor: cycle failed",
		slog.Int("consecutive_errors", n),
		slog.String("error", err.Error()),
	)
	if n < s.cfg.MaxConsecutiveErrors {
		return err
	}

	s.metrics.trip()
	tripped := &domain.ExecutionError{
		Kind:    domain.KindCircuitOpen,
		Context: domain.Context{"consecutive_errors": fmt.Sprint(n)},
		Err:     fmt.Errorf("%w: last error: %v", domain.ErrCircuitOpen, err),
	}
	s.logger.ErrorContext(ctx, "supervisor: circuit breaker tripped", slog.Int("consecutive_errors", n))
	s.notify(ctx, EventCircuitBreaker, "Circuit breaker tripped",
		fmt.Sprintf("%d consecutive errors, last: %v", n, err))
	return tripped
}

func (s *Supervisor) cycle(ctx context.Context) error {
	samples, err := s.sampler.SampleAll(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: sample: %w", err)
	}
	home, ok := samples[s.cfg.Home]
	if !ok {
		return fmt.Errorf("supervisor: no sample for %s", s.cfg.Home)
	}
	remote, ok := samples[s.cfg.Remote]
	if !ok {
		return fmt.Errorf("supervisor: no sample for %s", s.cfg.Remote)
	}

	opp, err := s.engine.Evaluate(ctx, home, remote)
	if err != nil {
		return fmt.Errorf("supervisor: evaluate: %w", err)
	}
	s.logger.DebugContext(ctx, "supervisor: evaluated",
		slog.String("direction", string(opp.Direction)),
		slog.String("difference_pct", opp.PriceDifferencePct.StringFixed(4)),
		slog.String("net_profit", opp.NetProfit.String()),
		slog.Bool("profitable", opp.Profitable),
	)
	if opp.Profitable {
		s.metrics.opportunity()
		s.logger.InfoContext(ctx, "supervisor: opportunity found",
			slog.String("id", opp.ID),
			slog.String("direction", string(opp.Direction)),
			slog.String("net_profit", opp.NetProfit.String()),
			slog.String("profit_pct", opp.ProfitPct.StringFixed(4)),
		)
	}
	if !s.cfg.Execute || !s.engine.Executable(opp) {
		return nil
	}

	res, err := s.engine.Execute(ctx, opp)
	switch {
	case err == nil:
	case domain.KindOf(err) == domain.KindPriceMoved:
		s.metrics.abort()
		return nil
	case domain.KindOf(err) == domain.KindInProgress:
		s.logger.DebugContext(ctx, "supervisor: execution already in progress")
		return nil
	default:
		return fmt.Errorf("supervisor: execute: %w", err)
	}

	s.metrics.result(res)
	s.notify(ctx, EventExecution, resultTitle(res), resultMessage(res))
	if !res.Success {
		return &domain.ExecutionError{
			Kind:    domain.KindStepFailed,
			Context: domain.Context{"opportunity": res.OpportunityID},
			Err:     errors.New(res.Error),
		}
	}
	return nil
}

func resultTitle(r domain.ExecutionResult) string {
	switch {
	case r.Success && r.Simulated:
		return "Simulated execution succeeded"
	case r.Success:
		return "Execution succeeded"
	default:
		return "Execution failed"
	}
}

func resultMessage(r domain.ExecutionResult) string {
	msg := fmt.Sprintf("Direction: %s\nNet profit: %s\nGas: %s\nDuration: %s",
		r.Direction, bigString(r.NetProfit), bigString(r.TotalGasCost), r.Duration.Round(time.Second))
	if r.FailedStep != nil {
		msg += fmt.Sprintf("\nFailed step %d: %s\nError: %s", r.FailedStep.Index, r.FailedStep.Description, r.Error)
	}
	return msg
}

func (s *Supervisor) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "supervisor: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// flush logs, publishes and announces the final metrics. It runs on a fresh
// context because the loop's context is usually already cancelled.
func (s *Supervisor) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := s.metrics.Snapshot()
	s.logger.InfoContext(ctx, "supervisor: stopped",
		slog.Int64("cycles", m.Cycles),
		slog.Int64("trades", m.Trades),
		slog.Int64("successes", m.Successes),
		slog.Int64("failures", m.Failures),
		slog.Int64("aborts", m.Aborts),
		slog.String("total_profit", m.TotalProfit.String()),
		slog.String("total_loss", m.TotalLoss.String()),
		slog.Bool("circuit_open", m.CircuitOpen),
	)
	if s.bus != nil {
		if payload, err := json.Marshal(m); err == nil {
			_ = s.bus.Publish(ctx, domain.ChannelStatus, payload)
		}
	}
	s.notify(ctx, EventShutdown, "Bot stopped", fmt.Sprintf(
		"Cycles: %d\nTrades: %d (%d ok, %d failed)\nProfit: %s\nLoss: %s",
		m.Cycles, m.Trades, m.Successes, m.Failures, m.TotalProfit, m.TotalLoss))
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
