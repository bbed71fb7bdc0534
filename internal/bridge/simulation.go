package bridge

import (
	"context"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// simulationFeeDivisor takes 0.1% of every transfer.
const simulationFeeDivisor = 1000

// Simulation is a network-free provider used in simulation mode and as the
// fallback when a real provider fails.
type Simulation struct {
	minDelay time.Duration
	maxDelay time.Duration
	logger   *slog.Logger
}

// NewSimulation creates a simulated bridge whose transfers complete after a
// random delay in [minDelay, maxDelay].
func NewSimulation(minDelay, maxDelay time.Duration, logger *slog.Logger) *Simulation {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Simulation{
		minDelay: minDelay,
		maxDelay: maxDelay,
		logger:   logger.With(slog.String("component", "bridge"), slog.String("provider", string(KindSimulation))),
	}
}

func (s *Simulation) Name() string       { return string(KindSimulation) }
func (s *Simulation) Kind() ProviderKind { return KindSimulation }

// IsRouteAvailable accepts every route between two distinct networks.
func (s *Simulation) IsRouteAvailable(route domain.BridgeRoute) bool {
	return route.From != route.To
}

// SimulatedOutput returns amount minus 0.1%.
func SimulatedOutput(amount *big.Int) *big.Int {
	fee := new(big.Int).Quo(amount, big.NewInt(simulationFeeDivisor))
	return new(big.Int).Sub(amount, fee)
}

func (s *Simulation) Quote(_ context.Context, req domain.BridgeRequest) (domain.BridgeQuote, error) {
	return domain.BridgeQuote{
		Provider:      s.Name(),
		Route:         req.Route,
		AmountIn:      new(big.Int).Set(req.Amount),
		AmountOut:     SimulatedOutput(req.Amount),
		Fee:           new(big.Int),
		EstimatedTime: s.maxDelay,
	}, nil
}

func (s *Simulation) Execute(ctx context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error) {
	ref := "sim-" + uuid.NewString()
	s.logger.InfoContext(ctx, "bridge: simulated transfer started",
		slog.String("tx", ref),
		slog.String("asset", string(req.Route.Asset)),
		slog.String("amount", req.Amount.String()),
	)
	return domain.BridgeTransfer{
		Provider:        s.Name(),
		Route:           req.Route,
		TxRef:           ref,
		OrderRef:        ref,
		AmountIn:        new(big.Int).Set(req.Amount),
		EstimatedOutput: SimulatedOutput(req.Amount),
		GasCost:         new(big.Int),
		Fee:             new(big.Int),
		StartedAt:       time.Now(),
	}, nil
}

// delay picks the dwell for one transfer.
func (s *Simulation) delay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + rand.N(span+1)
}

// Monitor waits out the simulated dwell. A dwell longer than timeout fails the
// same way a real provider would.
func (s *Simulation) Monitor(ctx context.Context, t domain.BridgeTransfer, timeout time.Duration) (Completion, error) {
	d := s.delay()
	if timeout > 0 && d > timeout {
		return Completion{}, bridgeErr(s.Name(), domain.KindMonitorTimeout, t.Route, domain.ErrMonitorTimeout)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Completion{}, bridgeErr(s.Name(), domain.KindMonitorTimeout, t.Route, ctx.Err())
	case <-timer.C:
	}
	return Completion{
		Provider:    s.Name(),
		TxRef:       t.TxRef,
		Status:      "Completed",
		AmountOut:   new(big.Int).Set(t.EstimatedOutput),
		Elapsed:     d,
		CompletedAt: time.Now(),
	}, nil
}

var _ Provider = (*Simulation)(nil)
