package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// Policy maps each asset to its preferred provider.
type Policy map[domain.Asset]ProviderKind

// DefaultPolicy sends USDC through deBridge and USDT through CCIP.
func DefaultPolicy() Policy {
	return Policy{
		domain.AssetUSDC: KindDeBridge,
		domain.AssetUSDT: KindCCIP,
	}
}

// fallbackOrder is tried when the preferred provider cannot serve a route.
var fallbackOrder = []ProviderKind{KindDeBridge, KindCCIP}

// Selection is the provider chosen for a route.
type Selection struct {
	Provider  Provider
	Available bool
	// Reason explains why the simulation provider was selected.
	Reason string
}

// Coordinator chooses providers by policy, aggregates quotes and falls back to
// simulation when a real transfer cannot be started.
type Coordinator struct {
	providers map[ProviderKind]Provider
	sim       *Simulation
	policy    Policy
	logger    *slog.Logger
}

// NewCoordinator registers real providers alongside the simulation fallback.
func NewCoordinator(providers []Provider, sim *Simulation, policy Policy, logger *slog.Logger) *Coordinator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	c := &Coordinator{
		providers: make(map[ProviderKind]Provider, len(providers)),
		sim:       sim,
		policy:    policy,
		logger:    logger.With(slog.String("component", "bridge")),
	}
	for _, p := range providers {
		if p.Kind() == KindSimulation {
			continue
		}
		c.providers[p.Kind()] = p
	}
	return c
}

// Select applies the policy: the preferred provider for the asset, else the
// first provider in fallback order that supports the route, else simulation
// with the route marked unavailable.
func (c *Coordinator) Select(route domain.BridgeRoute) Selection {
	return c.selectExcept(route, nil)
}

func (c *Coordinator) selectExcept(route domain.BridgeRoute, skip map[ProviderKind]bool) Selection {
	usable := func(kind ProviderKind) (Provider, bool) {
		p, ok := c.providers[kind]
		if !ok || skip[kind] || !p.IsRouteAvailable(route) {
			return nil, false
		}
		return p, true
	}
	if kind, ok := c.policy[route.Asset]; ok {
		if p, ok := usable(kind); ok {
			return Selection{Provider: p, Available: true}
		}
	}
	for _, kind := range fallbackOrder {
		if p, ok := usable(kind); ok {
			return Selection{Provider: p, Available: true}
		}
	}
	return Selection{
		Provider: c.sim,
		Reason:   fmt.Sprintf("no provider supports %s %s -> %s", route.Asset, route.From, route.To),
	}
}

func (c *Coordinator) supporting(route domain.BridgeRoute) []Provider {
	var out []Provider
	for _, kind := range fallbackOrder {
		if p, ok := c.providers[kind]; ok && p.IsRouteAvailable(route) {
			out = append(out, p)
		}
	}
	return out
}

// QuoteAll asks every provider supporting the route and returns the successful
// quotes ordered by effective cost. When no real provider supports the route
// the simulation quote is returned. It fails only when every provider fails.
func (c *Coordinator) QuoteAll(ctx context.Context, req domain.BridgeRequest) ([]domain.BridgeQuote, error) {
	providers := c.supporting(req.Route)
	if len(providers) == 0 {
		q, err := c.sim.Quote(ctx, req)
		if err != nil {
			return nil, err
		}
		return []domain.BridgeQuote{q}, nil
	}

	settled := make([]domain.Settled[domain.BridgeQuote], len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			q, err := p.Quote(ctx, req)
			settled[i] = domain.Settled[domain.BridgeQuote]{Source: p.Name(), Value: q, Err: err}
			if err != nil {
				c.logger.WarnContext(ctx, "bridge: quote failed",
					slog.String("provider", p.Name()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	quotes := domain.Fulfilled(settled)
	if len(quotes) == 0 {
		errs := make([]error, 0, len(settled))
		for _, err := range domain.Rejected(settled) {
			errs = append(errs, err)
		}
		return nil, &domain.BridgeError{
			Kind:    domain.KindProviderStatus,
			Context: routeContext(req.Route),
			Err:     errors.Join(append(errs, domain.ErrNoQuotes)...),
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].EffectiveCost().Cmp(quotes[j].EffectiveCost()) < 0
	})
	return quotes, nil
}

// BestQuote returns the cheapest quote.
func (c *Coordinator) BestQuote(ctx context.Context, req domain.BridgeRequest) (domain.BridgeQuote, error) {
	quotes, err := c.QuoteAll(ctx, req)
	if err != nil {
		return domain.BridgeQuote{}, err
	}
	return quotes[0], nil
}

// EstimateCost returns the cheapest effective cost for the request, or the
// simulation cost plus fallbackFee when no quote is available.
func (c *Coordinator) EstimateCost(ctx context.Context, req domain.BridgeRequest, fallbackFee *big.Int) *big.Int {
	q, err := c.BestQuote(ctx, req)
	if err == nil {
		return q.EffectiveCost()
	}
	cost := new(big.Int).Sub(req.Amount, SimulatedOutput(req.Amount))
	if fallbackFee != nil {
		cost.Add(cost, fallbackFee)
	}
	return cost
}

// Execute starts the transfer with the selected provider. A provider that
// reports the route unsupported is skipped and selection runs again. Any other
// failure to start is logged and the transfer is re-run through simulation.
func (c *Coordinator) Execute(ctx context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error) {
	var (
		err     error
		skipped = make(map[ProviderKind]bool)
	)
	for {
		sel := c.selectExcept(req.Route, skipped)
		if !sel.Available {
			c.logger.WarnContext(ctx, "bridge: route unavailable, using simulation",
				slog.String("reason", sel.Reason),
			)
			break
		}

		var t domain.BridgeTransfer
		t, err = sel.Provider.Execute(ctx, req)
		if err == nil {
			return t, nil
		}
		if domain.KindOf(err) != domain.KindRouteUnsupported {
			c.logger.ErrorContext(ctx, "bridge: provider failed, falling back to simulation",
				slog.String("provider", sel.Provider.Name()),
				slog.String("asset", string(req.Route.Asset)),
				slog.String("error", err.Error()),
			)
			break
		}
		c.logger.WarnContext(ctx, "bridge: provider rejected route, selecting again",
			slog.String("provider", sel.Provider.Name()),
			slog.String("asset", string(req.Route.Asset)),
			slog.String("error", err.Error()),
		)
		skipped[sel.Provider.Kind()] = true
	}

	t, simErr := c.sim.Execute(ctx, req)
	if simErr != nil {
		return domain.BridgeTransfer{}, errors.Join(err, simErr)
	}
	t.Fallback = true
	return t, nil
}

func (c *Coordinator) provider(name string) (Provider, error) {
	if name == c.sim.Name() {
		return c.sim, nil
	}
	for _, p := range c.providers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, &domain.BridgeError{Kind: domain.KindRouteUnsupported, Provider: name, Err: fmt.Errorf("provider not registered")}
}

// Monitor waits for t on the provider that started it.
func (c *Coordinator) Monitor(ctx context.Context, t domain.BridgeTransfer, timeout time.Duration) (Completion, error) {
	p, err := c.provider(t.Provider)
	if err != nil {
		return Completion{}, err
	}
	return p.Monitor(ctx, t, timeout)
}

// ProviderCounts tallies monitoring outcomes for one provider.
type ProviderCounts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchReport is the outcome of MonitorMultiple.
type BatchReport struct {
	Completions []Completion               `json:"completions"`
	Errors      map[string]error           `json:"-"`
	ByProvider  map[string]*ProviderCounts `json:"by_provider"`
}

// MonitorMultiple waits for every transfer concurrently and reports per
// provider counts. Individual failures do not cancel the others.
func (c *Coordinator) MonitorMultiple(ctx context.Context, transfers []domain.BridgeTransfer, timeout time.Duration) BatchReport {
	report := BatchReport{
		Errors:     make(map[string]error),
		ByProvider: make(map[string]*ProviderCounts),
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, t := range transfers {
		g.Go(func() error {
			done, err := c.Monitor(ctx, t, timeout)
			mu.Lock()
			defer mu.Unlock()
			counts, ok := report.ByProvider[t.Provider]
			if !ok {
				counts = &ProviderCounts{}
				report.ByProvider[t.Provider] = counts
			}
			if err != nil {
				counts.Failed++
				report.Errors[t.TxRef] = err
				return nil
			}
			counts.Completed++
			report.Completions = append(report.Completions, done)
			return nil
		})
	}
	_ = g.Wait()
	return report
}
