package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/profit"
)

// Coordinator aggregates quotes across venues and executes on the best one.
type Coordinator struct {
	venues []Venue
	// fallbackGas is the per-leg gas cost assumed when a quote fails.
	fallbackGas *big.Int
	// fallbackImpact is the slippage fraction assumed when a quote fails.
	fallbackImpact decimal.Decimal
	logger         *slog.Logger
}

// NewCoordinator creates a Coordinator. fallbackGas is in stable base units.
func NewCoordinator(venues []Venue, fallbackGas *big.Int, logger *slog.Logger) *Coordinator {
	if fallbackGas == nil {
		fallbackGas = big.NewInt(500_000)
	}
	return &Coordinator{
		venues:         venues,
		fallbackGas:    fallbackGas,
		fallbackImpact: decimal.New(5, -3),
		logger:         logger.With(slog.String("component", "swap")),
	}
}

// Venues returns the registered venues.
func (c *Coordinator) Venues() []Venue {
	return append([]Venue(nil), c.venues...)
}

func (c *Coordinator) venuesOn(network domain.Network) []Venue {
	if network == "" {
		return c.venues
	}
	var out []Venue
	for _, v := range c.venues {
		if v.Network() == network {
			out = append(out, v)
		}
	}
	return out
}

// Settle requests a quote from every venue on network (all venues when network
// is empty) and waits for all of them. Failures are logged and carried in the
// result; they never cancel sibling quotes.
func (c *Coordinator) Settle(ctx context.Context, network domain.Network, req domain.SwapRequest) []domain.Settled[domain.SwapQuote] {
	venues := c.venuesOn(network)
	out := make([]domain.Settled[domain.SwapQuote], len(venues))
	var g errgroup.Group
	for i, v := range venues {
		g.Go(func() error {
			q, err := v.Quote(ctx, req)
			out[i] = domain.Settled[domain.SwapQuote]{Source: v.Name(), Value: q, Err: err}
			if err != nil {
				c.logger.WarnContext(ctx, "swap: quote failed",
					slog.String("venue", v.Name()),
					slog.String("network", string(v.Network())),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// QuoteAll returns the quotes of every venue on network that answered, keyed
// by venue name. It fails only when no venue answered.
func (c *Coordinator) QuoteAll(ctx context.Context, network domain.Network, req domain.SwapRequest) (map[string]domain.SwapQuote, error) {
	settled := c.Settle(ctx, network, req)
	out := make(map[string]domain.SwapQuote, len(settled))
	for _, s := range settled {
		if s.OK() {
			out[s.Source] = s.Value
		}
	}
	if len(out) == 0 {
		return nil, noQuotes(network, settled)
	}
	return out, nil
}

func noQuotes(network domain.Network, settled []domain.Settled[domain.SwapQuote]) error {
	errs := make([]error, 0, len(settled))
	for _, err := range domain.Rejected(settled) {
		errs = append(errs, err)
	}
	cause := errors.Join(errs...)
	if cause == nil {
		cause = domain.ErrNoQuotes
	}
	return &domain.SwapError{
		Kind:    domain.KindNoQuotes,
		Context: domain.Context{"network": string(network)},
		Err:     cause,
	}
}

// Best returns the quote with the highest output on network.
func (c *Coordinator) Best(ctx context.Context, network domain.Network, req domain.SwapRequest) (domain.SwapQuote, error) {
	quotes, err := c.QuoteAll(ctx, network, req)
	if err != nil {
		return domain.SwapQuote{}, err
	}
	var best domain.SwapQuote
	for _, q := range quotes {
		if best.AmountOut == nil || q.AmountOut.Cmp(best.AmountOut) > 0 ||
			(q.AmountOut.Cmp(best.AmountOut) == 0 && q.Venue < best.Venue) {
			best = q
		}
	}
	return best, nil
}

// Execute re-quotes venueName and executes the swap there.
func (c *Coordinator) Execute(ctx context.Context, venueName string, req domain.SwapRequest) (domain.SwapResult, error) {
	var v Venue
	for _, cand := range c.venues {
		if cand.Name() == venueName {
			v = cand
			break
		}
	}
	if v == nil {
		return domain.SwapResult{}, &domain.SwapError{
			Kind:  domain.KindUnknownVenue,
			Venue: venueName,
			Err:   fmt.Errorf("venue not registered"),
		}
	}
	q, err := v.Quote(ctx, req)
	if err != nil {
		return domain.SwapResult{}, err
	}
	c.logger.InfoContext(ctx, "swap: executing",
		slog.String("venue", v.Name()),
		slog.String("network", string(v.Network())),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("quoted_out", q.AmountOut.String()),
	)
	return v.Execute(ctx, req)
}

// ExecuteOn executes on the best venue of network.
func (c *Coordinator) ExecuteOn(ctx context.Context, network domain.Network, req domain.SwapRequest) (domain.SwapResult, error) {
	best, err := c.Best(ctx, network, req)
	if err != nil {
		return domain.SwapResult{}, err
	}
	return c.Execute(ctx, best.Venue, req)
}

var (
	decimalHalf = decimal.New(5, -1)
	decimalOne  = decimal.NewFromInt(1)
	decimalTwo  = decimal.NewFromInt(2)
)

// RouteHealth scores one venue's route for a request.
type RouteHealth struct {
	Venue   string         `json:"venue"`
	Network domain.Network `json:"network"`
	Score   int            `json:"score"`
	Impact  string         `json:"impact"`
	GasCost *big.Int       `json:"gas_cost"`
	Error   string         `json:"error,omitempty"`
}

// Score rates a quote from 100 down by price impact and gas cost bands.
func Score(q domain.SwapQuote) int {
	score := 100
	pct := q.PriceImpact.Shift(2)
	switch {
	case pct.GreaterThan(decimalTwo):
		score -= 30
	case pct.GreaterThan(decimalOne):
		score -= 15
	case pct.GreaterThan(decimalHalf):
		score -= 5
	}
	if q.GasCost != nil {
		switch {
		case q.GasCost.Cmp(big.NewInt(5_000_000)) > 0:
			score -= 20
		case q.GasCost.Cmp(big.NewInt(1_000_000)) > 0:
			score -= 10
		case q.GasCost.Cmp(big.NewInt(250_000)) > 0:
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// RouteHealth scores every venue for req. Venues that cannot quote score zero.
func (c *Coordinator) RouteHealth(ctx context.Context, req domain.SwapRequest) []RouteHealth {
	settled := c.Settle(ctx, "", req)
	out := make([]RouteHealth, len(settled))
	for i, s := range settled {
		rh := RouteHealth{Venue: s.Source, Network: c.venues[i].Network()}
		if s.OK() {
			rh.Score = Score(s.Value)
			rh.Impact = s.Value.PriceImpact.Shift(2).StringFixed(4) + "%"
			rh.GasCost = s.Value.GasCost
		} else {
			rh.Error = s.Err.Error()
		}
		out[i] = rh
	}
	return out
}

// VenueHealth checks every venue concurrently.
func (c *Coordinator) VenueHealth(ctx context.Context) []domain.VenueHealth {
	out := make([]domain.VenueHealth, len(c.venues))
	var g errgroup.Group
	for i, v := range c.venues {
		g.Go(func() error {
			out[i] = v.Health(ctx)
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Network < out[j].Network })
	return out
}

// Leg is one swap whose cost should be estimated.
type Leg struct {
	Network domain.Network
	Request domain.SwapRequest
}

// CostEstimate is the aggregate cost of a set of swap legs.
type CostEstimate struct {
	Gas      *big.Int
	Slippage *big.Int
	// Fallbacks counts legs that used the conservative estimate.
	Fallbacks int
}

// Total returns gas plus slippage.
func (e CostEstimate) Total() *big.Int {
	return new(big.Int).Add(e.Gas, e.Slippage)
}

// EstimateSwapCosts quotes every leg and sums gas and slippage. Legs whose quote
// fails are charged the conservative fallback instead.
func (c *Coordinator) EstimateSwapCosts(ctx context.Context, legs []Leg) CostEstimate {
	est := CostEstimate{Gas: new(big.Int), Slippage: new(big.Int)}
	for _, leg := range legs {
		q, err := c.Best(ctx, leg.Network, leg.Request)
		if err != nil {
			est.Fallbacks++
			est.Gas.Add(est.Gas, c.fallbackGas)
			est.Slippage.Add(est.Slippage, profit.SlippageCost(leg.Request.AmountIn, c.fallbackImpact))
			c.logger.WarnContext(ctx, "swap: cost estimate fallback",
				slog.String("network", string(leg.Network)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if q.GasCost != nil {
			est.Gas.Add(est.Gas, q.GasCost)
		}
		est.Slippage.Add(est.Slippage, profit.SlippageCost(leg.Request.AmountIn, q.PriceImpact))
	}
	return est
}
