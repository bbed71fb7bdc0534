// Package swap quotes and executes single-pool swaps on the two concentrated
// liquidity venues and aggregates them behind a Coordinator.
package swap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/pricing"
	"github.com/alanyoungcy/bridgearb/internal/profit"
)

// VenueKind is the closed set of supported venues.
type VenueKind string

const (
	KindPharaoh VenueKind = "pharaoh"
	KindShadow  VenueKind = "shadow"
)

// Venue quotes and executes swaps on one network.
type Venue interface {
	Name() string
	Kind() VenueKind
	Network() domain.Network
	Quote(ctx context.Context, req domain.SwapRequest) (domain.SwapQuote, error)
	Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error)
	IsAvailable(ctx context.Context) bool
	Health(ctx context.Context) domain.VenueHealth
}

// Config describes one venue deployment.
type Config struct {
	Kind    VenueKind
	Network domain.Network
	Router  string
	Pool    string
	// Tokens maps each asset to its token address on Network.
	Tokens map[domain.Asset]string
	// FeeBps is the pool fee in basis points.
	FeeBps int64
	// FeeTier is the pool fee in hundredths of a bip (Pharaoh only).
	FeeTier int64
	// TickSpacing selects the pool (Shadow only).
	TickSpacing int64
	GasEstimate uint64
	// ImpactCap bounds the reported price impact, as a fraction.
	ImpactCap   decimal.Decimal
	SlippageBps int64
	// NativeUSD prices the network's native gas token in USD.
	NativeUSD decimal.Decimal
	Deadline  time.Duration
	// Band bounds the primary price formula; the zero Band means
	// pricing.DefaultBand.
	Band pricing.Band
	// FallbackEnabled lets an out-of-band pool price through the fallback
	// formula instead of failing the quote.
	FallbackEnabled bool
}

// encoder builds router calldata for exactInputSingle.
type encoder interface {
	encodeSwap(p swapParams) ([]byte, error)
}

type swapParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Recipient    common.Address
	Deadline     *big.Int
	AmountIn     *big.Int
	AmountOutMin *big.Int
}

// maxApproval is the oversized allowance granted to routers.
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// New builds the venue variant named by cfg.Kind.
func New(cfg Config, client chain.Client, logger *slog.Logger) (Venue, error) {
	var enc encoder
	switch cfg.Kind {
	case KindPharaoh:
		enc = pharaohEncoder{fee: cfg.FeeTier}
	case KindShadow:
		enc = shadowEncoder{tickSpacing: cfg.TickSpacing}
	default:
		return nil, &domain.SwapError{
			Kind:  domain.KindUnknownVenue,
			Venue: string(cfg.Kind),
			Err:   fmt.Errorf("unsupported venue kind %q", cfg.Kind),
		}
	}
	if client.Network() != cfg.Network {
		return nil, fmt.Errorf("swap: %s: client is for %s, venue for %s", cfg.Kind, client.Network(), cfg.Network)
	}
	approved, err := lru.New[string, struct{}](64)
	if err != nil {
		return nil, fmt.Errorf("swap: allowance cache: %w", err)
	}
	if cfg.ImpactCap.IsZero() {
		cfg.ImpactCap = decimal.RequireFromString("0.05")
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 5 * time.Minute
	}
	if cfg.Band.Min == nil && cfg.Band.Max == nil {
		cfg.Band = pricing.DefaultBand()
	}
	return &venue{
		cfg:      cfg,
		client:   client,
		enc:      enc,
		approved: approved,
		logger: logger.With(
			slog.String("component", "venue"),
			slog.String("venue", string(cfg.Kind)),
			slog.String("network", string(cfg.Network)),
		),
		now: time.Now,
	}, nil
}

// venue implements the behaviour shared by both variants.
type venue struct {
	cfg      Config
	client   chain.Client
	enc      encoder
	approved *lru.Cache[string, struct{}]
	logger   *slog.Logger
	now      func() time.Time
}

func (v *venue) Name() string            { return string(v.cfg.Kind) }
func (v *venue) Kind() VenueKind         { return v.cfg.Kind }
func (v *venue) Network() domain.Network { return v.cfg.Network }

func (v *venue) token(a domain.Asset) (common.Address, error) {
	addr, ok := v.cfg.Tokens[a]
	if !ok || addr == "" {
		return common.Address{}, fmt.Errorf("no token address for %s", a)
	}
	return common.HexToAddress(addr), nil
}

func (v *venue) quoteErr(kind domain.Kind, req domain.SwapRequest, err error) error {
	return &domain.SwapError{
		Kind:  kind,
		Venue: v.Name(),
		Context: domain.Context{
			"network":   string(v.cfg.Network),
			"token_in":  string(req.TokenIn),
			"token_out": string(req.TokenOut),
		},
		Err: err,
	}
}

// price reads the pool and returns USDC priced in USDT.
func (v *venue) price(ctx context.Context) (*big.Int, domain.PoolState, error) {
	st, err := v.client.PoolState(ctx, common.HexToAddress(v.cfg.Pool))
	if err != nil {
		return nil, st, err
	}
	conv := pricing.Convert(st.SqrtPriceX96, v.cfg.Band)
	if conv.Fallback && !v.cfg.FallbackEnabled {
		kind := domain.KindOutOfBand
		if conv.Primary.Sign() == 0 {
			kind = domain.KindConversion
		}
		return nil, st, &domain.PriceError{
			Kind:    kind,
			Network: v.cfg.Network,
			Context: domain.Context{"pool": v.cfg.Pool, "primary": conv.Primary.String()},
		}
	}
	p := conv.Price
	if usdt := v.cfg.Tokens[domain.AssetUSDT]; usdt != "" && strings.EqualFold(st.Token0, usdt) {
		p = pricing.Invert(p)
	}
	return p, st, nil
}

func (v *venue) Quote(ctx context.Context, req domain.SwapRequest) (domain.SwapQuote, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return domain.SwapQuote{}, v.quoteErr(domain.KindQuoteFailed, req, fmt.Errorf("amount must be positive"))
	}
	if req.TokenIn == req.TokenOut {
		return domain.SwapQuote{}, v.quoteErr(domain.KindQuoteFailed, req, fmt.Errorf("token in equals token out"))
	}
	p, _, err := v.price(ctx)
	if err != nil {
		return domain.SwapQuote{}, v.quoteErr(domain.KindQuoteFailed, req, err)
	}
	if p.Sign() == 0 {
		return domain.SwapQuote{}, v.quoteErr(domain.KindQuoteFailed, req, fmt.Errorf("zero pool price"))
	}

	unit := big.NewInt(domain.PriceScale)
	out := new(big.Int)
	if req.TokenIn == domain.AssetUSDC {
		out.Mul(req.AmountIn, p).Quo(out, unit)
	} else {
		out.Mul(req.AmountIn, unit).Quo(out, p)
	}
	out.Mul(out, big.NewInt(10_000-v.cfg.FeeBps)).Quo(out, big.NewInt(10_000))

	gasCost, err := v.gasCost(ctx, v.cfg.GasEstimate)
	if err != nil {
		return domain.SwapQuote{}, v.quoteErr(domain.KindQuoteFailed, req, err)
	}

	return domain.SwapQuote{
		Venue:       v.Name(),
		Network:     v.cfg.Network,
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		AmountIn:    new(big.Int).Set(req.AmountIn),
		AmountOut:   out,
		FeeBps:      v.cfg.FeeBps,
		GasEstimate: v.cfg.GasEstimate,
		GasCost:     gasCost,
		PriceImpact: priceImpact(req.AmountIn, out, v.cfg.ImpactCap),
		QuotedAt:    v.now(),
	}, nil
}

// priceImpact is |out/in - 1| capped at ceiling.
func priceImpact(in, out *big.Int, ceiling decimal.Decimal) decimal.Decimal {
	if in.Sign() == 0 {
		return ceiling
	}
	ratio := decimal.NewFromBigInt(out, 0).Div(decimal.NewFromBigInt(in, 0))
	impact := ratio.Sub(decimal.NewFromInt(1)).Abs()
	if impact.GreaterThan(ceiling) {
		return ceiling
	}
	return impact
}

// gasCost converts gas units to stable base units at the current gas price.
func (v *venue) gasCost(ctx context.Context, gas uint64) (*big.Int, error) {
	gp, err := v.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	return profit.GasCost(gas, gp, v.cfg.NativeUSD), nil
}

func (v *venue) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	tokenIn, err := v.token(req.TokenIn)
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindSubmit, req, err)
	}
	tokenOut, err := v.token(req.TokenOut)
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindSubmit, req, err)
	}
	router := common.HexToAddress(v.cfg.Router)

	if err := v.ensureAllowance(ctx, tokenIn, router, req.AmountIn); err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindAllowance, req, err)
	}

	q, err := v.Quote(ctx, req)
	if err != nil {
		return domain.SwapResult{}, err
	}
	minOut := new(big.Int).Mul(q.AmountOut, big.NewInt(10_000-v.cfg.SlippageBps))
	minOut.Quo(minOut, big.NewInt(10_000))

	wallet := v.client.Address()
	before, err := v.client.BalanceOf(ctx, tokenOut, wallet)
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindSubmit, req, fmt.Errorf("balance before: %w", err))
	}

	data, err := v.enc.encodeSwap(swapParams{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		Recipient:    wallet,
		Deadline:     big.NewInt(v.now().Add(v.cfg.Deadline).Unix()),
		AmountIn:     req.AmountIn,
		AmountOutMin: minOut,
	})
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindSubmit, req, err)
	}

	hash, err := v.client.Send(ctx, chain.TxRequest{To: router, Data: data, GasLimit: v.cfg.GasEstimate * 2})
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindSubmit, req, err)
	}
	rcpt, err := v.client.WaitForReceipt(ctx, hash)
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindReceipt, req, err)
	}
	if !rcpt.Succeeded() {
		return domain.SwapResult{}, v.quoteErr(domain.KindReceipt, req, fmt.Errorf("transaction %s reverted", hash.Hex()))
	}

	after, err := v.client.BalanceOf(ctx, tokenOut, wallet)
	if err != nil {
		return domain.SwapResult{}, v.quoteErr(domain.KindReceipt, req, fmt.Errorf("balance after: %w", err))
	}
	out := new(big.Int).Sub(after, before)
	if out.Sign() <= 0 {
		v.logger.WarnContext(ctx, "venue: no balance delta after swap, using quoted output",
			slog.String("tx", hash.Hex()),
			slog.String("quoted", q.AmountOut.String()),
		)
		out = q.AmountOut
	}

	gasCost := new(big.Int)
	if rcpt.EffectiveGasPrice != nil {
		gasCost = profit.GasCost(rcpt.GasUsed, rcpt.EffectiveGasPrice, v.cfg.NativeUSD)
	}

	v.logger.InfoContext(ctx, "venue: swap executed",
		slog.String("tx", hash.Hex()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("amount_out", out.String()),
		slog.Uint64("gas_used", rcpt.GasUsed),
	)
	return domain.SwapResult{
		Venue:       v.Name(),
		Network:     v.cfg.Network,
		TxRef:       hash.Hex(),
		AmountIn:    new(big.Int).Set(req.AmountIn),
		AmountOut:   out,
		GasUsed:     rcpt.GasUsed,
		GasCost:     gasCost,
		PriceImpact: q.PriceImpact,
	}, nil
}

// ensureAllowance approves the router for the maximum amount when the current
// allowance is short. Approved pairs are remembered to skip the read.
func (v *venue) ensureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	key := token.Hex() + ":" + spender.Hex()
	if v.approved.Contains(key) {
		return nil
	}
	cur, err := v.client.Allowance(ctx, token, v.client.Address(), spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if cur.Cmp(amount) >= 0 {
		v.approved.Add(key, struct{}{})
		return nil
	}
	hash, err := v.client.Approve(ctx, token, spender, maxApproval)
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	rcpt, err := v.client.WaitForReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("approve receipt: %w", err)
	}
	if !rcpt.Succeeded() {
		return fmt.Errorf("approve %s reverted", hash.Hex())
	}
	v.logger.InfoContext(ctx, "venue: router approved", slog.String("token", token.Hex()), slog.String("tx", hash.Hex()))
	v.approved.Add(key, struct{}{})
	return nil
}

func (v *venue) Health(ctx context.Context) domain.VenueHealth {
	h := domain.VenueHealth{Venue: v.Name(), Network: v.cfg.Network}
	p, st, err := v.price(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Price = p
	h.Liquidity = st.Liquidity
	h.Healthy = p.Sign() > 0 && st.Liquidity != nil && st.Liquidity.Sign() > 0
	if !h.Healthy {
		h.Error = "pool has no liquidity"
	}
	return h
}

func (v *venue) IsAvailable(ctx context.Context) bool {
	return v.Health(ctx).Healthy
}
