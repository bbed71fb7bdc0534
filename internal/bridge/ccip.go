package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/profit"
)

const ccipRouterABI = `[
	{"name":"getFee","type":"function","stateMutability":"view","inputs":[
		{"name":"destinationChainSelector","type":"uint64"},
		{"name":"message","type":"tuple","components":[
			{"name":"receiver","type":"bytes"},
			{"name":"data","type":"bytes"},
			{"name":"tokenAmounts","type":"tuple[]","components":[
				{"name":"token","type":"address"},
				{"name":"amount","type":"uint256"}]},
			{"name":"feeToken","type":"address"},
			{"name":"extraArgs","type":"bytes"}]}],
	"outputs":[{"name":"fee","type":"uint256"}]},
	{"name":"ccipSend","type":"function","stateMutability":"payable","inputs":[
		{"name":"destinationChainSelector","type":"uint64"},
		{"name":"message","type":"tuple","components":[
			{"name":"receiver","type":"bytes"},
			{"name":"data","type":"bytes"},
			{"name":"tokenAmounts","type":"tuple[]","components":[
				{"name":"token","type":"address"},
				{"name":"amount","type":"uint256"}]},
			{"name":"feeToken","type":"address"},
			{"name":"extraArgs","type":"bytes"}]}],
	"outputs":[{"name":"messageId","type":"bytes32"}]},
	{"name":"isChainSupported","type":"function","stateMutability":"view","inputs":[
		{"name":"chainSelector","type":"uint64"}],
	"outputs":[{"name":"supported","type":"bool"}]}
]`

var ccipRouter = chain.MustParseABI(ccipRouterABI)

// evmExtraArgsV1Tag prefixes the extra-args blob; a zero gas limit is used
// because the receiver is an EOA.
var evmExtraArgsV1Tag = []byte{0x97, 0xa6, 0x57, 0xc9}

type ccipTokenAmount struct {
	Token  common.Address
	Amount *big.Int
}

type ccipMessage struct {
	Receiver     []byte
	Data         []byte
	TokenAmounts []ccipTokenAmount
	FeeToken     common.Address
	ExtraArgs    []byte
}

// CCIPConfig configures the on-chain router provider.
type CCIPConfig struct {
	Endpoints Endpoints
	NativeUSD map[domain.Network]decimal.Decimal
	// Dwell is the fixed time after which a sent message is assumed delivered.
	Dwell time.Duration
	// SupportTTL bounds how long an isChainSupported answer is reused.
	SupportTTL time.Duration
}

type supportKey struct {
	from     domain.Network
	selector uint64
}

type supportEntry struct {
	ok bool
	at time.Time
}

// CCIP sends token transfers through the CCIP router and pays the message fee
// in native currency.
//
// Delivery is not observed on the destination chain: Monitor waits a fixed
// dwell and reports completion. The message id is not decoded from logs; the
// source transaction hash stands in for it.
type CCIP struct {
	cfg     CCIPConfig
	clients map[domain.Network]chain.Client
	logger  *slog.Logger

	mu        sync.Mutex
	supported map[supportKey]supportEntry
}

// NewCCIP creates the provider.
func NewCCIP(cfg CCIPConfig, clients []chain.Client, logger *slog.Logger) *CCIP {
	if cfg.Dwell <= 0 {
		cfg.Dwell = 20 * time.Minute
	}
	if cfg.SupportTTL <= 0 {
		cfg.SupportTTL = 10 * time.Minute
	}
	c := &CCIP{
		cfg:       cfg,
		clients:   make(map[domain.Network]chain.Client, len(clients)),
		logger:    logger.With(slog.String("component", "bridge"), slog.String("provider", string(KindCCIP))),
		supported: make(map[supportKey]supportEntry),
	}
	for _, cl := range clients {
		c.clients[cl.Network()] = cl
	}
	return c
}

func (c *CCIP) Name() string       { return string(KindCCIP) }
func (c *CCIP) Kind() ProviderKind { return KindCCIP }

// IsRouteAvailable checks configuration and the last router answer for the
// destination selector. A route the router has not been asked about yet is
// reported available; Quote and Execute ask before using it.
func (c *CCIP) IsRouteAvailable(route domain.BridgeRoute) bool {
	if !c.configured(route) {
		return false
	}
	_, to, _ := c.cfg.Endpoints.pair(route)
	ok, known := c.cachedSupport(supportKey{from: route.From, selector: to.CCIPSelector})
	return !known || ok
}

func (c *CCIP) configured(route domain.BridgeRoute) bool {
	from, to, err := c.cfg.Endpoints.pair(route)
	if err != nil {
		return false
	}
	if from.CCIPRouter == "" || to.CCIPSelector == 0 {
		return false
	}
	if _, ok := from.Token(route.Asset); !ok {
		return false
	}
	_, ok := c.clients[route.From]
	return ok
}

func (c *CCIP) cachedSupport(k supportKey) (ok, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.supported[k]
	if !found || time.Since(e.at) > c.cfg.SupportTTL {
		return false, false
	}
	return e.ok, true
}

// ensureSupported answers from the cache or asks the router.
func (c *CCIP) ensureSupported(ctx context.Context, route domain.BridgeRoute, selector uint64) (bool, error) {
	if ok, known := c.cachedSupport(supportKey{from: route.From, selector: selector}); known {
		return ok, nil
	}
	return c.ChainSupported(ctx, route)
}

// ChainSupported asks the source router whether the destination selector is
// enabled and records the answer for IsRouteAvailable.
func (c *CCIP) ChainSupported(ctx context.Context, route domain.BridgeRoute) (bool, error) {
	from, to, err := c.cfg.Endpoints.pair(route)
	if err != nil {
		return false, err
	}
	client, ok := c.clients[route.From]
	if !ok {
		return false, fmt.Errorf("no chain client for %s", route.From)
	}
	data, err := ccipRouter.Pack("isChainSupported", to.CCIPSelector)
	if err != nil {
		return false, fmt.Errorf("pack isChainSupported: %w", err)
	}
	raw, err := client.Call(ctx, common.HexToAddress(from.CCIPRouter), data)
	if err != nil {
		return false, err
	}
	out, err := ccipRouter.Unpack("isChainSupported", raw)
	if err != nil || len(out) == 0 {
		return false, fmt.Errorf("unpack isChainSupported: %v", err)
	}
	supported, _ := out[0].(bool)

	c.mu.Lock()
	c.supported[supportKey{from: route.From, selector: to.CCIPSelector}] = supportEntry{ok: supported, at: time.Now()}
	c.mu.Unlock()
	if !supported {
		c.logger.WarnContext(ctx, "bridge: router does not support destination",
			slog.String("from", string(route.From)),
			slog.String("to", string(route.To)),
			slog.Uint64("selector", to.CCIPSelector),
		)
	}
	return supported, nil
}

type ccipPlan struct {
	client   chain.Client
	router   common.Address
	token    common.Address
	selector uint64
	message  ccipMessage
}

func (c *CCIP) plan(req domain.BridgeRequest) (ccipPlan, error) {
	if !c.configured(req.Route) {
		return ccipPlan{}, fmt.Errorf("route not configured")
	}
	from, to, _ := c.cfg.Endpoints.pair(req.Route)
	tokenAddr, _ := from.Token(req.Route.Asset)
	client := c.clients[req.Route.From]
	token := common.HexToAddress(tokenAddr)
	extra := append(append([]byte{}, evmExtraArgsV1Tag...), common.LeftPadBytes(nil, 32)...)
	return ccipPlan{
		client:   client,
		router:   common.HexToAddress(from.CCIPRouter),
		token:    token,
		selector: to.CCIPSelector,
		message: ccipMessage{
			Receiver:     common.LeftPadBytes(client.Address().Bytes(), 32),
			Data:         []byte{},
			TokenAmounts: []ccipTokenAmount{{Token: token, Amount: req.Amount}},
			FeeToken:     common.Address{},
			ExtraArgs:    extra,
		},
	}, nil
}

// checkRoute fails with KindRouteUnsupported when the router rejects the
// selector and with readKind when the router cannot be asked.
func (c *CCIP) checkRoute(ctx context.Context, route domain.BridgeRoute, selector uint64, readKind domain.Kind) error {
	ok, err := c.ensureSupported(ctx, route, selector)
	if err != nil {
		return bridgeErr(c.Name(), readKind, route, fmt.Errorf("isChainSupported: %w", err))
	}
	if !ok {
		return bridgeErr(c.Name(), domain.KindRouteUnsupported, route,
			fmt.Errorf("router does not support selector %d", selector))
	}
	return nil
}

func (c *CCIP) fee(ctx context.Context, p ccipPlan) (*big.Int, error) {
	data, err := ccipRouter.Pack("getFee", p.selector, p.message)
	if err != nil {
		return nil, fmt.Errorf("pack getFee: %w", err)
	}
	raw, err := p.client.Call(ctx, p.router, data)
	if err != nil {
		return nil, fmt.Errorf("getFee: %w", err)
	}
	out, err := ccipRouter.Unpack("getFee", raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("unpack getFee: %v", err)
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getFee returned %T", out[0])
	}
	return fee, nil
}

func (c *CCIP) Quote(ctx context.Context, req domain.BridgeRequest) (domain.BridgeQuote, error) {
	p, err := c.plan(req)
	if err != nil {
		return domain.BridgeQuote{}, bridgeErr(c.Name(), domain.KindRouteUnsupported, req.Route, err)
	}
	if err := c.checkRoute(ctx, req.Route, p.selector, domain.KindProviderStatus); err != nil {
		return domain.BridgeQuote{}, err
	}
	feeWei, err := c.fee(ctx, p)
	if err != nil {
		return domain.BridgeQuote{}, bridgeErr(c.Name(), domain.KindProviderStatus, req.Route, err)
	}
	return domain.BridgeQuote{
		Provider:      c.Name(),
		Route:         req.Route,
		AmountIn:      new(big.Int).Set(req.Amount),
		AmountOut:     new(big.Int).Set(req.Amount),
		Fee:           profit.NativeToStable(feeWei, c.cfg.NativeUSD[req.Route.From]),
		EstimatedTime: c.cfg.Dwell,
	}, nil
}

func (c *CCIP) Execute(ctx context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error) {
	p, err := c.plan(req)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindRouteUnsupported, req.Route, err)
	}
	if err := c.checkRoute(ctx, req.Route, p.selector, domain.KindExecuteFailed); err != nil {
		return domain.BridgeTransfer{}, err
	}
	feeWei, err := c.fee(ctx, p)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	approval, err := approveIfShort(ctx, p.client, p.token, p.router, req.Amount)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	data, err := ccipRouter.Pack("ccipSend", p.selector, p.message)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindExecuteFailed, req.Route, fmt.Errorf("pack ccipSend: %w", err))
	}
	hash, err := p.client.Send(ctx, chain.TxRequest{To: p.router, Data: data, Value: feeWei})
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	rcpt, err := p.client.WaitForReceipt(ctx, hash)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	if !rcpt.Succeeded() {
		return domain.BridgeTransfer{}, bridgeErr(c.Name(), domain.KindExecuteFailed, req.Route,
			fmt.Errorf("ccipSend %s reverted", hash.Hex()))
	}

	nativeUSD := c.cfg.NativeUSD[req.Route.From]
	fee := profit.NativeToStable(feeWei, nativeUSD)
	gasCost := sourceGasCost(rcpt, approval, nativeUSD)
	gasCost.Add(gasCost, fee)

	c.logger.InfoContext(ctx, "bridge: ccip message sent",
		slog.String("tx", hash.Hex()),
		slog.String("asset", string(req.Route.Asset)),
		slog.String("amount", req.Amount.String()),
		slog.String("fee_wei", feeWei.String()),
	)
	return domain.BridgeTransfer{
		Provider:        c.Name(),
		Route:           req.Route,
		TxRef:           hash.Hex(),
		OrderRef:        hash.Hex(),
		AmountIn:        new(big.Int).Set(req.Amount),
		EstimatedOutput: new(big.Int).Set(req.Amount),
		GasUsed:         rcpt.GasUsed,
		GasCost:         gasCost,
		Fee:             fee,
		StartedAt:       time.Now(),
	}, nil
}

// Monitor approximates delivery with the fixed dwell. A dwell beyond timeout
// can never complete in time and fails immediately.
func (c *CCIP) Monitor(ctx context.Context, t domain.BridgeTransfer, timeout time.Duration) (Completion, error) {
	if timeout > 0 && c.cfg.Dwell > timeout {
		return Completion{}, &domain.BridgeError{
			Kind:     domain.KindMonitorTimeout,
			Provider: c.Name(),
			Context:  domain.Context{"tx": t.TxRef, "dwell": c.cfg.Dwell.String(), "timeout": timeout.String()},
			Err:      domain.ErrMonitorTimeout,
		}
	}
	remaining := c.cfg.Dwell - time.Since(t.StartedAt)
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Completion{}, &domain.BridgeError{
				Kind:     domain.KindMonitorTimeout,
				Provider: c.Name(),
				Context:  domain.Context{"tx": t.TxRef},
				Err:      ctx.Err(),
			}
		case <-timer.C:
		}
	}
	c.logger.WarnContext(ctx, "bridge: ccip completion assumed after fixed dwell", slog.String("tx", t.TxRef))
	return Completion{
		Provider:    c.Name(),
		TxRef:       t.TxRef,
		Status:      "AssumedDelivered",
		AmountOut:   new(big.Int).Set(t.EstimatedOutput),
		Elapsed:     time.Since(t.StartedAt),
		CompletedAt: time.Now(),
	}, nil
}

var _ Provider = (*CCIP)(nil)
