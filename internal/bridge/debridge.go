package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/profit"
	"github.com/alanyoungcy/bridgearb/internal/retry"
)

// deBridge order statuses.
const (
	OrderCreated        = "Created"
	OrderFulfilled      = "Fulfilled"
	OrderSentUnlock     = "SentUnlock"
	OrderCompleted      = "OrderCompleted"
	OrderClaimCompleted = "ClaimCompleted"
	OrderCancelled      = "Cancelled"
)

var completedStatuses = map[string]bool{
	OrderFulfilled:      true,
	OrderSentUnlock:     true,
	OrderCompleted:      true,
	OrderClaimCompleted: true,
}

// DeBridgeConfig configures the REST provider.
type DeBridgeConfig struct {
	BaseURL      string
	PollInterval time.Duration
	Endpoints    Endpoints
	// NativeUSD prices each network's native token for fee conversion.
	NativeUSD map[domain.Network]decimal.Decimal
	Retry     retry.Policy
}

// DeBridge bridges through the deBridge order API: quote and transaction
// payload come from the service, the transaction is signed locally and the
// order is polled until a terminal status.
type DeBridge struct {
	cfg        DeBridgeConfig
	clients    map[domain.Network]chain.Client
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDeBridge creates the provider. clients sign source-chain transactions.
func NewDeBridge(cfg DeBridgeConfig, clients []chain.Client, logger *slog.Logger) *DeBridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	d := &DeBridge{
		cfg:     cfg,
		clients: make(map[domain.Network]chain.Client, len(clients)),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "bridge"), slog.String("provider", string(KindDeBridge))),
	}
	for _, c := range clients {
		d.clients[c.Network()] = c
	}
	return d
}

func (d *DeBridge) Name() string       { return string(KindDeBridge) }
func (d *DeBridge) Kind() ProviderKind { return KindDeBridge }

func (d *DeBridge) IsRouteAvailable(route domain.BridgeRoute) bool {
	from, to, err := d.cfg.Endpoints.pair(route)
	if err != nil {
		return false
	}
	if _, ok := from.Token(route.Asset); !ok {
		return false
	}
	if _, ok := to.Token(route.Asset); !ok {
		return false
	}
	_, ok := d.clients[route.From]
	return ok
}

// --------------------------------------------------------------------------
// Wire types
// --------------------------------------------------------------------------

type dlnOrderRequest struct {
	SrcChainID                string `json:"srcChainId"`
	SrcChainTokenIn           string `json:"srcChainTokenIn"`
	SrcChainTokenInAmount     string `json:"srcChainTokenInAmount"`
	DstChainID                string `json:"dstChainId"`
	DstChainTokenOut          string `json:"dstChainTokenOut"`
	DstChainTokenOutRecipient string `json:"dstChainTokenOutRecipient,omitempty"`
	SrcOrderAuthority         string `json:"srcChainOrderAuthorityAddress,omitempty"`
	DstOrderAuthority         string `json:"dstChainOrderAuthorityAddress,omitempty"`
}

type dlnTokenAmount struct {
	Amount            string `json:"amount"`
	RecommendedAmount string `json:"recommendedAmount,omitempty"`
}

type dlnEstimation struct {
	SrcChainTokenIn  dlnTokenAmount `json:"srcChainTokenIn"`
	DstChainTokenOut dlnTokenAmount `json:"dstChainTokenOut"`
}

type dlnQuoteResponse struct {
	Estimation dlnEstimation `json:"estimation"`
	// FixFee is paid in the source chain's native currency, in wei.
	FixFee string `json:"fixFee"`
	Order  struct {
		ApproximateFulfillmentDelay int64 `json:"approximateFulfillmentDelay"`
	} `json:"order"`
}

type dlnCreateTxResponse struct {
	OrderID    string        `json:"orderId"`
	Estimation dlnEstimation `json:"estimation"`
	FixFee     string        `json:"fixFee"`
	Tx         struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

type dlnOrderStatus struct {
	OrderID         string `json:"orderId"`
	Status          string `json:"status"`
	FulfilledAmount string `json:"fulfilledAmount,omitempty"`
}

type dlnErrorResponse struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorID      string `json:"errorId"`
	ErrorMessage string `json:"errorMessage"`
}

func (d *DeBridge) orderRequest(req domain.BridgeRequest, withRecipient bool) (dlnOrderRequest, error) {
	from, to, err := d.cfg.Endpoints.pair(req.Route)
	if err != nil {
		return dlnOrderRequest{}, err
	}
	tokenIn, ok := from.Token(req.Route.Asset)
	if !ok {
		return dlnOrderRequest{}, fmt.Errorf("no %s token on %s", req.Route.Asset, from.Network)
	}
	tokenOut, ok := to.Token(req.Route.Asset)
	if !ok {
		return dlnOrderRequest{}, fmt.Errorf("no %s token on %s", req.Route.Asset, to.Network)
	}
	out := dlnOrderRequest{
		SrcChainID:            strconv.FormatInt(from.ChainID, 10),
		SrcChainTokenIn:       tokenIn,
		SrcChainTokenInAmount: req.Amount.String(),
		DstChainID:            strconv.FormatInt(to.ChainID, 10),
		DstChainTokenOut:      tokenOut,
	}
	if withRecipient {
		c, ok := d.clients[req.Route.From]
		if !ok {
			return dlnOrderRequest{}, fmt.Errorf("no chain client for %s", req.Route.From)
		}
		wallet := c.Address().Hex()
		out.DstChainTokenOutRecipient = wallet
		out.SrcOrderAuthority = wallet
		out.DstOrderAuthority = wallet
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Provider operations
// --------------------------------------------------------------------------

func (d *DeBridge) Quote(ctx context.Context, req domain.BridgeRequest) (domain.BridgeQuote, error) {
	body, err := d.orderRequest(req, false)
	if err != nil {
		return domain.BridgeQuote{}, bridgeErr(d.Name(), domain.KindRouteUnsupported, req.Route, err)
	}
	var resp dlnQuoteResponse
	if err := d.call(ctx, http.MethodPost, "/order/quote", body, &resp); err != nil {
		return domain.BridgeQuote{}, bridgeErr(d.Name(), domain.KindProviderStatus, req.Route, err)
	}
	out, ok := new(big.Int).SetString(resp.Estimation.DstChainTokenOut.Amount, 10)
	if !ok {
		return domain.BridgeQuote{}, bridgeErr(d.Name(), domain.KindProviderStatus, req.Route,
			fmt.Errorf("invalid output amount %q", resp.Estimation.DstChainTokenOut.Amount))
	}
	return domain.BridgeQuote{
		Provider:      d.Name(),
		Route:         req.Route,
		AmountIn:      new(big.Int).Set(req.Amount),
		AmountOut:     out,
		Fee:           d.nativeFee(req.Route.From, resp.FixFee),
		EstimatedTime: time.Duration(resp.Order.ApproximateFulfillmentDelay) * time.Second,
	}, nil
}

// nativeFee converts a wei string into stable units. Unparseable input costs
// nothing rather than failing the quote.
func (d *DeBridge) nativeFee(network domain.Network, wei string) *big.Int {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return new(big.Int)
	}
	return profit.NativeToStable(v, d.cfg.NativeUSD[network])
}

func (d *DeBridge) Execute(ctx context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error) {
	client, ok := d.clients[req.Route.From]
	if !ok {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindRouteUnsupported, req.Route,
			fmt.Errorf("no chain client for %s", req.Route.From))
	}
	body, err := d.orderRequest(req, true)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindRouteUnsupported, req.Route, err)
	}
	var created dlnCreateTxResponse
	if err := d.call(ctx, http.MethodPost, "/order/create-tx", body, &created); err != nil {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	if !common.IsHexAddress(created.Tx.To) {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route,
			fmt.Errorf("create-tx returned invalid target %q", created.Tx.To))
	}
	data, err := hexutil.Decode(created.Tx.Data)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route, fmt.Errorf("decode tx data: %w", err))
	}
	value := new(big.Int)
	if created.Tx.Value != "" {
		if _, ok := value.SetString(created.Tx.Value, 10); !ok {
			return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route,
				fmt.Errorf("invalid tx value %q", created.Tx.Value))
		}
	}
	target := common.HexToAddress(created.Tx.To)
	token := common.HexToAddress(body.SrcChainTokenIn)

	approval, err := approveIfShort(ctx, client, token, target, req.Amount)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route, err)
	}

	hash, err := client.Send(ctx, chain.TxRequest{To: target, Data: data, Value: value})
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	rcpt, err := client.WaitForReceipt(ctx, hash)
	if err != nil {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route, err)
	}
	if !rcpt.Succeeded() {
		return domain.BridgeTransfer{}, bridgeErr(d.Name(), domain.KindExecuteFailed, req.Route,
			fmt.Errorf("order transaction %s reverted", hash.Hex()))
	}

	nativeUSD := d.cfg.NativeUSD[req.Route.From]
	gasCost := sourceGasCost(rcpt, approval, nativeUSD)
	gasCost.Add(gasCost, profit.NativeToStable(value, nativeUSD))

	estOut, _ := new(big.Int).SetString(created.Estimation.DstChainTokenOut.Amount, 10)
	if estOut == nil {
		estOut = new(big.Int)
	}

	d.logger.InfoContext(ctx, "bridge: order submitted",
		slog.String("order", created.OrderID),
		slog.String("tx", hash.Hex()),
		slog.String("asset", string(req.Route.Asset)),
		slog.String("amount", req.Amount.String()),
	)
	return domain.BridgeTransfer{
		Provider:        d.Name(),
		Route:           req.Route,
		TxRef:           hash.Hex(),
		OrderRef:        created.OrderID,
		AmountIn:        new(big.Int).Set(req.Amount),
		EstimatedOutput: estOut,
		GasUsed:         rcpt.GasUsed,
		GasCost:         gasCost,
		Fee:             d.nativeFee(req.Route.From, created.FixFee),
		StartedAt:       time.Now(),
	}, nil
}

// Monitor polls the order until it reaches a completed status, is cancelled,
// or timeout elapses. Transient polling errors are logged and retried on the
// next tick.
func (d *DeBridge) Monitor(ctx context.Context, t domain.BridgeTransfer, timeout time.Duration) (Completion, error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	path := "/order/" + url.PathEscape(t.OrderRef)
	for {
		var st dlnOrderStatus
		err := d.call(ctx, http.MethodGet, path, nil, &st)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				d.logger.WarnContext(ctx, "bridge: order status poll failed",
					slog.String("order", t.OrderRef),
					slog.String("error", err.Error()),
				)
			}
		case completedStatuses[st.Status]:
			out := t.EstimatedOutput
			if v, ok := new(big.Int).SetString(st.FulfilledAmount, 10); ok {
				out = v
			}
			return Completion{
				Provider:    d.Name(),
				TxRef:       t.TxRef,
				Status:      st.Status,
				AmountOut:   out,
				Elapsed:     time.Since(start),
				CompletedAt: time.Now(),
			}, nil
		case st.Status == OrderCancelled:
			return Completion{}, &domain.BridgeError{
				Kind:     domain.KindOrderCancelled,
				Provider: d.Name(),
				Context:  domain.Context{"order": t.OrderRef},
				Err:      domain.ErrOrderCancelled,
			}
		default:
			d.logger.DebugContext(ctx, "bridge: order pending",
				slog.String("order", t.OrderRef),
				slog.String("status", st.Status),
			)
		}

		select {
		case <-ctx.Done():
			return Completion{}, &domain.BridgeError{
				Kind:     domain.KindMonitorTimeout,
				Provider: d.Name(),
				Context:  domain.Context{"order": t.OrderRef, "elapsed": time.Since(start).Round(time.Second).String()},
				Err:      domain.ErrMonitorTimeout,
			}
		case <-ticker.C:
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// call performs one JSON request with the retry policy. Client errors other
// than 429 are not retried.
func (d *DeBridge) call(ctx context.Context, method, path string, reqBody, out any) error {
	return d.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		body, err := d.doRequest(ctx, method, path, reqBody)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("debridge: decode %s: %w", path, err))
		}
		return nil
	})
}

func (d *DeBridge) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("marshal request body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// errStatus is a non-2xx API response.
var errStatus = errors.New("debridge: unexpected status")

func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	var apiErr dlnErrorResponse
	_ = json.Unmarshal(body, &apiErr)
	err := fmt.Errorf("%w: HTTP %d: %s (%s)", errStatus, statusCode, apiErr.ErrorMessage, apiErr.ErrorID)
	if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// approveIfShort grants spender exactly amount when the allowance is short. It
// returns the approval receipt, or nil when no approval was sent.
func approveIfShort(ctx context.Context, c chain.Client, token, spender common.Address, amount *big.Int) (*chain.Receipt, error) {
	cur, err := c.Allowance(ctx, token, c.Address(), spender)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if cur.Cmp(amount) >= 0 {
		return nil, nil
	}
	hash, err := c.Approve(ctx, token, spender, amount)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	rcpt, err := c.WaitForReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("approve receipt: %w", err)
	}
	if !rcpt.Succeeded() {
		return nil, fmt.Errorf("approve %s reverted", hash.Hex())
	}
	return &rcpt, nil
}

// sourceGasCost prices the gas of the submitted transaction and of an optional
// approval in stable units.
func sourceGasCost(rcpt chain.Receipt, approval *chain.Receipt, nativeUSD decimal.Decimal) *big.Int {
	cost := profit.GasCost(rcpt.GasUsed, rcpt.EffectiveGasPrice, nativeUSD)
	if approval != nil {
		cost.Add(cost, profit.GasCost(approval.GasUsed, approval.EffectiveGasPrice, nativeUSD))
	}
	return cost
}

var _ Provider = (*DeBridge)(nil)
