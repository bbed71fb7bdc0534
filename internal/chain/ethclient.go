package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/bridgearb/internal/crypto"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/retry"
)

// Config holds connection parameters for one network.
type Config struct {
	Network     domain.Network
	RPCURL      string
	ChainID     int64
	Signer      *crypto.Signer // nil for read-only clients
	Retry       retry.Policy
	ReceiptPoll time.Duration
}

// EthClient implements Client over JSON-RPC.
type EthClient struct {
	rpc         *ethclient.Client
	network     domain.Network
	chainID     *big.Int
	signer      *crypto.Signer
	retry       retry.Policy
	receiptPoll time.Duration
	logger      *slog.Logger

	sendMu sync.Mutex // serializes nonce allocation
}

// Dial connects to the RPC endpoint and verifies the chain id.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*EthClient, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.Network, err)
	}
	id, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("chain: %s chain id: %w", cfg.Network, err)
	}
	if cfg.ChainID != 0 && id.Int64() != cfg.ChainID {
		rpc.Close()
		return nil, fmt.Errorf("chain: %s: rpc reports chain id %s, configured %d", cfg.Network, id, cfg.ChainID)
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &EthClient{
		rpc:         rpc,
		network:     cfg.Network,
		chainID:     id,
		signer:      cfg.Signer,
		retry:       cfg.Retry,
		receiptPoll: poll,
		logger:      logger.With(slog.String("component", "chain"), slog.String("network", string(cfg.Network))),
	}, nil
}

// Close releases the RPC connection.
func (c *EthClient) Close() {
	c.rpc.Close()
}

func (c *EthClient) Network() domain.Network { return c.network }

func (c *EthClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *EthClient) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// Call performs an eth_call against the latest block, retrying transient
// failures.
func (c *EthClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return retry.Value(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.rpc.CallContract(ctx, ethereum.CallMsg{From: c.Address(), To: &to, Data: data}, nil)
	})
}

func (c *EthClient) PoolState(ctx context.Context, pool common.Address) (domain.PoolState, error) {
	var st domain.PoolState

	slot0, err := c.callPool(ctx, pool, "slot0")
	if err != nil {
		return st, err
	}
	if len(slot0) < 2 {
		return st, fmt.Errorf("chain: slot0 %s: unexpected output length %d", pool.Hex(), len(slot0))
	}
	sqrtPrice, ok := slot0[0].(*big.Int)
	if !ok {
		return st, fmt.Errorf("chain: slot0 %s: sqrtPriceX96 has type %T", pool.Hex(), slot0[0])
	}
	tick, _ := slot0[1].(*big.Int)

	liq, err := c.callPool(ctx, pool, "liquidity")
	if err != nil {
		return st, err
	}
	t0, err := c.callPool(ctx, pool, "token0")
	if err != nil {
		return st, err
	}
	t1, err := c.callPool(ctx, pool, "token1")
	if err != nil {
		return st, err
	}
	block, err := c.BlockNumber(ctx)
	if err != nil {
		return st, err
	}

	st.SqrtPriceX96 = sqrtPrice
	st.Liquidity, _ = liq[0].(*big.Int)
	if tick != nil {
		st.Tick = tick.Int64()
	}
	if a, ok := t0[0].(common.Address); ok {
		st.Token0 = a.Hex()
	}
	if a, ok := t1[0].(common.Address); ok {
		st.Token1 = a.Hex()
	}
	st.BlockHeight = block
	return st, nil
}

func (c *EthClient) callPool(ctx context.Context, pool common.Address, method string) ([]interface{}, error) {
	data, err := poolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := c.Call(ctx, pool, data)
	if err != nil {
		return nil, fmt.Errorf("chain: %s %s: %w", method, pool.Hex(), err)
	}
	out, err := poolABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s %s: empty output", method, pool.Hex())
	}
	return out, nil
}

func (c *EthClient) erc20View(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("chain: %s %s: %w", method, token.Hex(), err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("chain: unpack %s: %v", method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s returned %T", method, out[0])
	}
	return v, nil
}

func (c *EthClient) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.erc20View(ctx, token, "balanceOf", owner)
}

func (c *EthClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.erc20View(ctx, token, "allowance", owner, spender)
}

func (c *EthClient) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack approve: %w", err)
	}
	return c.Send(ctx, TxRequest{To: token, Data: data})
}

func (c *EthClient) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack transfer: %w", err)
	}
	return c.Send(ctx, TxRequest{To: token, Data: data})
}

// Send signs and broadcasts an EIP-1559 transaction, or a legacy one when the
// head block carries no base fee. Submission is not retried: a broadcast
// transaction cannot be taken back.
func (c *EthClient) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, domain.ErrSignerUnavailable
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	from := c.signer.Address()
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: nonce: %w", err)
	}
	head, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: head: %w", err)
	}

	gas := req.GasLimit
	if gas == 0 {
		est, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &req.To, Data: req.Data, Value: value})
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain: estimate gas: %w", err)
		}
		gas = est * 12 / 10
	}

	var tx *types.Transaction
	if head.BaseFee == nil {
		// pre-London head: no base fee, price the transaction the legacy way
		price, err := c.rpc.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain: gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &req.To,
			Value:    value,
			Data:     req.Data,
		})
	} else {
		tip, err := c.rpc.SuggestGasTipCap(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain: gas tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &req.To,
			Value:     value,
			Data:      req.Data,
		})
	}
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send: %w", err)
	}
	c.logger.InfoContext(ctx, "chain: transaction submitted",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("to", req.To.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func (c *EthClient) WaitForReceipt(ctx context.Context, hash common.Hash) (Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()
	for {
		r, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			out := Receipt{
				TxHash:            r.TxHash,
				Status:            r.Status,
				GasUsed:           r.GasUsed,
				EffectiveGasPrice: r.EffectiveGasPrice,
			}
			if r.BlockNumber != nil {
				out.BlockNumber = r.BlockNumber.Uint64()
			}
			return out, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.WarnContext(ctx, "chain: receipt lookup failed",
				slog.String("hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("chain: wait receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return retry.Value(ctx, c.retry, c.rpc.SuggestGasPrice)
}

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return retry.Value(ctx, c.retry, c.rpc.BlockNumber)
}

func (c *EthClient) NativeBalance(ctx context.Context) (*big.Int, error) {
	addr := c.Address()
	return retry.Value(ctx, c.retry, func(ctx context.Context) (*big.Int, error) {
		return c.rpc.BalanceAt(ctx, addr, nil)
	})
}

// Compile-time interface check.
var _ Client = (*EthClient)(nil)
