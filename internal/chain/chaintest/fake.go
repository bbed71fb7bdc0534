// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// SqrtPriceX96 returns sqrt(price) * 2^96 for a decimal price string such as
// "1.0005".
func SqrtPriceX96(price string) *big.Int {
	p, ok := new(big.Float).SetPrec(256).SetString(price)
	if !ok {
		panic("chaintest: bad price " + price)
	}
	p.Sqrt(p)
	p.Mul(p, new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)))
	out, _ := p.Int(nil)
	return out
}

// Client is a scriptable chain.Client. Zero value is not usable; call New.
type Client struct {
	mu sync.Mutex

	network  domain.Network
	chainID  *big.Int
	address  common.Address
	pools    map[common.Address]domain.PoolState
	balances map[common.Address]*big.Int
	allow    map[string]*big.Int
	calls    map[string][]byte

	Sent        []chain.TxRequest
	Approvals   int
	GasPrice    *big.Int
	Block       uint64
	Native      *big.Int
	ReceiptGas  uint64
	RevertSends bool

	// PoolErr fails PoolState reads.
	PoolErr error
	// SendErr fails Send.
	SendErr error
	// OnSend runs for every successful Send, before the hash is returned.
	OnSend func(c *Client, req chain.TxRequest)
}

// New creates a fake for network with a deterministic wallet address.
func New(network domain.Network) *Client {
	return &Client{
		network:    network,
		chainID:    big.NewInt(1),
		address:    common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		pools:      make(map[common.Address]domain.PoolState),
		balances:   make(map[common.Address]*big.Int),
		allow:      make(map[string]*big.Int),
		calls:      make(map[string][]byte),
		GasPrice:   big.NewInt(25_000_000_000),
		Block:      100,
		Native:     big.NewInt(0),
		ReceiptGas: 150_000,
	}
}

// SetPool installs pool state at addr.
func (c *Client) SetPool(addr common.Address, st domain.PoolState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[addr] = st
}

// SetBalance sets the wallet balance of token.
func (c *Client) SetBalance(token common.Address, v *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[token] = new(big.Int).Set(v)
}

// AddBalance adjusts the wallet balance of token by delta. It does not lock and
// is meant for OnSend hooks.
func (c *Client) AddBalance(token common.Address, delta *big.Int) {
	cur, ok := c.balances[token]
	if !ok {
		cur = new(big.Int)
	}
	c.balances[token] = new(big.Int).Add(cur, delta)
}

// SetCallResult scripts the return data of Call for a 4-byte selector on to.
func (c *Client) SetCallResult(to common.Address, selector []byte, out []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[callKey(to, selector)] = out
}

func callKey(to common.Address, selector []byte) string {
	return strings.ToLower(to.Hex()) + ":" + common.Bytes2Hex(selector)
}

func (c *Client) Network() domain.Network { return c.network }
func (c *Client) ChainID() *big.Int       { return new(big.Int).Set(c.chainID) }
func (c *Client) Address() common.Address { return c.address }

func (c *Client) PoolState(_ context.Context, pool common.Address) (domain.PoolState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PoolErr != nil {
		return domain.PoolState{}, c.PoolErr
	}
	st, ok := c.pools[pool]
	if !ok {
		return domain.PoolState{}, fmt.Errorf("chaintest: no pool at %s", pool.Hex())
	}
	st.BlockHeight = c.Block
	return st, nil
}

func (c *Client) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[token]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.allow[token.Hex()+spender.Hex()]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	c.mu.Lock()
	c.allow[token.Hex()+spender.Hex()] = new(big.Int).Set(amount)
	c.Approvals++
	c.mu.Unlock()
	return c.Send(ctx, chain.TxRequest{To: token})
}

func (c *Client) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	c.mu.Lock()
	c.AddBalance(token, new(big.Int).Neg(amount))
	c.mu.Unlock()
	return c.Send(ctx, chain.TxRequest{To: token})
}

func (c *Client) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) < 4 {
		return nil, fmt.Errorf("chaintest: short calldata")
	}
	out, ok := c.calls[callKey(to, data[:4])]
	if !ok {
		return nil, fmt.Errorf("chaintest: no scripted result for %s", callKey(to, data[:4]))
	}
	return out, nil
}

func (c *Client) Send(_ context.Context, req chain.TxRequest) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return common.Hash{}, c.SendErr
	}
	c.Sent = append(c.Sent, req)
	if c.OnSend != nil {
		c.OnSend(c, req)
	}
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", c.network, len(c.Sent)))), nil
}

func (c *Client) WaitForReceipt(_ context.Context, hash common.Hash) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := uint64(1)
	if c.RevertSends {
		status = 0
	}
	return chain.Receipt{
		TxHash:            hash,
		Status:            status,
		GasUsed:           c.ReceiptGas,
		EffectiveGasPrice: new(big.Int).Set(c.GasPrice),
		BlockNumber:       c.Block,
	}, nil
}

func (c *Client) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Client) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Block, nil
}

func (c *Client) NativeBalance(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.Native), nil
}

var _ chain.Client = (*Client)(nil)
