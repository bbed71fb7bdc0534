// Package chain is the EVM capability layer: pool state reads, ERC20 calls,
// transaction submission and receipts, backed by go-ethereum's ethclient.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// TxRequest is an unsigned call the client signs and submits.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit of zero means estimate.
	GasLimit uint64
}

// Receipt is the subset of a transaction receipt the bot needs.
type Receipt struct {
	TxHash            common.Hash
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	BlockNumber       uint64
}

// Succeeded reports whether the transaction did not revert.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}

// Client is the narrow chain capability consumed by the sampler, venues and
// bridge providers.
type Client interface {
	Network() domain.Network
	ChainID() *big.Int
	// Address is the wallet address transactions are sent from.
	Address() common.Address

	PoolState(ctx context.Context, pool common.Address) (domain.PoolState, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error)

	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash) (Receipt, error)

	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	NativeBalance(ctx context.Context) (*big.Int, error)
}
