package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bridgearb/internal/crypto"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/retry"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testPool   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testToken0 = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testToken1 = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

// ethService answers the eth_ namespace calls EthClient makes.
type ethService struct {
	mu sync.Mutex

	chainID  int64
	baseFee  *big.Int
	calls    map[string][]byte
	pending  int // receipt lookups answered with null before the receipt
	lookups  int
	receipt  *types.Receipt
	raw      []*types.Transaction
	gasPrice int64
	tip      int64
}

func (s *ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(s.chainID)) }

func (s *ethService) BlockNumber() hexutil.Uint64 { return 321 }

func (s *ethService) GasPrice() *hexutil.Big { return (*hexutil.Big)(big.NewInt(s.gasPrice)) }

func (s *ethService) MaxPriorityFeePerGas() *hexutil.Big { return (*hexutil.Big)(big.NewInt(s.tip)) }

func (s *ethService) GetTransactionCount(common.Address, string) hexutil.Uint64 { return 7 }

func (s *ethService) EstimateGas(map[string]interface{}, *string) hexutil.Uint64 { return 100_000 }

func (s *ethService) Call(args map[string]interface{}, _ *string) (hexutil.Bytes, error) {
	input, _ := args["input"].(string)
	if input == "" {
		input, _ = args["data"].(string)
	}
	data, err := hexutil.Decode(input)
	if err != nil || len(data) < 4 {
		return nil, errors.New("bad calldata")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.calls[common.Bytes2Hex(data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (s *ethService) GetBlockByNumber(string, bool) (*types.Header, error) {
	return &types.Header{
		Number:     big.NewInt(321),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		Extra:      []byte{},
		BaseFee:    s.baseFee,
	}, nil
}

func (s *ethService) GetTransactionReceipt(common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookups <= s.pending || s.receipt == nil {
		return nil, nil
	}
	return s.receipt, nil
}

func (s *ethService) SendRawTransaction(input hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(input); err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, tx)
	return tx.Hash(), nil
}

func (s *ethService) sent() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Transaction(nil), s.raw...)
}

func (s *ethService) receiptLookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func newEthService() *ethService {
	return &ethService{
		chainID:  43114,
		baseFee:  big.NewInt(25_000_000_000),
		calls:    make(map[string][]byte),
		gasPrice: 30_000_000_000,
		tip:      1_000_000_000,
	}
}

func dialService(t *testing.T, svc *ethService, withSigner bool) *EthClient {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", svc))
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})

	cfg := Config{
		Network:     domain.NetworkAvalanche,
		RPCURL:      ts.URL,
		ChainID:     43114,
		Retry:       retry.Policy{MaxAttempts: 1},
		ReceiptPoll: 5 * time.Millisecond,
	}
	if withSigner {
		signer, err := crypto.NewSigner(testKey)
		require.NoError(t, err)
		cfg.Signer = signer
	}
	c, err := Dial(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func scriptPool(t *testing.T, svc *ethService, sqrt *big.Int) {
	t.Helper()
	pack := func(method string, args ...interface{}) {
		out, err := poolABI.Methods[method].Outputs.Pack(args...)
		require.NoError(t, err)
		svc.calls[common.Bytes2Hex(poolABI.Methods[method].ID)] = out
	}
	pack("slot0", sqrt, big.NewInt(-12), uint16(1), uint16(2), uint16(3), uint8(0), true)
	pack("liquidity", big.NewInt(5_000_000))
	pack("token0", testToken0)
	pack("token1", testToken1)
}

func TestDialRejectsChainIDMismatch(t *testing.T) {
	svc := newEthService()
	svc.chainID = 146
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", svc))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	_, err := Dial(context.Background(), Config{Network: domain.NetworkAvalanche, RPCURL: ts.URL, ChainID: 43114},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain id")
}

func TestPoolStateDecodesViews(t *testing.T) {
	svc := newEthService()
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
	scriptPool(t, svc, sqrt)
	c := dialService(t, svc, false)

	st, err := c.PoolState(context.Background(), testPool)
	require.NoError(t, err)
	assert.Equal(t, sqrt, st.SqrtPriceX96)
	assert.Equal(t, int64(-12), st.Tick)
	assert.Equal(t, int64(5_000_000), st.Liquidity.Int64())
	assert.Equal(t, testToken0.Hex(), st.Token0)
	assert.Equal(t, testToken1.Hex(), st.Token1)
	assert.Equal(t, uint64(321), st.BlockHeight)
}

func TestPoolStateRevertIsError(t *testing.T) {
	c := dialService(t, newEthService(), false)
	_, err := c.PoolState(context.Background(), testPool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot0")
}

func TestWaitForReceiptPollsUntilMined(t *testing.T) {
	svc := newEthService()
	hash := common.HexToHash("0x01")
	svc.pending = 2
	svc.receipt = &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            hash,
		GasUsed:           150_000,
		EffectiveGasPrice: big.NewInt(25_000_000_000),
		BlockNumber:       big.NewInt(322),
		Logs:              []*types.Log{},
	}
	c := dialService(t, svc, false)

	r, err := c.WaitForReceipt(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
	assert.Equal(t, uint64(150_000), r.GasUsed)
	assert.Equal(t, uint64(322), r.BlockNumber)
	assert.Equal(t, int64(25_000_000_000), r.EffectiveGasPrice.Int64())
	assert.Equal(t, 3, svc.receiptLookups())
}

func TestWaitForReceiptStopsOnContext(t *testing.T) {
	c := dialService(t, newEthService(), false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.WaitForReceipt(ctx, common.HexToHash("0x02"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendUsesDynamicFeeWhenBaseFeePresent(t *testing.T) {
	svc := newEthService()
	c := dialService(t, svc, true)

	hash, err := c.Send(context.Background(), TxRequest{To: testPool, Data: []byte{0x01}})
	require.NoError(t, err)
	sent := svc.sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	// tip + 2 * base fee
	assert.Equal(t, int64(51_000_000_000), tx.GasFeeCap().Int64())
}

func TestSendFallsBackToLegacyWithoutBaseFee(t *testing.T) {
	svc := newEthService()
	svc.baseFee = nil
	c := dialService(t, svc, true)

	_, err := c.Send(context.Background(), TxRequest{To: testPool, Data: []byte{0x01}, GasLimit: 60_000})
	require.NoError(t, err)
	sent := svc.sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, int64(30_000_000_000), tx.GasPrice().Int64())
	assert.Equal(t, uint64(60_000), tx.Gas())
	assert.Equal(t, int64(43114), tx.ChainId().Int64())
}

func TestSendWithoutSigner(t *testing.T) {
	c := dialService(t, newEthService(), false)
	_, err := c.Send(context.Background(), TxRequest{To: testPool})
	assert.ErrorIs(t, err, domain.ErrSignerUnavailable)
}
