package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bridgearb/internal/chain"
)

// pharaohRouterABI is the fee-tier flavoured exactInputSingle.
const pharaohRouterABI = `[{"name":"exactInputSingle","type":"function","stateMutability":"payable",
"inputs":[{"name":"params","type":"tuple","components":[
	{"name":"tokenIn","type":"address"},
	{"name":"tokenOut","type":"address"},
	{"name":"fee","type":"uint24"},
	{"name":"recipient","type":"address"},
	{"name":"deadline","type":"uint256"},
	{"name":"amountIn","type":"uint256"},
	{"name":"amountOutMinimum","type":"uint256"},
	{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
"outputs":[{"name":"amountOut","type":"uint256"}]}]`

var pharaohRouter = chain.MustParseABI(pharaohRouterABI)

type pharaohParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type pharaohEncoder struct {
	fee int64
}

func (e pharaohEncoder) encodeSwap(p swapParams) ([]byte, error) {
	return pharaohRouter.Pack("exactInputSingle", pharaohParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               big.NewInt(e.fee),
		Recipient:         p.Recipient,
		Deadline:          p.Deadline,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMin,
		SqrtPriceLimitX96: new(big.Int),
	})
}
