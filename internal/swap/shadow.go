package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bridgearb/internal/chain"
)

// shadowRouterABI selects the pool by tick spacing instead of fee tier.
const shadowRouterABI = `[{"name":"exactInputSingle","type":"function","stateMutability":"payable",
"inputs":[{"name":"params","type":"tuple","components":[
	{"name":"tokenIn","type":"address"},
	{"name":"tokenOut","type":"address"},
	{"name":"tickSpacing","type":"int24"},
	{"name":"recipient","type":"address"},
	{"name":"deadline","type":"uint256"},
	{"name":"amountIn","type":"uint256"},
	{"name":"amountOutMinimum","type":"uint256"},
	{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
"outputs":[{"name":"amountOut","type":"uint256"}]}]`

var shadowRouter = chain.MustParseABI(shadowRouterABI)

type shadowParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	TickSpacing       *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type shadowEncoder struct {
	tickSpacing int64
}

func (e shadowEncoder) encodeSwap(p swapParams) ([]byte, error) {
	return shadowRouter.Pack("exactInputSingle", shadowParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		TickSpacing:       big.NewInt(e.tickSpacing),
		Recipient:         p.Recipient,
		Deadline:          p.Deadline,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMin,
		SqrtPriceLimitX96: new(big.Int),
	})
}
