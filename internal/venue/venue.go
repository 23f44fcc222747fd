package venue

import (
	"context"
	"math/big"

	"github.com/alexvolkov/dexbot/internal/token"
)

// ExecutionResult reports a submitted trade.
type ExecutionResult struct {
	TxHash    string
	AmountOut *big.Int
}

// Venue is an independent liquidity source capable of quoting and executing
// a swap. Amounts are fixed-point integers in the asset's base units.
//
// Quote fails with KindRouteUnavailable when no path exists between the two
// assets on this venue; Execute fails with KindExecutionFailed on submission
// or on-chain rejection. Probe fails with KindNotFound for assets the venue
// does not serve.
type Venue interface {
	Name() string
	Quote(ctx context.Context, assetIn, assetOut string, amountIn *big.Int) (*big.Int, error)
	Rate(ctx context.Context, assetIn, assetOut string) (float64, error)
	Execute(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut *big.Int) (ExecutionResult, error)
	Probe(ctx context.Context, assetID string) (token.Info, error)
}
