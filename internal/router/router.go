package router

import (
	"context"
	"math/big"
	"sync"

	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/chain"
	"github.com/alexvolkov/dexbot/internal/retry"
	"github.com/alexvolkov/dexbot/internal/telemetry"
	"github.com/alexvolkov/dexbot/internal/token"
	"github.com/alexvolkov/dexbot/internal/venue"
)

const bpsScale = 10000

// Resolver provides asset metadata and the set of assets known to the
// process.
type Resolver interface {
	Resolve(ctx context.Context, assetID string) (token.Info, error)
	Known() []token.Info
}

// SwapRequest is the ephemeral input to Execute. AmountIn is human-readable;
// conversion to base units uses the input asset's decimals.
type SwapRequest struct {
	AssetIn     string
	AssetOut    string
	AmountIn    float64
	SlippageBps int64
}

// Holding is one entry of a wallet balance listing.
type Holding struct {
	Info   token.Info
	Amount float64
}

// Router aggregates quotes across venues for one wallet, executes against
// the venue with the greatest output and applies fee and slippage bounds.
//
// Venues are partitioned into a pooled set and a bonding-curve set; a pair
// routes only within the set both assets' tradability class permits. Venue
// registration order is the quote tie-break and is deterministic.
type Router struct {
	pooled      []venue.Venue
	curve       []venue.Venue
	resolver    Resolver
	reader      chain.Reader
	owner       string
	tradeAsset  string
	stableAsset string
	feeBps      int64
	dust        float64
	retry       retry.Policy
	tracker     telemetry.Tracker
	log         *zap.Logger
}

type Config struct {
	Owner         string
	TradeAsset    string
	StableAsset   string
	ServiceFeeBps int64
	DustThreshold float64
}

func New(pooled, curve []venue.Venue, resolver Resolver, reader chain.Reader, cfg Config, policy retry.Policy, tracker telemetry.Tracker, log *zap.Logger) *Router {
	dust := cfg.DustThreshold
	if dust <= 0 {
		dust = 1e-9
	}
	if tracker == nil {
		tracker = telemetry.Nop()
	}
	return &Router{
		pooled:      pooled,
		curve:       curve,
		resolver:    resolver,
		reader:      reader,
		owner:       cfg.Owner,
		tradeAsset:  cfg.TradeAsset,
		stableAsset: cfg.StableAsset,
		feeBps:      cfg.ServiceFeeBps,
		dust:        dust,
		retry:       policy,
		tracker:     tracker,
		log:         log,
	}
}

func (r *Router) Owner() string      { return r.owner }
func (r *Router) TradeAsset() string { return r.tradeAsset }

// TokenInfo resolves asset metadata through the shared resolver.
func (r *Router) TokenInfo(ctx context.Context, assetID string) (token.Info, error) {
	return r.resolver.Resolve(ctx, assetID)
}

func (r *Router) eligibleVenues(in, out token.Info) ([]venue.Venue, error) {
	inCurve := in.Class == token.ClassBondingCurve
	outCurve := out.Class == token.ClassBondingCurve

	switch {
	case inCurve || outCurve:
		// Curve assets trade only against the trade asset; anything else
		// must route through it, which is the caller's concern.
		other := out
		if outCurve {
			other = in
		}
		if inCurve && outCurve {
			return nil, boterr.New(boterr.KindNotRoutable, "curve assets cannot trade against each other directly")
		}
		if other.AssetID != r.tradeAsset {
			return nil, boterr.New(boterr.KindNotRoutable, "curve assets trade only against the trade asset")
		}
		if len(r.curve) == 0 {
			return nil, boterr.New(boterr.KindRouteUnavailable, "no bonding-curve venues configured")
		}
		return r.curve, nil
	case in.Class.Pooled() && out.Class.Pooled():
		if len(r.pooled) == 0 {
			return nil, boterr.New(boterr.KindRouteUnavailable, "no pooled venues configured")
		}
		return r.pooled, nil
	default:
		return nil, boterr.New(boterr.KindNotRoutable, "asset pair is not routable within one venue set")
	}
}

type quoteResult struct {
	amountOut *big.Int
	err       error
}

// QuoteBest queries every eligible venue concurrently and returns the venue
// with the strictly greatest output, ties broken by registration order.
func (r *Router) QuoteBest(ctx context.Context, assetIn, assetOut string, amountIn *big.Int) (venue.Venue, *big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, boterr.New(boterr.KindInvalidInput, "swap amount must be positive")
	}
	infoIn, err := r.resolver.Resolve(ctx, assetIn)
	if err != nil {
		return nil, nil, err
	}
	infoOut, err := r.resolver.Resolve(ctx, assetOut)
	if err != nil {
		return nil, nil, err
	}
	venues, err := r.eligibleVenues(infoIn, infoOut)
	if err != nil {
		return nil, nil, err
	}

	results := make([]quoteResult, len(venues))
	var wg sync.WaitGroup
	for i, v := range venues {
		wg.Add(1)
		go func(i int, v venue.Venue) {
			defer wg.Done()
			var out *big.Int
			err := r.retry.Do(ctx, func() error {
				var quoteErr error
				out, quoteErr = v.Quote(ctx, assetIn, assetOut, amountIn)
				return quoteErr
			})
			results[i] = quoteResult{amountOut: out, err: err}
		}(i, v)
	}
	wg.Wait()

	var (
		best    venue.Venue
		bestOut *big.Int
		lastErr error
	)
	for i, res := range results {
		if res.err != nil {
			lastErr = res.err
			r.log.Debug("venue quote failed",
				zap.String("venue", venues[i].Name()),
				zap.Error(res.err))
			continue
		}
		if bestOut == nil || res.amountOut.Cmp(bestOut) > 0 {
			best = venues[i]
			bestOut = res.amountOut
		}
	}
	if best == nil {
		if lastErr != nil {
			return nil, nil, boterr.Wrap(boterr.KindRouteUnavailable, "no venue produced a quote", lastErr)
		}
		return nil, nil, boterr.New(boterr.KindRouteUnavailable, "no venue produced a quote")
	}
	return best, bestOut, nil
}

// CalculateSwapAmount previews the best obtainable output for a
// human-readable input amount. No state is mutated.
func (r *Router) CalculateSwapAmount(ctx context.Context, assetIn, assetOut string, amount float64) (float64, error) {
	infoIn, err := r.resolver.Resolve(ctx, assetIn)
	if err != nil {
		return 0, err
	}
	infoOut, err := r.resolver.Resolve(ctx, assetOut)
	if err != nil {
		return 0, err
	}
	_, out, err := r.QuoteBest(ctx, assetIn, assetOut, token.ToBaseUnits(amount, infoIn.Decimals))
	if err != nil {
		return 0, err
	}
	return token.FromBaseUnits(out, infoOut.Decimals), nil
}

// Rate returns a unit price for display. Venues are tried in registration
// order; the first successful rate wins.
func (r *Router) Rate(ctx context.Context, assetIn, assetOut string) (float64, error) {
	infoIn, err := r.resolver.Resolve(ctx, assetIn)
	if err != nil {
		return 0, err
	}
	infoOut, err := r.resolver.Resolve(ctx, assetOut)
	if err != nil {
		return 0, err
	}
	venues, err := r.eligibleVenues(infoIn, infoOut)
	if err != nil {
		return 0, err
	}
	var lastErr error
	for _, v := range venues {
		rate, err := v.Rate(ctx, assetIn, assetOut)
		if err == nil {
			return rate, nil
		}
		lastErr = err
	}
	return 0, boterr.Wrap(boterr.KindRouteUnavailable, "no venue produced a rate", lastErr)
}

// Execute runs a swap against the best venue. The minimum acceptable output
// is the best quote reduced by the service fee and then the slippage
// tolerance; a floor at or below zero refuses execution before anything is
// submitted.
//
// If the winning venue's execute fails, the destination balance is compared
// to a snapshot taken just before execution: an increase is treated as
// success. This compensates for confirmations that time out after the chain
// accepted the transaction; it is a best-effort approximation, not a
// guarantee.
func (r *Router) Execute(ctx context.Context, req SwapRequest) error {
	if req.SlippageBps < 0 || req.SlippageBps >= bpsScale {
		return boterr.Newf(boterr.KindInvalidInput, "slippage must be in [0,%d) bps", bpsScale)
	}
	infoIn, err := r.resolver.Resolve(ctx, req.AssetIn)
	if err != nil {
		return err
	}
	amountIn := token.ToBaseUnits(req.AmountIn, infoIn.Decimals)

	best, quoted, err := r.QuoteBest(ctx, req.AssetIn, req.AssetOut, amountIn)
	if err != nil {
		return err
	}

	totalBps := req.SlippageBps + r.feeBps
	if totalBps >= bpsScale {
		return boterr.New(boterr.KindSlippageExhausted, "fee and slippage consume the whole output")
	}
	floor := new(big.Int).Mul(quoted, big.NewInt(bpsScale-totalBps))
	floor.Div(floor, big.NewInt(bpsScale))
	if floor.Sign() <= 0 {
		return boterr.New(boterr.KindSlippageExhausted, "minimum acceptable output is zero after fee and slippage")
	}

	balanceBefore, err := r.reader.Balance(ctx, r.owner, req.AssetOut)
	if err != nil {
		return boterr.Wrap(boterr.KindNetworkFault, "snapshot destination balance", err)
	}

	result, execErr := best.Execute(ctx, req.AssetIn, req.AssetOut, amountIn, floor)
	if execErr == nil {
		r.tracker.SwapExecuted(best.Name())
		r.log.Info("swap executed",
			zap.String("venue", best.Name()),
			zap.String("asset_in", req.AssetIn),
			zap.String("asset_out", req.AssetOut),
			zap.String("tx", result.TxHash))
		return nil
	}

	balanceAfter, readErr := r.reader.Balance(ctx, r.owner, req.AssetOut)
	if readErr == nil && balanceAfter.Cmp(balanceBefore) > 0 {
		r.tracker.SwapExecuted(best.Name())
		// The chain accepted the trade even though the venue reported a
		// failure, typically a confirmation timeout. A concurrent inbound
		// transfer could produce the same signal; accepted as an
		// approximation.
		r.log.Warn("venue execute failed but destination balance increased, treating swap as successful",
			zap.String("venue", best.Name()),
			zap.Error(execErr))
		return nil
	}
	return execErr
}

// Balance returns the owner's human-readable and base-unit balance of one
// asset.
func (r *Router) Balance(ctx context.Context, assetID string) (float64, *big.Int, error) {
	info, err := r.resolver.Resolve(ctx, assetID)
	if err != nil {
		return 0, nil, err
	}
	raw, err := r.reader.Balance(ctx, r.owner, assetID)
	if err != nil {
		return 0, nil, err
	}
	readable := token.FromBaseUnits(raw, info.Decimals)
	if readable < r.dust {
		return 0, raw, nil
	}
	return readable, raw, nil
}

// Balances lists the owner's non-dust holdings across all known assets.
func (r *Router) Balances(ctx context.Context) ([]Holding, error) {
	var holdings []Holding
	for _, info := range r.resolver.Known() {
		raw, err := r.reader.Balance(ctx, r.owner, info.AssetID)
		if err != nil {
			r.log.Debug("balance read failed",
				zap.String("asset", info.AssetID),
				zap.Error(err))
			continue
		}
		readable := token.FromBaseUnits(raw, info.Decimals)
		if readable < r.dust {
			continue
		}
		holdings = append(holdings, Holding{Info: info, Amount: readable})
	}
	return holdings, nil
}

// RateInStable values one unit of an asset in the stable asset, for display.
func (r *Router) RateInStable(ctx context.Context, assetID string) (float64, error) {
	if assetID == r.stableAsset {
		return 1, nil
	}
	return r.Rate(ctx, assetID, r.stableAsset)
}
