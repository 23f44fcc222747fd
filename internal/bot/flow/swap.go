package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/token"
)

type swapState int

const (
	swapStateAssetIn swapState = iota
	swapStateAssetOut
	swapStatePercentage
	swapStateConfirm
)

// Swap trades between two arbitrary held or resolvable assets: pick a
// holding to spend, name the asset to receive, pick a percentage, confirm.
type Swap struct {
	tracker
	trader Trader

	state    swapState
	assetIn  token.Info
	assetOut token.Info
	balance  float64
	amount   float64
}

func NewSwap(m Messenger, trader Trader, chatID int64, log *zap.Logger, onDone Completion) *Swap {
	return &Swap{
		tracker: newTracker(uuid.NewString(), "swap", chatID, m, log, onDone),
		trader:  trader,
	}
}

func (f *Swap) Start(ctx context.Context) error {
	holdings, err := f.trader.Balances(ctx)
	if err != nil {
		return f.fail(ctx, err)
	}
	var buttons [][]Button
	for _, h := range holdings {
		buttons = append(buttons, []Button{{
			Label: fmt.Sprintf("%s (%.6f)", h.Info.Symbol, h.Amount),
			Data:  h.Info.AssetID,
		}})
	}
	if len(buttons) == 0 {
		f.finish(false)
		return f.notify(ctx, "You have nothing to swap.")
	}
	return f.send(ctx, "Which token do you want to swap from?", buttons)
}

func (f *Swap) HandleMessage(ctx context.Context, text string) error {
	if f.finished {
		return nil
	}
	switch f.state {
	case swapStateAssetOut:
		return f.acceptAssetOut(ctx, strings.TrimSpace(text))
	case swapStatePercentage:
		return f.acceptPercentage(ctx, strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "%")))
	default:
		return nil
	}
}

func (f *Swap) HandleAction(ctx context.Context, action string) error {
	if f.finished {
		return nil
	}
	switch f.state {
	case swapStateAssetIn:
		return f.acceptAssetIn(ctx, action)
	case swapStatePercentage:
		return f.acceptPercentage(ctx, action)
	case swapStateConfirm:
		switch action {
		case ActionCancel:
			f.finish(false)
			return nil
		case ActionConfirm:
			return f.execute(ctx)
		}
	}
	return nil
}

func (f *Swap) acceptAssetIn(ctx context.Context, assetID string) error {
	info, err := f.trader.TokenInfo(ctx, assetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	balance, _, err := f.trader.Balance(ctx, assetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	if balance <= 0 {
		f.finish(false)
		return f.notify(ctx, fmt.Sprintf("You do not hold any %s.", info.Symbol))
	}
	f.assetIn = info
	f.balance = balance
	f.state = swapStateAssetOut
	return f.send(ctx, fmt.Sprintf(
		"Send the asset id of the token you want to receive for %s.", info.Symbol), nil)
}

func (f *Swap) acceptAssetOut(ctx context.Context, assetID string) error {
	info, err := f.trader.TokenInfo(ctx, assetID)
	if err != nil {
		if boterr.IsKind(err, boterr.KindNotFound) || boterr.IsKind(err, boterr.KindInvalidInput) {
			return f.send(ctx, "That asset is not supported. Send another asset id.", nil)
		}
		return f.fail(ctx, err)
	}
	if info.AssetID == f.assetIn.AssetID {
		return f.send(ctx, "Pick a different asset than the one you are spending.", nil)
	}
	f.assetOut = info
	f.state = swapStatePercentage
	return f.send(ctx, fmt.Sprintf(
		"How much of your %.6f %s do you want to swap? Pick a percentage or type one.",
		f.balance, f.assetIn.Symbol),
		[][]Button{{
			{Label: "25%", Data: "25"},
			{Label: "50%", Data: "50"},
			{Label: "100%", Data: "100"},
		}})
}

func (f *Swap) acceptPercentage(ctx context.Context, text string) error {
	pct, err := strconv.Atoi(text)
	if err != nil || pct < 1 || pct > 100 {
		return f.send(ctx, "Send a whole percentage between 1 and 100.", nil)
	}
	amount := f.balance * float64(pct) / 100

	preview, err := f.trader.CalculateSwapAmount(ctx, f.assetIn.AssetID, f.assetOut.AssetID, amount)
	if err != nil {
		switch boterr.KindOf(err) {
		case boterr.KindNotRoutable, boterr.KindRouteUnavailable:
			f.finish(false)
			return f.notify(ctx, fmt.Sprintf(
				"No route is available from %s to %s right now.", f.assetIn.Symbol, f.assetOut.Symbol))
		default:
			return f.fail(ctx, err)
		}
	}

	f.amount = amount
	f.state = swapStateConfirm
	return f.send(ctx, fmt.Sprintf(
		"Swap %.6f %s (%d%%) for ~%.6f %s?",
		amount, f.assetIn.Symbol, pct, preview, f.assetOut.Symbol), confirmButtons())
}

func (f *Swap) execute(ctx context.Context) error {
	err := f.trader.Swap(ctx, f.assetIn.AssetID, f.assetOut.AssetID, f.amount)
	if err != nil {
		f.finish(false)
		switch boterr.KindOf(err) {
		case boterr.KindSlippageExhausted:
			return f.notify(ctx, "The price moved too much to stay within your slippage tolerance. Nothing was executed.")
		case boterr.KindRouteUnavailable, boterr.KindNotRoutable:
			return f.notify(ctx, fmt.Sprintf(
				"No route is available from %s to %s right now.", f.assetIn.Symbol, f.assetOut.Symbol))
		default:
			f.log.Error("swap execution failed",
				zap.String("asset_in", f.assetIn.AssetID),
				zap.String("asset_out", f.assetOut.AssetID),
				zap.Error(err))
			return f.notify(ctx, "The swap failed. Your funds were not spent.")
		}
	}
	f.finish(true)
	return f.notify(ctx, fmt.Sprintf("Swapped %.6f %s for %s.", f.amount, f.assetIn.Symbol, f.assetOut.Symbol))
}
