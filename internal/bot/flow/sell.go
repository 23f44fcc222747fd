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

type sellState int

const (
	sellStateAsset sellState = iota
	sellStatePercentage
	sellStateConfirm
)

// Sell converts a held token back into the trade asset. The user picks a
// holding, a percentage of it, then confirms.
type Sell struct {
	tracker
	trader Trader

	state   sellState
	asset   token.Info
	balance float64
	amount  float64
}

func NewSell(m Messenger, trader Trader, chatID int64, log *zap.Logger, onDone Completion) *Sell {
	return &Sell{
		tracker: newTracker(uuid.NewString(), "sell", chatID, m, log, onDone),
		trader:  trader,
	}
}

// NewSellForAsset starts a sell flow with the asset already chosen, as
// driven by a SELL:<asset> menu action.
func NewSellForAsset(m Messenger, trader Trader, chatID int64, assetID string, log *zap.Logger, onDone Completion) *Sell {
	f := NewSell(m, trader, chatID, log, onDone)
	f.state = sellStatePercentage
	f.asset = token.Info{AssetID: assetID}
	return f
}

func (f *Sell) Start(ctx context.Context) error {
	if f.state == sellStatePercentage {
		return f.startPreselected(ctx)
	}

	holdings, err := f.trader.Balances(ctx)
	if err != nil {
		return f.fail(ctx, err)
	}
	var buttons [][]Button
	for _, h := range holdings {
		if h.Info.AssetID == f.trader.TradeAsset() {
			continue
		}
		buttons = append(buttons, []Button{{
			Label: fmt.Sprintf("%s (%.6f)", h.Info.Symbol, h.Amount),
			Data:  h.Info.AssetID,
		}})
	}
	if len(buttons) == 0 {
		f.finish(false)
		return f.notify(ctx, "You have nothing to sell.")
	}
	return f.send(ctx, "Which token do you want to sell?", buttons)
}

func (f *Sell) startPreselected(ctx context.Context) error {
	info, err := f.trader.TokenInfo(ctx, f.asset.AssetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	balance, _, err := f.trader.Balance(ctx, info.AssetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	if balance <= 0 {
		f.finish(false)
		return f.notify(ctx, fmt.Sprintf("You do not hold any %s.", info.Symbol))
	}
	f.asset = info
	f.balance = balance
	return f.promptPercentage(ctx)
}

func (f *Sell) promptPercentage(ctx context.Context) error {
	return f.send(ctx, fmt.Sprintf(
		"How much of your %.6f %s do you want to sell? Pick a percentage or type one.",
		f.balance, f.asset.Symbol),
		[][]Button{{
			{Label: "25%", Data: "25"},
			{Label: "50%", Data: "50"},
			{Label: "100%", Data: "100"},
		}})
}

func (f *Sell) HandleMessage(ctx context.Context, text string) error {
	if f.finished {
		return nil
	}
	if f.state != sellStatePercentage {
		return nil
	}
	return f.acceptPercentage(ctx, strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "%")))
}

func (f *Sell) HandleAction(ctx context.Context, action string) error {
	if f.finished {
		return nil
	}
	switch f.state {
	case sellStateAsset:
		return f.acceptAsset(ctx, action)
	case sellStatePercentage:
		return f.acceptPercentage(ctx, action)
	case sellStateConfirm:
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

func (f *Sell) acceptAsset(ctx context.Context, assetID string) error {
	info, err := f.trader.TokenInfo(ctx, assetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	balance, _, err := f.trader.Balance(ctx, assetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.asset = info
	f.balance = balance
	f.state = sellStatePercentage
	return f.promptPercentage(ctx)
}

func (f *Sell) acceptPercentage(ctx context.Context, text string) error {
	pct, err := strconv.Atoi(text)
	if err != nil || pct < 1 || pct > 100 {
		return f.send(ctx, "Send a whole percentage between 1 and 100.", nil)
	}
	amount := f.balance * float64(pct) / 100

	preview, err := f.trader.CalculateSwapAmount(ctx, f.asset.AssetID, f.trader.TradeAsset(), amount)
	if err != nil {
		switch boterr.KindOf(err) {
		case boterr.KindNotRoutable, boterr.KindRouteUnavailable:
			f.finish(false)
			return f.notify(ctx, fmt.Sprintf("No route is available for %s right now.", f.asset.Symbol))
		default:
			return f.fail(ctx, err)
		}
	}

	f.amount = amount
	f.state = sellStateConfirm
	return f.send(ctx, fmt.Sprintf(
		"Sell %.6f %s (%d%%) for ~%.6f %s?",
		amount, f.asset.Symbol, pct, preview, f.trader.TradeSymbol()), confirmButtons())
}

func (f *Sell) execute(ctx context.Context) error {
	err := f.trader.Swap(ctx, f.asset.AssetID, f.trader.TradeAsset(), f.amount)
	if err != nil {
		f.finish(false)
		switch boterr.KindOf(err) {
		case boterr.KindSlippageExhausted:
			return f.notify(ctx, "The price moved too much to stay within your slippage tolerance. Nothing was executed.")
		default:
			f.log.Error("sell execution failed", zap.String("asset", f.asset.AssetID), zap.Error(err))
			return f.notify(ctx, "The swap failed. Your funds were not spent.")
		}
	}
	f.finish(true)
	return f.notify(ctx, fmt.Sprintf("Sold %.6f %s.", f.amount, f.asset.Symbol))
}
