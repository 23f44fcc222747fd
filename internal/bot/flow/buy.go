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

type buyState int

const (
	buyStateAsset buyState = iota
	buyStateAmount
	buyStateConfirm
)

// Buy walks a user through spending the trade asset on another token:
// asset id, spend amount, then an explicit confirmation.
type Buy struct {
	tracker
	trader Trader

	state   buyState
	asset   token.Info
	amount  float64
	balance float64
}

func NewBuy(m Messenger, trader Trader, chatID int64, log *zap.Logger, onDone Completion) *Buy {
	return &Buy{
		tracker: newTracker(uuid.NewString(), "buy", chatID, m, log, onDone),
		trader:  trader,
	}
}

func (f *Buy) Start(ctx context.Context) error {
	return f.send(ctx, "Send the asset id of the token you want to buy.", nil)
}

func (f *Buy) HandleMessage(ctx context.Context, text string) error {
	if f.finished {
		return nil
	}
	switch f.state {
	case buyStateAsset:
		return f.acceptAsset(ctx, strings.TrimSpace(text))
	case buyStateAmount:
		return f.acceptAmount(ctx, strings.TrimSpace(text))
	default:
		return nil
	}
}

func (f *Buy) HandleAction(ctx context.Context, action string) error {
	if f.finished || f.state != buyStateConfirm {
		return nil
	}
	switch action {
	case ActionCancel:
		f.finish(false)
		return nil
	case ActionConfirm:
		return f.execute(ctx)
	default:
		return nil
	}
}

func (f *Buy) acceptAsset(ctx context.Context, assetID string) error {
	info, err := f.trader.TokenInfo(ctx, assetID)
	if err != nil {
		if boterr.IsKind(err, boterr.KindNotFound) || boterr.IsKind(err, boterr.KindInvalidInput) {
			return f.send(ctx, "That asset is not supported. Send another asset id.", nil)
		}
		return f.fail(ctx, err)
	}
	balance, _, err := f.trader.Balance(ctx, f.trader.TradeAsset())
	if err != nil {
		return f.fail(ctx, err)
	}
	f.asset = info
	f.balance = balance
	f.state = buyStateAmount
	return f.send(ctx, fmt.Sprintf(
		"How much %s do you want to spend on %s? Your balance is %.6f %s.",
		f.trader.TradeSymbol(), info.Symbol, balance, f.trader.TradeSymbol()), nil)
}

func (f *Buy) acceptAmount(ctx context.Context, text string) error {
	amount, err := strconv.ParseFloat(text, 64)
	if err != nil || amount <= 0 {
		return f.send(ctx, "Send a positive number.", nil)
	}
	if amount > f.balance {
		return f.send(ctx, fmt.Sprintf(
			"Amount exceeds your balance of %.6f %s. Send a smaller amount.",
			f.balance, f.trader.TradeSymbol()), nil)
	}

	preview, err := f.trader.CalculateSwapAmount(ctx, f.trader.TradeAsset(), f.asset.AssetID, amount)
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
	f.state = buyStateConfirm
	return f.send(ctx, fmt.Sprintf(
		"Buy ~%s %s for %.6f %s?",
		token.FormatAmount(preview, f.asset.Decimals, 0),
		f.asset.Symbol, amount, f.trader.TradeSymbol()), confirmButtons())
}

func (f *Buy) execute(ctx context.Context) error {
	err := f.trader.Swap(ctx, f.trader.TradeAsset(), f.asset.AssetID, f.amount)
	if err != nil {
		f.finish(false)
		switch boterr.KindOf(err) {
		case boterr.KindSlippageExhausted:
			return f.notify(ctx, "The price moved too much to stay within your slippage tolerance. Nothing was executed.")
		case boterr.KindRouteUnavailable, boterr.KindNotRoutable:
			return f.notify(ctx, fmt.Sprintf("No route is available for %s right now.", f.asset.Symbol))
		default:
			f.log.Error("buy execution failed", zap.String("asset", f.asset.AssetID), zap.Error(err))
			return f.notify(ctx, "The swap failed. Your funds were not spent.")
		}
	}
	f.finish(true)
	return f.notify(ctx, fmt.Sprintf("Bought %s with %.6f %s.", f.asset.Symbol, f.amount, f.trader.TradeSymbol()))
}
