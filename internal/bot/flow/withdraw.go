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

type withdrawState int

const (
	withdrawStateAsset withdrawState = iota
	withdrawStateAddress
	withdrawStateAmount
	withdrawStateConfirm
)

// Withdraw sends funds out of the bot wallet: asset, destination address,
// amount, confirmation.
type Withdraw struct {
	tracker
	trader Trader

	state   withdrawState
	asset   token.Info
	balance float64
	to      string
	amount  float64
}

func NewWithdraw(m Messenger, trader Trader, chatID int64, log *zap.Logger, onDone Completion) *Withdraw {
	return &Withdraw{
		tracker: newTracker(uuid.NewString(), "withdraw", chatID, m, log, onDone),
		trader:  trader,
	}
}

// NewWithdrawForAsset starts a withdraw flow with the asset already chosen,
// as driven by a WITHDRAW:<asset> menu action.
func NewWithdrawForAsset(m Messenger, trader Trader, chatID int64, assetID string, log *zap.Logger, onDone Completion) *Withdraw {
	f := NewWithdraw(m, trader, chatID, log, onDone)
	f.state = withdrawStateAddress
	f.asset = token.Info{AssetID: assetID}
	return f
}

func (f *Withdraw) Start(ctx context.Context) error {
	if f.state == withdrawStateAddress {
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
		return f.send(ctx, "Send the destination address.", nil)
	}
	return f.send(ctx, "Send the asset id of the token you want to withdraw.", nil)
}

func (f *Withdraw) HandleMessage(ctx context.Context, text string) error {
	if f.finished {
		return nil
	}
	text = strings.TrimSpace(text)
	switch f.state {
	case withdrawStateAsset:
		return f.acceptAsset(ctx, text)
	case withdrawStateAddress:
		return f.acceptAddress(ctx, text)
	case withdrawStateAmount:
		return f.acceptAmount(ctx, text)
	default:
		return nil
	}
}

func (f *Withdraw) HandleAction(ctx context.Context, action string) error {
	if f.finished || f.state != withdrawStateConfirm {
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

func (f *Withdraw) acceptAsset(ctx context.Context, assetID string) error {
	info, err := f.trader.TokenInfo(ctx, assetID)
	if err != nil {
		if boterr.IsKind(err, boterr.KindNotFound) || boterr.IsKind(err, boterr.KindInvalidInput) {
			return f.send(ctx, "That asset is not supported. Send another asset id.", nil)
		}
		return f.fail(ctx, err)
	}
	balance, _, err := f.trader.Balance(ctx, info.AssetID)
	if err != nil {
		return f.fail(ctx, err)
	}
	if balance <= 0 {
		return f.send(ctx, fmt.Sprintf("You do not hold any %s. Send another asset id.", info.Symbol), nil)
	}
	f.asset = info
	f.balance = balance
	f.state = withdrawStateAddress
	return f.send(ctx, "Send the destination address.", nil)
}

func (f *Withdraw) acceptAddress(ctx context.Context, addr string) error {
	if !f.trader.ValidAddress(addr) {
		return f.send(ctx, "That is not a valid address. Send another one.", nil)
	}
	f.to = addr
	f.state = withdrawStateAmount
	return f.send(ctx, fmt.Sprintf(
		"How much %s do you want to withdraw? Your balance is %.6f. Send a number or \"all\".",
		f.asset.Symbol, f.balance), nil)
}

func (f *Withdraw) acceptAmount(ctx context.Context, text string) error {
	var amount float64
	if strings.EqualFold(text, "all") {
		amount = f.balance
	} else {
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil || parsed <= 0 {
			return f.send(ctx, "Send a positive number or \"all\".", nil)
		}
		amount = parsed
	}
	if amount > f.balance {
		return f.send(ctx, fmt.Sprintf(
			"Amount exceeds your balance of %.6f %s. Send a smaller amount.",
			f.balance, f.asset.Symbol), nil)
	}
	f.amount = amount
	f.state = withdrawStateConfirm
	return f.send(ctx, fmt.Sprintf(
		"Withdraw %.6f %s to %s?", amount, f.asset.Symbol, f.to), confirmButtons())
}

func (f *Withdraw) execute(ctx context.Context) error {
	txHash, err := f.trader.Withdraw(ctx, f.to, f.asset.AssetID, f.amount)
	if err != nil {
		f.finish(false)
		if boterr.IsKind(err, boterr.KindInvalidInput) {
			return f.notify(ctx, "The withdrawal could not cover the network fee. Nothing was sent.")
		}
		f.log.Error("withdrawal failed",
			zap.String("asset", f.asset.AssetID),
			zap.Error(err))
		return f.notify(ctx, "The withdrawal failed. Your funds were not moved.")
	}
	f.finish(true)
	return f.notify(ctx, fmt.Sprintf("Withdrew %.6f %s. Transaction: %s", f.amount, f.asset.Symbol, txHash))
}
