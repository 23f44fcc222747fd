package bot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/alexvolkov/dexbot/internal/bot/flow"
	"github.com/alexvolkov/dexbot/internal/session"
	"github.com/alexvolkov/dexbot/internal/telemetry"
	"github.com/alexvolkov/dexbot/internal/version"
)

// Menu and template actions carried in callback data. SELL and WITHDRAW
// actions carry the asset id after the colon.
const (
	actionMenuBuy      = "menu:buy"
	actionMenuSell     = "menu:sell"
	actionMenuSwap     = "menu:swap"
	actionMenuWithdraw = "menu:withdraw"
	actionMenuBalances      = "menu:balances"
	actionMenuSlippage      = "menu:slippage"
	actionMenuNotifications = "menu:notifications"
	actionAcceptTerms       = "terms:accept"

	templateSell     = "SELL:"
	templateWithdraw = "WITHDRAW:"
)

const termsText = `Before trading, please note:

- Your wallet key is generated for you and stored encrypted on the bot server.
- Swaps execute against live venues; prices move and executions can fail.
- Only deposit what you are prepared to trade.`

// Bot routes inbound chat events: commands open menus or flows, everything
// else is dispatched into the user's active flow.
type Bot struct {
	m        flow.Messenger
	tg       *Telegram
	sessions *session.Store
	tracker  telemetry.Tracker
	log      *zap.Logger
}

func New(m flow.Messenger, tg *Telegram, sessions *session.Store, tracker telemetry.Tracker, log *zap.Logger) *Bot {
	if tracker == nil {
		tracker = telemetry.Nop()
	}
	return &Bot{m: m, tg: tg, sessions: sessions, tracker: tracker, log: log}
}

// Run consumes long-polling updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	defer b.tg.stop()
	return b.consume(ctx, b.tg.updates())
}

// consume dispatches every update on its own goroutine so one user's
// in-flight execution never stalls the others; the session's flow mutex
// serializes events per user.
func (b *Bot) consume(ctx context.Context, updates <-chan tgUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgUpdate) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		b.tg.ackCallback(cb.ID)
		if cb.Message == nil {
			return
		}
		b.HandleCallback(ctx, cb.From.ID, cb.Message.Chat.ID, cb.Data)
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil {
			return
		}
		if msg.IsCommand() {
			b.HandleCommand(ctx, msg.From.ID, msg.Chat.ID, msg.Command())
			return
		}
		b.HandleText(ctx, msg.From.ID, msg.Chat.ID, msg.Text)
	}
}

func (b *Bot) HandleCommand(ctx context.Context, userID, chatID int64, cmd string) {
	sess, created, err := b.sessions.GetOrCreate(userID)
	if err != nil {
		b.reportFailure(ctx, chatID, err)
		return
	}

	if cmd == "about" {
		b.sendf(ctx, chatID, "%s\nA venue-aggregating trading bot. Use /start to begin.", version.Long())
		return
	}
	if cmd == "start" {
		if created {
			b.sendf(ctx, chatID, "Your wallet is ready: %s\nDeposit funds to start trading.", sess.Address())
		}
		if !sess.AcceptedTerms() {
			b.showTerms(ctx, chatID)
			return
		}
		b.showMenu(ctx, chatID)
		return
	}

	if !sess.AcceptedTerms() {
		b.showTerms(ctx, chatID)
		return
	}

	switch cmd {
	case "wallet", "balances":
		b.showBalances(ctx, sess, chatID)
	case "buy":
		b.startFlow(ctx, sess, chatID, flow.NewBuy(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case "sell":
		b.startFlow(ctx, sess, chatID, flow.NewSell(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case "swap":
		b.startFlow(ctx, sess, chatID, flow.NewSwap(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case "withdraw":
		b.startFlow(ctx, sess, chatID, flow.NewWithdraw(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case "slippage":
		b.startFlow(ctx, sess, chatID, flow.NewSlippage(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case "notifications":
		b.toggleNotifications(ctx, sess, chatID)
	default:
		b.showMenu(ctx, chatID)
	}
}

func (b *Bot) HandleText(ctx context.Context, userID, chatID int64, text string) {
	sess, _, err := b.sessions.GetOrCreate(userID)
	if err != nil {
		b.reportFailure(ctx, chatID, err)
		return
	}
	if !sess.AcceptedTerms() {
		b.showTerms(ctx, chatID)
		return
	}

	handled, err := sess.HandleMessage(ctx, text)
	if err != nil {
		b.reportFailure(ctx, chatID, err)
		return
	}
	if !handled {
		b.showMenu(ctx, chatID)
	}
}

func (b *Bot) HandleCallback(ctx context.Context, userID, chatID int64, data string) {
	sess, _, err := b.sessions.GetOrCreate(userID)
	if err != nil {
		b.reportFailure(ctx, chatID, err)
		return
	}

	if data == actionAcceptTerms {
		if err := sess.AcceptTerms(); err != nil {
			b.reportFailure(ctx, chatID, err)
			return
		}
		b.showMenu(ctx, chatID)
		return
	}
	if !sess.AcceptedTerms() {
		b.showTerms(ctx, chatID)
		return
	}

	switch {
	case data == actionMenuBuy:
		b.startFlow(ctx, sess, chatID, flow.NewBuy(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case data == actionMenuSell:
		b.startFlow(ctx, sess, chatID, flow.NewSell(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case data == actionMenuSwap:
		b.startFlow(ctx, sess, chatID, flow.NewSwap(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case data == actionMenuWithdraw:
		b.startFlow(ctx, sess, chatID, flow.NewWithdraw(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case data == actionMenuBalances:
		b.showBalances(ctx, sess, chatID)
	case data == actionMenuSlippage:
		b.startFlow(ctx, sess, chatID, flow.NewSlippage(b.m, sess, chatID, b.log, b.completion(sess, chatID)))
	case data == actionMenuNotifications:
		b.toggleNotifications(ctx, sess, chatID)
	case strings.HasPrefix(data, templateSell):
		asset := strings.TrimPrefix(data, templateSell)
		b.startFlow(ctx, sess, chatID, flow.NewSellForAsset(b.m, sess, chatID, asset, b.log, b.completion(sess, chatID)))
	case strings.HasPrefix(data, templateWithdraw):
		asset := strings.TrimPrefix(data, templateWithdraw)
		b.startFlow(ctx, sess, chatID, flow.NewWithdrawForAsset(b.m, sess, chatID, asset, b.log, b.completion(sess, chatID)))
	default:
		handled, err := sess.HandleAction(ctx, data)
		if err != nil {
			b.reportFailure(ctx, chatID, err)
			return
		}
		if !handled {
			b.showMenu(ctx, chatID)
		}
	}
}

func (b *Bot) startFlow(ctx context.Context, sess *session.Session, chatID int64, f flow.Flow) {
	if err := sess.StartFlow(ctx, f); err != nil {
		b.reportFailure(ctx, chatID, err)
	}
}

// toggleNotifications flips the post-trade notification preference.
func (b *Bot) toggleNotifications(ctx context.Context, sess *session.Session, chatID int64) {
	enabled := !sess.Notifications()
	if err := sess.SetNotifications(enabled); err != nil {
		b.reportFailure(ctx, chatID, err)
		return
	}
	if enabled {
		b.sendf(ctx, chatID, "Trade notifications are on.")
	} else {
		b.sendf(ctx, chatID, "Trade notifications are off.")
	}
}

// completion refreshes the balance display after a successful flow, unless
// the user has switched trade notifications off.
func (b *Bot) completion(sess *session.Session, chatID int64) flow.Completion {
	return func(flowID string, successful bool) {
		if !successful || !sess.Notifications() {
			return
		}
		b.showBalances(context.Background(), sess, chatID)
	}
}

func (b *Bot) showMenu(ctx context.Context, chatID int64) {
	_, err := b.m.Send(ctx, chatID, "What would you like to do?", [][]flow.Button{
		{
			{Label: "Buy", Data: actionMenuBuy},
			{Label: "Sell", Data: actionMenuSell},
		},
		{
			{Label: "Swap", Data: actionMenuSwap},
			{Label: "Withdraw", Data: actionMenuWithdraw},
		},
		{
			{Label: "Balances", Data: actionMenuBalances},
			{Label: "Slippage", Data: actionMenuSlippage},
		},
		{
			{Label: "Notifications", Data: actionMenuNotifications},
		},
	})
	if err != nil {
		b.log.Warn("menu delivery failed", zap.Error(err))
	}
}

func (b *Bot) showTerms(ctx context.Context, chatID int64) {
	_, err := b.m.Send(ctx, chatID, termsText, [][]flow.Button{{
		{Label: "I understand", Data: actionAcceptTerms},
	}})
	if err != nil {
		b.log.Warn("terms delivery failed", zap.Error(err))
	}
}

func (b *Bot) showBalances(ctx context.Context, sess *session.Session, chatID int64) {
	holdings, err := sess.Balances(ctx)
	if err != nil {
		b.reportFailure(ctx, chatID, err)
		return
	}
	if len(holdings) == 0 {
		b.sendf(ctx, chatID, "Your wallet %s is empty.", sess.Address())
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet %s\n\n", sess.Address())
	var buttons [][]flow.Button
	for _, h := range holdings {
		fmt.Fprintf(&sb, "%s: %.6f", h.Info.Symbol, h.Amount)
		if rate, err := sess.RateInStable(ctx, h.Info.AssetID); err == nil {
			fmt.Fprintf(&sb, " (~%.2f USD)", h.Amount*rate)
		}
		sb.WriteString("\n")
		if h.Info.AssetID == sess.TradeAsset() {
			continue
		}
		buttons = append(buttons, []flow.Button{
			{Label: "Sell " + h.Info.Symbol, Data: templateSell + h.Info.AssetID},
			{Label: "Withdraw " + h.Info.Symbol, Data: templateWithdraw + h.Info.AssetID},
		})
	}
	if _, err := b.m.Send(ctx, chatID, sb.String(), buttons); err != nil {
		b.log.Warn("balance delivery failed", zap.Error(err))
	}
}

func (b *Bot) sendf(ctx context.Context, chatID int64, format string, args ...any) {
	if _, err := b.m.Send(ctx, chatID, fmt.Sprintf(format, args...), nil); err != nil {
		b.log.Warn("message delivery failed", zap.Error(err))
	}
}

func (b *Bot) reportFailure(ctx context.Context, chatID int64, err error) {
	b.log.Error("update handling failed", zap.Error(err))
	b.sendf(ctx, chatID, "Something went wrong. Please try again later.")
}
