package flow

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/alexvolkov/dexbot/internal/router"
	"github.com/alexvolkov/dexbot/internal/token"
)

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Messenger delivers prompts to one chat. Implemented by the transport
// layer; flows never touch the wire format.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, buttons [][]Button) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Trader is the session-backed trading surface flows drive. Swap applies
// the user's stored slippage preference.
type Trader interface {
	TokenInfo(ctx context.Context, assetID string) (token.Info, error)
	Balances(ctx context.Context) ([]router.Holding, error)
	Balance(ctx context.Context, assetID string) (float64, *big.Int, error)
	CalculateSwapAmount(ctx context.Context, assetIn, assetOut string, amount float64) (float64, error)
	RateInStable(ctx context.Context, assetID string) (float64, error)
	Swap(ctx context.Context, assetIn, assetOut string, amount float64) error
	Withdraw(ctx context.Context, to, assetID string, amount float64) (string, error)
	ValidAddress(addr string) bool
	TradeAsset() string
	TradeSymbol() string
}

// Preferences is the mutable per-user settings surface.
type Preferences interface {
	SlippageBps() int64
	SetSlippageBps(bps int64) error
}

// Completion reports a finished flow. successful is distinct from finished:
// a cancelled confirmation is finished but not successful.
type Completion func(flowID string, successful bool)

// Flow is one multi-step user dialog. The engine dispatches one event at a
// time per user, checks Finished after each call and then invokes Complete
// exactly once.
type Flow interface {
	ID() string
	Name() string
	Start(ctx context.Context) error
	HandleMessage(ctx context.Context, text string) error
	HandleAction(ctx context.Context, action string) error
	Finished() bool
	Successful() bool
	Complete(ctx context.Context)
}

// Actions recognized in confirmation states.
const (
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

// tracker carries the behavior every flow shares: recording sent prompts,
// terminal-state bookkeeping and one-shot completion reporting.
type tracker struct {
	id     string
	name   string
	chatID int64
	m      Messenger
	log    *zap.Logger
	onDone Completion

	sent       []int
	finished   bool
	successful bool
	completed  bool
}

func newTracker(id, name string, chatID int64, m Messenger, log *zap.Logger, onDone Completion) tracker {
	return tracker{id: id, name: name, chatID: chatID, m: m, log: log, onDone: onDone}
}

func (t *tracker) ID() string       { return t.id }
func (t *tracker) Name() string     { return t.name }
func (t *tracker) Finished() bool   { return t.finished }
func (t *tracker) Successful() bool { return t.successful }

// send delivers a prompt and records its message id for cleanup.
func (t *tracker) send(ctx context.Context, text string, buttons [][]Button) error {
	msgID, err := t.m.Send(ctx, t.chatID, text, buttons)
	if err != nil {
		return err
	}
	t.sent = append(t.sent, msgID)
	return nil
}

// notify delivers a message without recording it, so flow outcomes survive
// prompt cleanup.
func (t *tracker) notify(ctx context.Context, text string) error {
	_, err := t.m.Send(ctx, t.chatID, text, nil)
	return err
}

func (t *tracker) finish(successful bool) {
	if t.finished {
		return
	}
	t.finished = true
	t.successful = successful
}

// Complete deletes every recorded prompt and fires the completion callback.
// Deletion failures are logged, not raised. Idempotent.
func (t *tracker) Complete(ctx context.Context) {
	if t.completed {
		return
	}
	t.completed = true
	for _, msgID := range t.sent {
		if err := t.m.Delete(ctx, t.chatID, msgID); err != nil {
			t.log.Debug("prompt cleanup failed",
				zap.String("flow", t.name),
				zap.Int("message_id", msgID),
				zap.Error(err))
		}
	}
	t.sent = nil
	if t.onDone != nil {
		t.onDone(t.id, t.successful)
	}
}

// fail terminates a flow on an internal fault with a generic user message.
func (t *tracker) fail(ctx context.Context, err error) error {
	t.log.Error("flow terminated on internal fault",
		zap.String("flow", t.name),
		zap.Error(err))
	t.finish(false)
	return t.notify(ctx, "Something went wrong. Please try again later.")
}

func confirmButtons() [][]Button {
	return [][]Button{{
		{Label: "Confirm", Data: ActionConfirm},
		{Label: "Cancel", Data: ActionCancel},
	}}
}
