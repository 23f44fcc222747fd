package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Slippage lets a user adjust their slippage tolerance, either from preset
// buttons or by typing a basis-point value.
type Slippage struct {
	tracker
	prefs Preferences
}

func NewSlippage(m Messenger, prefs Preferences, chatID int64, log *zap.Logger, onDone Completion) *Slippage {
	return &Slippage{
		tracker: newTracker(uuid.NewString(), "slippage", chatID, m, log, onDone),
		prefs:   prefs,
	}
}

func (f *Slippage) Start(ctx context.Context) error {
	return f.send(ctx, fmt.Sprintf(
		"Your slippage tolerance is %.2f%%. Pick a new one or type a value in basis points.",
		float64(f.prefs.SlippageBps())/100),
		[][]Button{{
			{Label: "0.5%", Data: "50"},
			{Label: "1%", Data: "100"},
			{Label: "2%", Data: "200"},
			{Label: "5%", Data: "500"},
		}})
}

func (f *Slippage) HandleMessage(ctx context.Context, text string) error {
	return f.accept(ctx, strings.TrimSpace(text))
}

func (f *Slippage) HandleAction(ctx context.Context, action string) error {
	return f.accept(ctx, action)
}

func (f *Slippage) accept(ctx context.Context, text string) error {
	if f.finished {
		return nil
	}
	bps, err := strconv.ParseInt(text, 10, 64)
	if err != nil || bps < 0 || bps >= 10000 {
		return f.send(ctx, "Send a whole number of basis points between 0 and 9999.", nil)
	}
	if err := f.prefs.SetSlippageBps(bps); err != nil {
		return f.fail(ctx, err)
	}
	f.finish(true)
	return f.notify(ctx, fmt.Sprintf("Slippage tolerance set to %.2f%%.", float64(bps)/100))
}
