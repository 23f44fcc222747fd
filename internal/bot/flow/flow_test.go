package flow

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/router"
	"github.com/alexvolkov/dexbot/internal/token"
)

const (
	ethAsset = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
	pupAsset = "0x0000000000000000000000000000000000000909"
)

type sentMessage struct {
	text    string
	buttons [][]Button
}

type fakeMessenger struct {
	nextID    int
	sent      []sentMessage
	deleted   []int
	deleteErr error
}

func (f *fakeMessenger) Send(_ context.Context, _ int64, text string, buttons [][]Button) (int, error) {
	f.nextID++
	f.sent = append(f.sent, sentMessage{text: text, buttons: buttons})
	return f.nextID, nil
}

func (f *fakeMessenger) Delete(_ context.Context, _ int64, messageID int) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) lastText(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1].text
}

type swapCall struct {
	in, out string
	amount  float64
}

type fakeTrader struct {
	infos    map[string]token.Info
	balances map[string]float64
	preview  float64
	swapErr  error

	swaps     []swapCall
	withdraws []string
}

func newFakeTrader() *fakeTrader {
	return &fakeTrader{
		infos: map[string]token.Info{
			ethAsset: {AssetID: ethAsset, Symbol: "ETH", Decimals: 18, Class: token.ClassRegistry},
			pupAsset: {AssetID: pupAsset, Symbol: "PUP", Decimals: 9, Class: token.ClassBondingCurve},
		},
		balances: map[string]float64{ethAsset: 2.5, pupAsset: 1000},
		preview:  500,
	}
}

func (f *fakeTrader) TokenInfo(_ context.Context, assetID string) (token.Info, error) {
	info, ok := f.infos[assetID]
	if !ok {
		return token.Info{}, boterr.Newf(boterr.KindNotFound, "asset %s is not supported", assetID)
	}
	return info, nil
}

func (f *fakeTrader) Balances(_ context.Context) ([]router.Holding, error) {
	var out []router.Holding
	for id, amount := range f.balances {
		out = append(out, router.Holding{Info: f.infos[id], Amount: amount})
	}
	return out, nil
}

func (f *fakeTrader) Balance(_ context.Context, assetID string) (float64, *big.Int, error) {
	return f.balances[assetID], big.NewInt(0), nil
}

func (f *fakeTrader) CalculateSwapAmount(_ context.Context, _, _ string, _ float64) (float64, error) {
	return f.preview, nil
}

func (f *fakeTrader) RateInStable(_ context.Context, _ string) (float64, error) { return 1, nil }

func (f *fakeTrader) Swap(_ context.Context, in, out string, amount float64) error {
	if f.swapErr != nil {
		return f.swapErr
	}
	f.swaps = append(f.swaps, swapCall{in: in, out: out, amount: amount})
	return nil
}

func (f *fakeTrader) Withdraw(_ context.Context, to, _ string, _ float64) (string, error) {
	f.withdraws = append(f.withdraws, to)
	return "0xabc", nil
}

func (f *fakeTrader) ValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) == 42
}

func (f *fakeTrader) TradeAsset() string  { return ethAsset }
func (f *fakeTrader) TradeSymbol() string { return "ETH" }

type completionRecord struct {
	calls      int
	flowID     string
	successful bool
}

func (c *completionRecord) callback() Completion {
	return func(flowID string, successful bool) {
		c.calls++
		c.flowID = flowID
		c.successful = successful
	}
}

func TestBuyHappyPath(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	done := &completionRecord{}
	f := NewBuy(m, trader, 1, zap.NewNop(), done.callback())

	if err := f.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := f.HandleMessage(ctx, pupAsset); err != nil {
		t.Fatalf("asset step failed: %v", err)
	}
	if err := f.HandleMessage(ctx, "1.5"); err != nil {
		t.Fatalf("amount step failed: %v", err)
	}
	if f.Finished() {
		t.Fatal("flow must wait for confirmation")
	}
	if err := f.HandleAction(ctx, ActionConfirm); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if !f.Finished() || !f.Successful() {
		t.Fatal("confirmed buy must finish successfully")
	}
	if len(trader.swaps) != 1 {
		t.Fatalf("expected one swap, got %d", len(trader.swaps))
	}
	got := trader.swaps[0]
	if got.in != ethAsset || got.out != pupAsset || got.amount != 1.5 {
		t.Fatalf("unexpected swap %+v", got)
	}
}

func TestBuyRepromptsOnInvalidAmount(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	f := NewBuy(m, trader, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	_ = f.HandleMessage(ctx, pupAsset)

	for _, input := range []string{"abc", "-1", "0", "999"} {
		if err := f.HandleMessage(ctx, input); err != nil {
			t.Fatalf("input %q errored: %v", input, err)
		}
		if f.Finished() {
			t.Fatalf("input %q must re-prompt, not finish", input)
		}
	}
	if len(trader.swaps) != 0 {
		t.Fatal("no swap may run before confirmation")
	}

	if err := f.HandleMessage(ctx, "1.0"); err != nil {
		t.Fatalf("valid amount failed: %v", err)
	}
	if !strings.Contains(m.lastText(t), "Buy") {
		t.Fatalf("expected confirmation prompt, got %q", m.lastText(t))
	}
}

func TestBuyConfirmShowsPreviewAmount(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	f := NewBuy(m, trader, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	_ = f.HandleMessage(ctx, pupAsset)
	if err := f.HandleMessage(ctx, "1.0"); err != nil {
		t.Fatalf("amount step failed: %v", err)
	}
	want := "Buy ~500 PUP for 1.000000 ETH?"
	if m.lastText(t) != want {
		t.Fatalf("confirmation prompt = %q, want %q", m.lastText(t), want)
	}
}

func TestBuyRejectsUnknownAsset(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	f := NewBuy(m, newFakeTrader(), 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	if err := f.HandleMessage(ctx, "0xdead"); err != nil {
		t.Fatalf("unknown asset errored: %v", err)
	}
	if f.Finished() {
		t.Fatal("unknown asset must re-prompt")
	}
	if !strings.Contains(m.lastText(t), "not supported") {
		t.Fatalf("expected a validation message, got %q", m.lastText(t))
	}
}

func TestCancelInConfirmationFinishesUnsuccessfully(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	done := &completionRecord{}
	f := NewBuy(m, trader, 1, zap.NewNop(), done.callback())

	_ = f.Start(ctx)
	_ = f.HandleMessage(ctx, pupAsset)
	_ = f.HandleMessage(ctx, "1.0")

	if err := f.HandleAction(ctx, ActionCancel); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !f.Finished() || f.Successful() {
		t.Fatal("cancel must finish the flow unsuccessfully")
	}
	if len(trader.swaps) != 0 {
		t.Fatal("cancel must not execute")
	}

	// Second cancel on a finished flow is a no-op.
	if err := f.HandleAction(ctx, ActionCancel); err != nil {
		t.Fatalf("second cancel errored: %v", err)
	}

	f.Complete(ctx)
	f.Complete(ctx)
	if done.calls != 1 {
		t.Fatalf("completion must fire exactly once, got %d", done.calls)
	}
	if done.successful {
		t.Fatal("completion must report unsuccessful")
	}
	if len(m.deleted) != 3 {
		t.Fatalf("expected 3 prompts cleaned up, got %d", len(m.deleted))
	}
}

func TestCleanupFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{deleteErr: errors.New("message already gone")}
	done := &completionRecord{}
	f := NewBuy(m, newFakeTrader(), 1, zap.NewNop(), done.callback())

	_ = f.Start(ctx)
	f.finish(false)
	f.Complete(ctx)
	if done.calls != 1 {
		t.Fatalf("completion must fire despite delete failures, got %d", done.calls)
	}
}

func TestSellPercentageOfBalance(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	f := NewSell(m, trader, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	if err := f.HandleAction(ctx, pupAsset); err != nil {
		t.Fatalf("asset pick failed: %v", err)
	}
	if err := f.HandleAction(ctx, "50"); err != nil {
		t.Fatalf("percentage failed: %v", err)
	}
	if err := f.HandleAction(ctx, ActionConfirm); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if !f.Finished() || !f.Successful() {
		t.Fatal("confirmed sell must finish successfully")
	}
	got := trader.swaps[0]
	if got.in != pupAsset || got.out != ethAsset || got.amount != 500 {
		t.Fatalf("unexpected swap %+v", got)
	}
}

func TestSellRejectsBadPercentage(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	f := NewSellForAsset(m, newFakeTrader(), 1, pupAsset, zap.NewNop(), nil)

	_ = f.Start(ctx)
	for _, input := range []string{"0", "101", "ten"} {
		if err := f.HandleMessage(ctx, input); err != nil {
			t.Fatalf("input %q errored: %v", input, err)
		}
		if f.Finished() {
			t.Fatalf("input %q must re-prompt", input)
		}
	}
}

func TestSellSlippageExhaustedEndsFlow(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	trader.swapErr = boterr.New(boterr.KindSlippageExhausted, "floor is zero")
	f := NewSellForAsset(m, trader, 1, pupAsset, zap.NewNop(), nil)

	_ = f.Start(ctx)
	_ = f.HandleMessage(ctx, "100")
	if err := f.HandleAction(ctx, ActionConfirm); err != nil {
		t.Fatalf("confirm errored: %v", err)
	}
	if !f.Finished() || f.Successful() {
		t.Fatal("slippage exhaustion must finish the flow unsuccessfully")
	}
	if !strings.Contains(m.lastText(t), "slippage") {
		t.Fatalf("expected a slippage message, got %q", m.lastText(t))
	}
}

func TestWithdrawHappyPathWithAll(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	f := NewWithdraw(m, trader, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	_ = f.HandleMessage(ctx, pupAsset)
	if err := f.HandleMessage(ctx, "not-an-address"); err != nil {
		t.Fatalf("bad address errored: %v", err)
	}
	if !strings.Contains(m.lastText(t), "not a valid address") {
		t.Fatalf("expected address validation, got %q", m.lastText(t))
	}
	_ = f.HandleMessage(ctx, "0x00000000000000000000000000000000000000bb")
	_ = f.HandleMessage(ctx, "all")
	if err := f.HandleAction(ctx, ActionConfirm); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if !f.Finished() || !f.Successful() {
		t.Fatal("confirmed withdrawal must finish successfully")
	}
	if len(trader.withdraws) != 1 || trader.withdraws[0] != "0x00000000000000000000000000000000000000bb" {
		t.Fatalf("unexpected withdrawals %v", trader.withdraws)
	}
}

func TestWithdrawRejectsOverBalance(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	f := NewWithdrawForAsset(m, newFakeTrader(), 1, pupAsset, zap.NewNop(), nil)

	_ = f.Start(ctx)
	_ = f.HandleMessage(ctx, "0x00000000000000000000000000000000000000bb")
	if err := f.HandleMessage(ctx, "5000"); err != nil {
		t.Fatalf("over-balance errored: %v", err)
	}
	if f.Finished() {
		t.Fatal("over-balance amount must re-prompt")
	}
	if !strings.Contains(m.lastText(t), "exceeds your balance") {
		t.Fatalf("expected balance message, got %q", m.lastText(t))
	}
}

func TestSwapArbitraryPair(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	trader := newFakeTrader()
	f := NewSwap(m, trader, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	if err := f.HandleAction(ctx, pupAsset); err != nil {
		t.Fatalf("asset-in pick failed: %v", err)
	}
	if err := f.HandleMessage(ctx, ethAsset); err != nil {
		t.Fatalf("asset-out step failed: %v", err)
	}
	if err := f.HandleAction(ctx, "25"); err != nil {
		t.Fatalf("percentage failed: %v", err)
	}
	if err := f.HandleAction(ctx, ActionConfirm); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if !f.Finished() || !f.Successful() {
		t.Fatal("confirmed swap must finish successfully")
	}
	got := trader.swaps[0]
	if got.in != pupAsset || got.out != ethAsset || got.amount != 250 {
		t.Fatalf("unexpected swap %+v", got)
	}
}

func TestSwapRejectsSameAsset(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	f := NewSwap(m, newFakeTrader(), 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	_ = f.HandleAction(ctx, pupAsset)
	if err := f.HandleMessage(ctx, pupAsset); err != nil {
		t.Fatalf("same asset errored: %v", err)
	}
	if f.Finished() {
		t.Fatal("same asset must re-prompt")
	}
	if !strings.Contains(m.lastText(t), "different asset") {
		t.Fatalf("expected same-asset message, got %q", m.lastText(t))
	}
}

type fakePrefs struct {
	bps int64
}

func (f *fakePrefs) SlippageBps() int64 { return f.bps }
func (f *fakePrefs) SetSlippageBps(bps int64) error {
	f.bps = bps
	return nil
}

func TestSlippageFlowSetsPreference(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	prefs := &fakePrefs{bps: 100}
	f := NewSlippage(m, prefs, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	if err := f.HandleAction(ctx, "200"); err != nil {
		t.Fatalf("preset failed: %v", err)
	}
	if !f.Finished() || !f.Successful() || prefs.bps != 200 {
		t.Fatalf("expected 200 bps, got %d", prefs.bps)
	}
}

func TestSlippageFlowRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	m := &fakeMessenger{}
	prefs := &fakePrefs{bps: 100}
	f := NewSlippage(m, prefs, 1, zap.NewNop(), nil)

	_ = f.Start(ctx)
	for _, input := range []string{"-1", "10000", "two"} {
		if err := f.HandleMessage(ctx, input); err != nil {
			t.Fatalf("input %q errored: %v", input, err)
		}
		if f.Finished() || prefs.bps != 100 {
			t.Fatalf("input %q must be rejected", input)
		}
	}
}
