package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/alexvolkov/dexbot/internal/bot/flow"
	"github.com/alexvolkov/dexbot/internal/session"
	"github.com/alexvolkov/dexbot/internal/store"
	"github.com/alexvolkov/dexbot/internal/wallet"
)

type sentMessage struct {
	chatID  int64
	text    string
	buttons [][]flow.Button
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	sent   []sentMessage

	// block, when set, stalls every Send to blockChat until it is closed.
	block     chan struct{}
	blockChat int64
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, text string, buttons [][]flow.Button) (int, error) {
	if f.block != nil && chatID == f.blockChat {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, buttons: buttons})
	return f.nextID, nil
}

func (f *fakeMessenger) Delete(context.Context, int64, int) error { return nil }

func (f *fakeMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) sentTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.chatID == chatID {
			n++
		}
	}
	return n
}

type memWalletStore struct {
	mu      sync.Mutex
	records map[int64]store.WalletRecord
}

func (m *memWalletStore) GetWallet(userID int64) (store.WalletRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	return rec, ok, nil
}

func (m *memWalletStore) SaveWallet(rec store.WalletRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = rec
	return nil
}

type memPrefStore struct{}

func (memPrefStore) SetSlippage(int64, int64) error     { return nil }
func (memPrefStore) SetNotifications(int64, bool) error { return nil }
func (memPrefStore) SetAcceptedTerms(int64) error       { return nil }

func newTestBot(t *testing.T) (*Bot, *fakeMessenger) {
	t.Helper()
	cipher, err := wallet.NewCipher("test-secret")
	if err != nil {
		t.Fatalf("cipher init failed: %v", err)
	}
	builder := func(userID int64, w *wallet.Wallet, rec store.WalletRecord) *session.Session {
		return session.New(session.Params{
			UserID:        userID,
			Wallet:        w,
			Prefs:         memPrefStore{},
			TradeSymbol:   "ETH",
			SlippageBps:   rec.SlippageBps,
			Notifications: rec.Notifications,
			AcceptedTerms: rec.AcceptedTerms,
			Log:           zap.NewNop(),
		})
	}
	sessions := session.NewStore(&memWalletStore{records: make(map[int64]store.WalletRecord)},
		cipher, builder, session.StoreConfig{}, nil, zap.NewNop())
	m := &fakeMessenger{}
	return New(m, nil, sessions, nil, zap.NewNop()), m
}

func TestStartCreatesWalletAndShowsTerms(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBot(t)

	b.HandleCommand(ctx, 1, 1, "start")

	if len(m.sent) != 2 {
		t.Fatalf("expected wallet notice and terms, got %d messages", len(m.sent))
	}
	if !strings.Contains(m.sent[0].text, "Your wallet is ready") {
		t.Fatalf("expected wallet notice, got %q", m.sent[0].text)
	}
	last := m.last(t)
	if len(last.buttons) == 0 || last.buttons[0][0].Data != actionAcceptTerms {
		t.Fatalf("expected terms prompt with accept button, got %+v", last)
	}
}

func TestCommandsAreGatedUntilTermsAccepted(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBot(t)

	b.HandleCommand(ctx, 1, 1, "buy")
	last := m.last(t)
	if len(last.buttons) == 0 || last.buttons[0][0].Data != actionAcceptTerms {
		t.Fatalf("trading before accepting terms must show terms, got %q", last.text)
	}

	b.HandleCallback(ctx, 1, 1, actionAcceptTerms)
	if !strings.Contains(m.last(t).text, "What would you like to do?") {
		t.Fatalf("accepting terms must show the menu, got %q", m.last(t).text)
	}
}

func TestBuyCommandStartsFlow(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBot(t)

	b.HandleCallback(ctx, 1, 1, actionAcceptTerms)
	b.HandleCommand(ctx, 1, 1, "buy")

	if !strings.Contains(m.last(t).text, "asset id") {
		t.Fatalf("expected buy prompt, got %q", m.last(t).text)
	}
	sess, ok := b.sessions.Peek(1)
	if !ok || !sess.HasActiveFlow() {
		t.Fatal("buy command must leave an active flow")
	}
}

func TestUnknownCallbackWithoutFlowShowsMenu(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBot(t)

	b.HandleCallback(ctx, 1, 1, actionAcceptTerms)
	b.HandleCallback(ctx, 1, 1, "stale-button")

	if !strings.Contains(m.last(t).text, "What would you like to do?") {
		t.Fatalf("expected menu, got %q", m.last(t).text)
	}
}

func TestNotificationsToggle(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBot(t)

	b.HandleCallback(ctx, 1, 1, actionAcceptTerms)
	b.HandleCallback(ctx, 1, 1, actionMenuNotifications)
	if got := m.last(t).text; got != "Trade notifications are off." {
		t.Fatalf("first toggle must switch notifications off, got %q", got)
	}
	b.HandleCallback(ctx, 1, 1, actionMenuNotifications)
	if got := m.last(t).text; got != "Trade notifications are on." {
		t.Fatalf("second toggle must switch notifications back on, got %q", got)
	}
}

func textUpdate(userID, chatID int64, text string) tgUpdate {
	return tgUpdate{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}}
}

func TestUpdatesDoNotBlockEachOther(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, m := newTestBot(t)
	m.block = make(chan struct{})
	m.blockChat = 1
	defer close(m.block)

	updates := make(chan tgUpdate, 2)
	go b.consume(ctx, updates)

	updates <- textUpdate(1, 1, "hello")
	updates <- textUpdate(2, 2, "hello")

	deadline := time.Now().Add(2 * time.Second)
	for m.sentTo(2) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("second user's update starved behind the first user's")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFreeTextWithoutFlowShowsMenu(t *testing.T) {
	ctx := context.Background()
	b, m := newTestBot(t)

	b.HandleCallback(ctx, 1, 1, actionAcceptTerms)
	b.HandleText(ctx, 1, 1, "hello")

	if !strings.Contains(m.last(t).text, "What would you like to do?") {
		t.Fatalf("expected menu, got %q", m.last(t).text)
	}
}
