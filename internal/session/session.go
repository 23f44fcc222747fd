package session

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alexvolkov/dexbot/internal/bot/flow"
	"github.com/alexvolkov/dexbot/internal/chain"
	"github.com/alexvolkov/dexbot/internal/router"
	"github.com/alexvolkov/dexbot/internal/telemetry"
	"github.com/alexvolkov/dexbot/internal/token"
	"github.com/alexvolkov/dexbot/internal/wallet"
)

// Transferer moves funds out of a wallet on chain.
type Transferer interface {
	Transfer(ctx context.Context, key *ecdsa.PrivateKey, destination, assetID string, amount *big.Int) (string, error)
}

// PrefStore persists mutable user preferences.
type PrefStore interface {
	SetSlippage(userID, slippageBps int64) error
	SetNotifications(userID int64, enabled bool) error
	SetAcceptedTerms(userID int64) error
}

// Session is one user's live trading state: their wallet, their router and
// at most one active conversational flow.
//
// flowMu serializes flow dispatch so a flow never sees concurrent events.
// Flows call back into the session's trading and preference surfaces while
// dispatch is in progress, so those surfaces must not take flowMu.
type Session struct {
	userID      int64
	wallet      *wallet.Wallet
	router      *router.Router
	transferer  Transferer
	prefs       PrefStore
	tradeSymbol string
	tracker     telemetry.Tracker
	log         *zap.Logger

	flowMu     sync.Mutex
	activeFlow flow.Flow

	prefMu        sync.Mutex
	slippageBps   int64
	notifications bool
	acceptedTerms bool

	lastActivity atomic.Int64
}

type Params struct {
	UserID        int64
	Wallet        *wallet.Wallet
	Router        *router.Router
	Transferer    Transferer
	Prefs         PrefStore
	TradeSymbol   string
	SlippageBps   int64
	Notifications bool
	AcceptedTerms bool
	Tracker       telemetry.Tracker
	Log           *zap.Logger
}

func New(p Params) *Session {
	tracker := p.Tracker
	if tracker == nil {
		tracker = telemetry.Nop()
	}
	s := &Session{
		userID:        p.UserID,
		wallet:        p.Wallet,
		router:        p.Router,
		transferer:    p.Transferer,
		prefs:         p.Prefs,
		tradeSymbol:   p.TradeSymbol,
		tracker:       tracker,
		log:           p.Log,
		slippageBps:   p.SlippageBps,
		notifications: p.Notifications,
		acceptedTerms: p.AcceptedTerms,
	}
	s.touch()
	return s
}

func (s *Session) UserID() int64   { return s.userID }
func (s *Session) Address() string { return s.wallet.Address }

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// StartFlow installs a new flow, forcibly completing any flow it
// supersedes, and delivers the opening prompt.
func (s *Session) StartFlow(ctx context.Context, f flow.Flow) error {
	s.touch()
	s.flowMu.Lock()
	defer s.flowMu.Unlock()

	if prev := s.activeFlow; prev != nil {
		prev.Complete(ctx)
		s.tracker.FlowFinished(prev.Name(), prev.Successful())
		s.activeFlow = nil
	}
	s.activeFlow = f
	s.tracker.FlowStarted(f.Name())
	err := f.Start(ctx)
	s.reapLocked(ctx)
	return err
}

// HandleMessage routes a text message into the active flow. The first
// return is false when no flow is active and the caller should treat the
// text as a command.
func (s *Session) HandleMessage(ctx context.Context, text string) (bool, error) {
	s.touch()
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	if s.activeFlow == nil {
		return false, nil
	}
	err := s.activeFlow.HandleMessage(ctx, text)
	s.reapLocked(ctx)
	return true, err
}

// HandleAction routes a button press into the active flow.
func (s *Session) HandleAction(ctx context.Context, action string) (bool, error) {
	s.touch()
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	if s.activeFlow == nil {
		return false, nil
	}
	err := s.activeFlow.HandleAction(ctx, action)
	s.reapLocked(ctx)
	return true, err
}

func (s *Session) HasActiveFlow() bool {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	return s.activeFlow != nil
}

func (s *Session) reapLocked(ctx context.Context) {
	f := s.activeFlow
	if f == nil || !f.Finished() {
		return
	}
	f.Complete(ctx)
	s.tracker.FlowFinished(f.Name(), f.Successful())
	s.activeFlow = nil
}

// Close completes any in-flight flow. Called on eviction and shutdown.
func (s *Session) Close(ctx context.Context) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	if f := s.activeFlow; f != nil {
		f.Complete(ctx)
		s.tracker.FlowFinished(f.Name(), f.Successful())
		s.activeFlow = nil
	}
}

// Trader surface, driven by flows.

func (s *Session) TokenInfo(ctx context.Context, assetID string) (token.Info, error) {
	return s.router.TokenInfo(ctx, assetID)
}

func (s *Session) Balances(ctx context.Context) ([]router.Holding, error) {
	return s.router.Balances(ctx)
}

func (s *Session) Balance(ctx context.Context, assetID string) (float64, *big.Int, error) {
	return s.router.Balance(ctx, assetID)
}

func (s *Session) CalculateSwapAmount(ctx context.Context, assetIn, assetOut string, amount float64) (float64, error) {
	return s.router.CalculateSwapAmount(ctx, assetIn, assetOut, amount)
}

func (s *Session) RateInStable(ctx context.Context, assetID string) (float64, error) {
	return s.router.RateInStable(ctx, assetID)
}

func (s *Session) Swap(ctx context.Context, assetIn, assetOut string, amount float64) error {
	return s.router.Execute(ctx, router.SwapRequest{
		AssetIn:     assetIn,
		AssetOut:    assetOut,
		AmountIn:    amount,
		SlippageBps: s.SlippageBps(),
	})
}

func (s *Session) Withdraw(ctx context.Context, to, assetID string, amount float64) (string, error) {
	info, err := s.router.TokenInfo(ctx, assetID)
	if err != nil {
		return "", err
	}
	return s.transferer.Transfer(ctx, s.wallet.Key, to, assetID, token.ToBaseUnits(amount, info.Decimals))
}

func (s *Session) ValidAddress(addr string) bool { return chain.ValidAddress(addr) }
func (s *Session) TradeAsset() string            { return s.router.TradeAsset() }
func (s *Session) TradeSymbol() string           { return s.tradeSymbol }

// Preferences surface.

func (s *Session) SlippageBps() int64 {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	return s.slippageBps
}

func (s *Session) SetSlippageBps(bps int64) error {
	if err := s.prefs.SetSlippage(s.userID, bps); err != nil {
		return err
	}
	s.prefMu.Lock()
	s.slippageBps = bps
	s.prefMu.Unlock()
	return nil
}

func (s *Session) Notifications() bool {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	return s.notifications
}

func (s *Session) SetNotifications(enabled bool) error {
	if err := s.prefs.SetNotifications(s.userID, enabled); err != nil {
		return err
	}
	s.prefMu.Lock()
	s.notifications = enabled
	s.prefMu.Unlock()
	return nil
}

func (s *Session) AcceptedTerms() bool {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	return s.acceptedTerms
}

func (s *Session) AcceptTerms() error {
	if err := s.prefs.SetAcceptedTerms(s.userID); err != nil {
		return err
	}
	s.prefMu.Lock()
	s.acceptedTerms = true
	s.prefMu.Unlock()
	return nil
}
