package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/store"
	"github.com/alexvolkov/dexbot/internal/telemetry"
	"github.com/alexvolkov/dexbot/internal/wallet"
)

// WalletStore is the durable system of record for wallets. It is re-checked
// inside the creation lock before minting, so two concurrent first messages
// from one user can never mint two wallets.
type WalletStore interface {
	GetWallet(userID int64) (store.WalletRecord, bool, error)
	SaveWallet(rec store.WalletRecord) error
}

// Builder assembles a session around a loaded or freshly created wallet.
// The application wires routers and venue clients here.
type Builder func(userID int64, w *wallet.Wallet, rec store.WalletRecord) *Session

// Store holds live sessions. Reads are lock-free; only first-contact
// creation takes the mutex. A background sweeper evicts idle sessions.
type Store struct {
	sessions sync.Map
	createMu sync.Mutex

	wallets            WalletStore
	cipher             *wallet.Cipher
	build              Builder
	defaultSlippageBps int64
	idleTTL            time.Duration
	sweepInterval      time.Duration
	tracker            telemetry.Tracker
	log                *zap.Logger
}

type StoreConfig struct {
	DefaultSlippageBps int64
	IdleTTL            time.Duration
	SweepInterval      time.Duration
}

func NewStore(wallets WalletStore, cipher *wallet.Cipher, build Builder, cfg StoreConfig, tracker telemetry.Tracker, log *zap.Logger) *Store {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.DefaultSlippageBps <= 0 {
		cfg.DefaultSlippageBps = 100
	}
	if tracker == nil {
		tracker = telemetry.Nop()
	}
	return &Store{
		wallets:            wallets,
		cipher:             cipher,
		build:              build,
		defaultSlippageBps: cfg.DefaultSlippageBps,
		idleTTL:            cfg.IdleTTL,
		sweepInterval:      cfg.SweepInterval,
		tracker:            tracker,
		log:                log,
	}
}

// GetOrCreate returns the user's session, creating the wallet on first
// contact. The second return reports whether a brand-new wallet was minted.
// Restoring a session for an existing wallet record never takes the creation
// lock; only the mint path does.
func (s *Store) GetOrCreate(userID int64) (*Session, bool, error) {
	if v, ok := s.sessions.Load(userID); ok {
		return v.(*Session), false, nil
	}

	rec, exists, err := s.wallets.GetWallet(userID)
	if err != nil {
		return nil, false, err
	}
	if exists {
		sess, err := s.restore(userID, rec)
		if err != nil {
			return nil, false, err
		}
		if v, loaded := s.sessions.LoadOrStore(userID, sess); loaded {
			return v.(*Session), false, nil
		}
		s.tracker.SessionCreated()
		return sess, false, nil
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	// Another first message may have won the race.
	if v, ok := s.sessions.Load(userID); ok {
		return v.(*Session), false, nil
	}
	rec, exists, err = s.wallets.GetWallet(userID)
	if err != nil {
		return nil, false, err
	}
	if exists {
		sess, err := s.restore(userID, rec)
		if err != nil {
			return nil, false, err
		}
		s.sessions.Store(userID, sess)
		s.tracker.SessionCreated()
		return sess, false, nil
	}

	w, err := wallet.Generate()
	if err != nil {
		return nil, false, err
	}
	sealed, err := s.cipher.Encrypt(w.Key)
	if err != nil {
		return nil, false, err
	}
	rec = store.WalletRecord{
		UserID:        userID,
		EncryptedKey:  sealed,
		Address:       w.Address,
		SlippageBps:   s.defaultSlippageBps,
		Notifications: true,
		CreatedAt:     time.Now(),
	}
	if err := s.wallets.SaveWallet(rec); err != nil {
		return nil, false, err
	}
	s.log.Info("wallet created",
		zap.Int64("user_id", userID),
		zap.String("address", w.Address))

	sess := s.build(userID, w, rec)
	s.sessions.Store(userID, sess)
	s.tracker.SessionCreated()
	return sess, true, nil
}

func (s *Store) restore(userID int64, rec store.WalletRecord) (*Session, error) {
	key, err := s.cipher.Decrypt(rec.EncryptedKey)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindInternal, "decrypt stored wallet", err)
	}
	return s.build(userID, wallet.FromKey(key), rec), nil
}

// Peek returns the session without creating one.
func (s *Store) Peek(userID int64) (*Session, bool) {
	v, ok := s.sessions.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// StartSweeper launches the eviction loop. It stops when ctx is done.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep evicts every session idle past the TTL. An evicted session's active
// flow, if any, is completed so its prompts get cleaned up.
func (s *Store) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.idleTTL)
	s.sessions.Range(func(key, value any) bool {
		sess := value.(*Session)
		if sess.LastActivity().After(cutoff) {
			return true
		}
		sess.Close(ctx)
		s.sessions.Delete(key)
		s.tracker.SessionEvicted()
		s.log.Debug("session evicted", zap.Int64("user_id", sess.UserID()))
		return true
	})
}
