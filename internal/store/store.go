package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

// WalletRecord is one user's durable state: the encrypted signing key plus
// preferences that must survive restarts.
type WalletRecord struct {
	UserID        int64
	EncryptedKey  string
	Address       string
	SlippageBps   int64
	Notifications bool
	AcceptedTerms bool
	CreatedAt     time.Time
}

// Store persists wallet records in sqlite. Writes take a file lock so a
// stray second process cannot corrupt the database.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, boterr.Wrap(boterr.KindInternal, "create store directory", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, boterr.Wrap(boterr.KindInternal, "create lock directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindInternal, "open sqlite store", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS wallets (
			user_id INTEGER PRIMARY KEY,
			encrypted_key TEXT NOT NULL,
			address TEXT NOT NULL,
			slippage_bps INTEGER NOT NULL,
			notifications INTEGER NOT NULL DEFAULT 1,
			accepted_terms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, boterr.Wrap(boterr.KindInternal, "init store schema", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return boterr.Wrap(boterr.KindInternal, "lock store", err)
	}
	if !locked {
		return boterr.New(boterr.KindInternal, "lock store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// SaveWallet inserts a new record. Saving over an existing user is an error;
// wallets are created exactly once.
func (s *Store) SaveWallet(rec WalletRecord) error {
	return s.withLock(func() error {
		_, err := s.db.Exec(
			`INSERT INTO wallets (user_id, encrypted_key, address, slippage_bps, notifications, accepted_terms, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.UserID, rec.EncryptedKey, rec.Address, rec.SlippageBps,
			boolToInt(rec.Notifications), boolToInt(rec.AcceptedTerms),
			rec.CreatedAt.UTC().Unix(),
		)
		if err != nil {
			return boterr.Wrap(boterr.KindInternal, "save wallet", err)
		}
		return nil
	})
}

// GetWallet loads one user's record. The second return is false when the
// user has no wallet yet.
func (s *Store) GetWallet(userID int64) (WalletRecord, bool, error) {
	var (
		rec           WalletRecord
		notifications int
		acceptedTerms int
		createdUnix   int64
	)
	err := s.db.QueryRow(
		`SELECT user_id, encrypted_key, address, slippage_bps, notifications, accepted_terms, created_at
		 FROM wallets WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.EncryptedKey, &rec.Address, &rec.SlippageBps,
		&notifications, &acceptedTerms, &createdUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WalletRecord{}, false, nil
		}
		return WalletRecord{}, false, boterr.Wrap(boterr.KindInternal, "read wallet", err)
	}
	rec.Notifications = notifications != 0
	rec.AcceptedTerms = acceptedTerms != 0
	rec.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return rec, true, nil
}

// SetSlippage updates a user's slippage preference.
func (s *Store) SetSlippage(userID, slippageBps int64) error {
	return s.updateColumn(userID, "slippage_bps", slippageBps)
}

// SetNotifications toggles a user's notification preference.
func (s *Store) SetNotifications(userID int64, enabled bool) error {
	return s.updateColumn(userID, "notifications", boolToInt(enabled))
}

// SetAcceptedTerms records that a user has accepted the terms of use.
func (s *Store) SetAcceptedTerms(userID int64) error {
	return s.updateColumn(userID, "accepted_terms", 1)
}

func (s *Store) updateColumn(userID int64, column string, value any) error {
	return s.withLock(func() error {
		res, err := s.db.Exec("UPDATE wallets SET "+column+" = ? WHERE user_id = ?", value, userID)
		if err != nil {
			return boterr.Wrap(boterr.KindInternal, "update wallet", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return boterr.Wrap(boterr.KindInternal, "update wallet", err)
		}
		if n == 0 {
			return boterr.Newf(boterr.KindNotFound, "no wallet for user %d", userID)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
