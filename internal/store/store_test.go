package store

import (
	"path/filepath"
	"testing"
	"time"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	s, err := Open(filepath.Join(tmp, "wallets.db"), filepath.Join(tmp, "wallets.lock"))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGetWallet(t *testing.T) {
	s := openTestStore(t)
	rec := WalletRecord{
		UserID:        42,
		EncryptedKey:  "aa:bb",
		Address:       "0x00000000000000000000000000000000000000aa",
		SlippageBps:   100,
		Notifications: true,
		CreatedAt:     time.Now(),
	}
	if err := s.SaveWallet(rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := s.GetWallet(42)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected wallet to exist")
	}
	if got.EncryptedKey != rec.EncryptedKey || got.Address != rec.Address || got.SlippageBps != 100 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if !got.Notifications || got.AcceptedTerms {
		t.Fatalf("unexpected preferences: %+v", got)
	}
}

func TestGetWalletMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetWallet(7)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatal("expected no wallet")
	}
}

func TestSaveWalletTwiceFails(t *testing.T) {
	s := openTestStore(t)
	rec := WalletRecord{UserID: 1, EncryptedKey: "aa:bb", Address: "0x01", CreatedAt: time.Now()}
	if err := s.SaveWallet(rec); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := s.SaveWallet(rec); err == nil {
		t.Fatal("second save for the same user must fail")
	}
}

func TestPreferenceUpdates(t *testing.T) {
	s := openTestStore(t)
	rec := WalletRecord{UserID: 5, EncryptedKey: "aa:bb", Address: "0x05", SlippageBps: 100, Notifications: true, CreatedAt: time.Now()}
	if err := s.SaveWallet(rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := s.SetSlippage(5, 250); err != nil {
		t.Fatalf("set slippage failed: %v", err)
	}
	if err := s.SetNotifications(5, false); err != nil {
		t.Fatalf("set notifications failed: %v", err)
	}
	if err := s.SetAcceptedTerms(5); err != nil {
		t.Fatalf("set terms failed: %v", err)
	}

	got, _, err := s.GetWallet(5)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.SlippageBps != 250 || got.Notifications || !got.AcceptedTerms {
		t.Fatalf("unexpected record after updates: %+v", got)
	}
}

func TestUpdateMissingWallet(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetSlippage(99, 100); !boterr.IsKind(err, boterr.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}
