package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond}
}

func TestDoRetriesNetworkFaults(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return boterr.New(boterr.KindNetworkFault, "connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonNetworkError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return boterr.New(boterr.KindNotFound, "no such asset")
	})
	if !boterr.IsKind(err, boterr.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestDoSurfacesErrorAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), func() error {
		calls++
		return boterr.New(boterr.KindNetworkFault, "timeout")
	})
	if !boterr.IsKind(err, boterr.KindNetworkFault) {
		t.Fatalf("expected network fault, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestDoAllRetriesEverything(t *testing.T) {
	calls := 0
	err := fastPolicy(3).DoAll(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy(10).Do(ctx, func() error {
		return boterr.New(boterr.KindNetworkFault, "timeout")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
}
