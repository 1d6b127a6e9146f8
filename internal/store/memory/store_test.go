package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

func openIntent(id string) domain.TradingIntent {
	return domain.TradingIntent{
		ID:         id,
		AgentID:    "agent-" + id,
		Direction:  domain.DirectionLong,
		Instrument: "BTC-PERP",
		SizeUSD:    1_000_000_000,
		Leverage:   10,
		Status:     domain.IntentStatusOpen,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
}

func TestIntentTransitionCAS(t *testing.T) {
	ctx := context.Background()
	s := NewIntentStore()
	if err := s.Create(ctx, openIntent("i1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Transition(ctx, "i1", domain.IntentStatusOpen, domain.IntentStatusMatched, 0, "i2"); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Same expected (status, version): the second caller must lose.
	err := s.Transition(ctx, "i1", domain.IntentStatusOpen, domain.IntentStatusCancelled, 0, "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("stale status transition: got %v, want ErrInvalidState", err)
	}

	err = s.Transition(ctx, "i1", domain.IntentStatusMatched, domain.IntentStatusExecuted, 0, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale version transition: got %v, want ErrConflict", err)
	}

	got, err := s.GetByID(ctx, "i1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.IntentStatusMatched || got.Version != 1 || got.MatchedWith != "i2" {
		t.Fatalf("intent after CAS = %+v", got)
	}
}

func TestIntentTransitionExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewIntentStore()
	if err := s.Create(ctx, openIntent("i1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for r := 0; r < racers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Transition(ctx, "i1", domain.IntentStatusOpen, domain.IntentStatusMatched, 0, "x") == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	if n != 1 {
		t.Fatalf("%d concurrent transitions succeeded, want exactly 1", n)
	}
}

func TestAgentWalletUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewAgentStore()

	a := domain.Agent{ID: "a1", Wallet: "0xabc", Status: domain.AgentStatusActive}
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := domain.Agent{ID: "a2", Wallet: "0xabc", Status: domain.AgentStatusActive}
	if err := s.Create(ctx, b); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate wallet: got %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetByWallet(ctx, "0xabc")
	if err != nil || got.ID != "a1" {
		t.Fatalf("GetByWallet = %+v, %v", got, err)
	}
}

func TestPositionSingleOpenPerOwnerInstrument(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()

	p := domain.Position{ID: "p1", Owner: "0xabc", Instrument: "BTC-PERP", Status: domain.PositionStatusOpen}
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := domain.Position{ID: "p2", Owner: "0xabc", Instrument: "BTC-PERP", Status: domain.PositionStatusOpening}
	if err := s.Create(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second open position accepted: %v", err)
	}

	other := domain.Position{ID: "p3", Owner: "0xabc", Instrument: "ETH-PERP", Status: domain.PositionStatusOpen}
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("different instrument rejected: %v", err)
	}
}

func TestPositionCloseRequiresClosing(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	p := domain.Position{ID: "p1", Owner: "o", Instrument: "BTC-PERP", Status: domain.PositionStatusOpen}
	if err := s.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Close(ctx, "p1", 100, 0); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("close from open: got %v, want ErrInvalidState", err)
	}

	if err := s.Transition(ctx, "p1", domain.PositionStatusOpen, domain.PositionStatusClosing, 0); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.Close(ctx, "p1", 100, -25); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, _ := s.GetByID(ctx, "p1")
	if got.Status != domain.PositionStatusClosed || got.ExitPrice == nil || *got.RealizedPnL != -25 {
		t.Fatalf("position after close = %+v", got)
	}

	// Closed is terminal for this path.
	if err := s.Close(ctx, "p1", 100, 0); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double close: got %v, want ErrInvalidState", err)
	}
}

func TestListOpenExpired(t *testing.T) {
	ctx := context.Background()
	s := NewIntentStore()

	fresh := openIntent("fresh")
	stale := openIntent("stale")
	stale.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := s.Create(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, stale); err != nil {
		t.Fatal(err)
	}

	expired, err := s.ListOpenExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "stale" {
		t.Fatalf("expired = %+v", expired)
	}
}
