package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/pricefeed"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/store/memory"
)

const btcMark = 70_000_000_000 // $70,000 in micro-USD

func newTestRegistry(t *testing.T) (*Registry, *memory.IntentStore) {
	t.Helper()
	intents := memory.NewIntentStore()
	prices := pricefeed.NewStatic(map[string]int64{"BTC-PERP": btcMark})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := New(memory.NewAgentStore(), intents, prices, domain.DefaultInstruments(), logger)
	return reg, intents
}

func validParams() IntentParams {
	return IntentParams{
		Direction:  domain.DirectionLong,
		Instrument: "BTC-PERP",
		SizeUSD:    1_000_000_000, // $1,000
		Leverage:   10,
		MaxSlipBps: 50,
		TTL:        30 * time.Second,
	}
}

func TestRegisterAgentIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.RegisterAgent(ctx, "0xabc")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if first.Status != domain.AgentStatusActive {
		t.Errorf("status = %s, want active", first.Status)
	}
	if first.Reputation != initialReputation {
		t.Errorf("reputation = %v, want %v", first.Reputation, initialReputation)
	}

	second, err := reg.RegisterAgent(ctx, "0xabc")
	if err != nil {
		t.Fatalf("second RegisterAgent: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second registration returned new agent %s, want %s", second.ID, first.ID)
	}
}

func TestRegisterAgentEmptyWallet(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.RegisterAgent(context.Background(), "  ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSubmitIntentCapturesRefPrice(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	agent, err := reg.RegisterAgent(ctx, "0xabc")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	intent, err := reg.SubmitIntent(ctx, agent.ID, validParams())
	if err != nil {
		t.Fatalf("SubmitIntent: %v", err)
	}
	if intent.Status != domain.IntentStatusOpen {
		t.Errorf("status = %s, want open", intent.Status)
	}
	if intent.RefPrice != btcMark {
		t.Errorf("ref price = %d, want %d", intent.RefPrice, btcMark)
	}
	if intent.ExpiresAt.Before(intent.CreatedAt) {
		t.Errorf("expiry %v precedes creation %v", intent.ExpiresAt, intent.CreatedAt)
	}
}

func TestSubmitIntentNoMarkDisablesSlippageRef(t *testing.T) {
	intents := memory.NewIntentStore()
	prices := pricefeed.NewStatic(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := New(memory.NewAgentStore(), intents, prices, domain.DefaultInstruments(), logger)
	ctx := context.Background()

	agent, err := reg.RegisterAgent(ctx, "0xabc")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	intent, err := reg.SubmitIntent(ctx, agent.ID, validParams())
	if err != nil {
		t.Fatalf("SubmitIntent: %v", err)
	}
	if intent.RefPrice != 0 {
		t.Errorf("ref price = %d, want 0 when no mark is available", intent.RefPrice)
	}
}

func TestSubmitIntentValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	agent, err := reg.RegisterAgent(ctx, "0xabc")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*IntentParams)
	}{
		{"zero size", func(p *IntentParams) { p.SizeUSD = 0 }},
		{"negative size", func(p *IntentParams) { p.SizeUSD = -1 }},
		{"zero leverage", func(p *IntentParams) { p.Leverage = 0 }},
		{"leverage above instrument max", func(p *IntentParams) { p.Leverage = 21 }},
		{"negative slippage", func(p *IntentParams) { p.MaxSlipBps = -1 }},
		{"bad direction", func(p *IntentParams) { p.Direction = "sideways" }},
		{"rep above one", func(p *IntentParams) { p.MinCounterRep = 1.5 }},
		{"zero ttl", func(p *IntentParams) { p.TTL = 0 }},
		{"unknown instrument", func(p *IntentParams) { p.Instrument = "DOGE-PERP" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			if _, err := reg.SubmitIntent(ctx, agent.ID, p); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSubmitIntentUnknownAgent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.SubmitIntent(context.Background(), "nope", validParams())
	if !errors.Is(err, domain.ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestCancelIntent(t *testing.T) {
	reg, intents := newTestRegistry(t)
	ctx := context.Background()

	agent, _ := reg.RegisterAgent(ctx, "0xabc")
	intent, err := reg.SubmitIntent(ctx, agent.ID, validParams())
	if err != nil {
		t.Fatalf("SubmitIntent: %v", err)
	}

	if err := reg.CancelIntent(ctx, intent.ID); err != nil {
		t.Fatalf("CancelIntent: %v", err)
	}

	got, err := intents.GetByID(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.IntentStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// Cancelling a terminal intent fails.
	if err := reg.CancelIntent(ctx, intent.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second cancel err = %v, want ErrInvalidState", err)
	}
}

func TestExpireIntents(t *testing.T) {
	reg, intents := newTestRegistry(t)
	ctx := context.Background()

	agent, _ := reg.RegisterAgent(ctx, "0xabc")

	short := validParams()
	short.TTL = 10 * time.Millisecond
	expiring, err := reg.SubmitIntent(ctx, agent.ID, short)
	if err != nil {
		t.Fatalf("SubmitIntent: %v", err)
	}

	long := validParams()
	long.TTL = time.Hour
	surviving, err := reg.SubmitIntent(ctx, agent.ID, long)
	if err != nil {
		t.Fatalf("SubmitIntent: %v", err)
	}

	swept, err := reg.ExpireIntents(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ExpireIntents: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, _ := intents.GetByID(ctx, expiring.ID)
	if got.Status != domain.IntentStatusExpired {
		t.Errorf("expiring intent status = %s, want expired", got.Status)
	}
	got, _ = intents.GetByID(ctx, surviving.ID)
	if got.Status != domain.IntentStatusOpen {
		t.Errorf("surviving intent status = %s, want open", got.Status)
	}
}

func TestRecordSettlementReputation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	agent, _ := reg.RegisterAgent(ctx, "0xabc")

	if err := reg.RecordSettlement(ctx, agent.ID, 1_000_000_000, 50_000_000, false); err != nil {
		t.Fatalf("RecordSettlement: %v", err)
	}
	got, _ := reg.Agent(ctx, agent.ID)
	if got.Reputation < 0.5099999 || got.Reputation > 0.5100001 {
		t.Errorf("reputation after clean settlement = %v, want 0.51", got.Reputation)
	}
	if got.TotalVolume != 1_000_000_000 || got.TradeCount != 1 {
		t.Errorf("volume/count = %d/%d, want 1000000000/1", got.TotalVolume, got.TradeCount)
	}
	if got.RealizedPnL != 50_000_000 {
		t.Errorf("realized pnl = %d, want 50000000", got.RealizedPnL)
	}

	if err := reg.RecordSettlement(ctx, agent.ID, 1_000_000_000, -200_000_000, true); err != nil {
		t.Fatalf("RecordSettlement liquidation: %v", err)
	}
	got, _ = reg.Agent(ctx, agent.ID)
	if got.Reputation > 0.4600001 || got.Reputation < 0.4599999 {
		t.Errorf("reputation after liquidation = %v, want 0.46", got.Reputation)
	}
}

func TestRecordSettlementClampsReputation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	agent, _ := reg.RegisterAgent(ctx, "0xabc")

	// Drive reputation toward zero with repeated liquidations.
	for i := 0; i < 20; i++ {
		if err := reg.RecordSettlement(ctx, agent.ID, 1_000_000, 0, true); err != nil {
			t.Fatalf("RecordSettlement: %v", err)
		}
	}
	got, _ := reg.Agent(ctx, agent.ID)
	if got.Reputation != 0 {
		t.Errorf("reputation = %v, want clamp at 0", got.Reputation)
	}
}
