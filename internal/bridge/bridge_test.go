package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/fees"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/ledger"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/matcher"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/registry"
	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/store/memory"
)

const (
	testProgram = "perp-program-test"
	btcPrice    = 70_000_000_000 // $70,000 in micro-USD
	intentSize  = 1_000_000_000  // $1,000 margin
)

type staticPrice struct{ price int64 }

func (s staticPrice) Mark(context.Context, string) (int64, time.Time, error) {
	return s.price, time.Now().UTC(), nil
}

type harness struct {
	agents    *memory.AgentStore
	intents   *memory.IntentStore
	matches   *memory.MatchStore
	positions *memory.PositionStore
	fees      *memory.FeeStore
	ledger    *ledger.Memory
	registry  *registry.Registry
	matcher   *matcher.Matcher
	bridge    *Bridge
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		agents:    memory.NewAgentStore(),
		intents:   memory.NewIntentStore(),
		matches:   memory.NewMatchStore(),
		positions: memory.NewPositionStore(),
		fees:      memory.NewFeeStore(),
		ledger:    ledger.NewMemory(),
	}
	prices := staticPrice{price: btcPrice}
	h.registry = registry.New(h.agents, h.intents, prices, domain.DefaultInstruments(), logger)
	h.matcher = matcher.New(h.intents, h.agents, h.matches, prices, logger)

	cfg := DefaultConfig(testProgram)
	cfg.RetryBackoff = time.Millisecond
	cfg.ConfirmInterval = time.Millisecond
	cfg.ConfirmTimeout = 100 * time.Millisecond
	h.bridge = New(cfg, Deps{
		Client:    h.ledger,
		Registry:  h.registry,
		Agents:    h.agents,
		Intents:   h.intents,
		Matches:   h.matches,
		Positions: h.positions,
		Fees:      h.fees,
		Schedule:  fees.Default(),
		Logger:    logger,
	})
	return h
}

// fundWallet credits a wallet's collateral account and the market account so
// open instructions and PnL payouts can apply.
func (h *harness) fund(t *testing.T, wallet string, amount int64) {
	t.Helper()
	h.ledger.Fund(ledger.DeriveAccount(testProgram, wallet), amount)
	h.ledger.Fund(ledger.DeriveMarket(testProgram, 0), 100_000_000_000)
}

// pairIntents registers two agents, submits opposite $1,000 BTC intents at
// 10x, and matches them.
func (h *harness) pairIntents(t *testing.T) domain.Match {
	t.Helper()
	ctx := context.Background()

	a, err := h.registry.RegisterAgent(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, err := h.registry.RegisterAgent(ctx, "0xbbb")
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	h.fund(t, a.Wallet, 2_000_000_000)
	h.fund(t, b.Wallet, 2_000_000_000)

	long, err := h.registry.SubmitIntent(ctx, a.ID, registry.IntentParams{
		Direction: domain.DirectionLong, Instrument: "BTC-PERP",
		SizeUSD: intentSize, Leverage: 10, TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("submit long: %v", err)
	}
	short, err := h.registry.SubmitIntent(ctx, b.ID, registry.IntentParams{
		Direction: domain.DirectionShort, Instrument: "BTC-PERP",
		SizeUSD: intentSize, Leverage: 10, TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("submit short: %v", err)
	}

	m, err := h.matcher.Match(ctx, long.ID, short.ID)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	return m
}

func TestSettleMatchOpensBothPositions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)

	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	got, _ := h.matches.GetByID(ctx, m.ID)
	if got.Status != domain.MatchStatusExecuted {
		t.Fatalf("match status = %s, want executed", got.Status)
	}
	if got.LedgerTxRef == "" || got.ExecutedAt == nil {
		t.Error("executed match missing tx ref or timestamp")
	}
	if got.ExecPrice != btcPrice {
		t.Errorf("exec price = %d, want %d", got.ExecPrice, btcPrice)
	}

	for _, intentID := range []string{m.TakerIntent, m.MakerIntent} {
		intent, _ := h.intents.GetByID(ctx, intentID)
		if intent.Status != domain.IntentStatusExecuted {
			t.Errorf("intent %s status = %s, want executed", intentID, intent.Status)
		}
	}

	for _, wallet := range []string{"0xaaa", "0xbbb"} {
		pos, err := h.positions.GetOpenByOwner(ctx, wallet, "BTC-PERP")
		if err != nil {
			t.Fatalf("position for %s: %v", wallet, err)
		}
		if pos.Status != domain.PositionStatusOpen {
			t.Errorf("position status = %s, want open", pos.Status)
		}
		if pos.EntryPrice != btcPrice {
			t.Errorf("entry price = %d, want %d", pos.EntryPrice, btcPrice)
		}
		if pos.Margin != intentSize {
			t.Errorf("margin = %d, want %d", pos.Margin, intentSize)
		}
	}

	long, _ := h.positions.GetOpenByOwner(ctx, "0xaaa", "BTC-PERP")
	short, _ := h.positions.GetOpenByOwner(ctx, "0xbbb", "BTC-PERP")
	if long.SizeUSD <= 0 || short.SizeUSD >= 0 {
		t.Errorf("signed sizes: long %d, short %d", long.SizeUSD, short.SizeUSD)
	}

	// One taker and one maker fee on the settled notional.
	var taker, maker int
	for _, agentID := range []string{m.TakerAgent, m.MakerAgent} {
		recs, _ := h.fees.ListByAgent(ctx, agentID, domain.ListOpts{})
		for _, rec := range recs {
			switch rec.Type {
			case domain.FeeTypeTaker:
				taker++
				if rec.AmountUSD != 500_000 { // $1,000 * 0.05%
					t.Errorf("taker fee = %d, want 500000", rec.AmountUSD)
				}
			case domain.FeeTypeMaker:
				maker++
				if rec.AmountUSD != 200_000 { // $1,000 * 0.02%
					t.Errorf("maker fee = %d, want 200000", rec.AmountUSD)
				}
			}
		}
	}
	if taker != 1 || maker != 1 {
		t.Errorf("fee records: %d taker, %d maker, want 1 each", taker, maker)
	}

	// Margin moved out of both collateral accounts.
	bal, _ := h.bridge.CollateralBalance(ctx, "0xaaa")
	if bal != 1_000_000_000 {
		t.Errorf("collateral after open = %d, want 1_000_000_000", bal)
	}
}

func TestSettleMatchIdempotentOnExecuted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)

	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	total := h.ledger.TotalBalance()

	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if h.ledger.TotalBalance() != total {
		t.Error("second settle moved collateral")
	}
}

func TestSettleMatchFailsAndCancelsIntents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)

	// Drain the maker's collateral: the taker's open confirms first, then
	// the maker's open is rejected and the taker side must be compensated.
	makerWallet := "0xaaa"
	makerAccount := ledger.DeriveAccount(testProgram, makerWallet)
	drain, _ := h.ledger.AccountBalance(ctx, makerAccount)
	payload, _ := ledger.Withdraw.Encode(map[string]int64{"amount": drain})
	bh, _ := h.ledger.RecentBlockhash(ctx)
	if _, err := h.ledger.Submit(ctx, ledger.Transaction{Blockhash: bh, Accounts: []ledger.Address{makerAccount}, Payload: payload}); err != nil {
		t.Fatalf("drain: %v", err)
	}

	err := h.bridge.SettleMatch(ctx, m.ID)
	if err == nil {
		t.Fatal("settlement succeeded with drained collateral")
	}

	got, _ := h.matches.GetByID(ctx, m.ID)
	if got.Status != domain.MatchStatusFailed {
		t.Fatalf("match status = %s, want failed", got.Status)
	}
	for _, intentID := range []string{m.TakerIntent, m.MakerIntent} {
		intent, _ := h.intents.GetByID(ctx, intentID)
		if intent.Status != domain.IntentStatusCancelled {
			t.Errorf("intent %s status = %s, want cancelled", intentID, intent.Status)
		}
	}

	// The first side's confirmed open was compensated: no ledger position
	// and no registry position remains open for either owner.
	for _, wallet := range []string{"0xaaa", "0xbbb"} {
		if _, err := h.positions.GetOpenByOwner(ctx, wallet, "BTC-PERP"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("open position remains for %s after failed settlement", wallet)
		}
		if h.ledger.PositionOpen(ledger.DerivePosition(testProgram, wallet, 0)) {
			t.Errorf("ledger position remains for %s after failed settlement", wallet)
		}
	}
}

// pendingStatusClient wraps the memory ledger with a status endpoint that
// never resolves, so every confirmation poll runs out the window.
type pendingStatusClient struct{ *ledger.Memory }

func (pendingStatusClient) Status(context.Context, string) (ledger.TxStatus, error) {
	return ledger.TxStatusPending, nil
}

func TestSettleMatchUnknownOutcomeHoldsPosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)

	cfg := DefaultConfig(testProgram)
	cfg.RetryBackoff = time.Millisecond
	cfg.ConfirmInterval = time.Millisecond
	cfg.ConfirmTimeout = 20 * time.Millisecond
	stalled := New(cfg, Deps{
		Client:    pendingStatusClient{h.ledger},
		Registry:  h.registry,
		Agents:    h.agents,
		Intents:   h.intents,
		Matches:   h.matches,
		Positions: h.positions,
		Fees:      h.fees,
		Schedule:  fees.Default(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	err := stalled.SettleMatch(ctx, m.ID)
	var subErr *domain.LedgerSubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("got %v, want LedgerSubmissionError", err)
	}
	if subErr.Status != "unknown" {
		t.Fatalf("classification = %q, want unknown", subErr.Status)
	}

	// The open may have landed on ledger. The row must be held in opening
	// for a status poll, never retired as a definite failure.
	taker, err := h.agents.GetByID(ctx, m.TakerAgent)
	if err != nil {
		t.Fatalf("taker agent: %v", err)
	}
	pos, err := h.positions.GetOpenByOwner(ctx, taker.Wallet, "BTC-PERP")
	if err != nil {
		t.Fatalf("taker position after unknown outcome: %v", err)
	}
	if pos.Status != domain.PositionStatusOpening {
		t.Fatalf("position status = %s, want opening", pos.Status)
	}
}

func TestSettleMatchRetriesStaleBlockhash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)

	h.ledger.SubmitErrs = []error{ledger.ErrStaleBlockhash, ledger.ErrStaleBlockhash}

	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle with stale blockhashes: %v", err)
	}
	got, _ := h.matches.GetByID(ctx, m.ID)
	if got.Status != domain.MatchStatusExecuted {
		t.Fatalf("match status = %s, want executed", got.Status)
	}
}

func TestClosePositionRealizesPnL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)
	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	pos, _ := h.positions.GetOpenByOwner(ctx, "0xaaa", "BTC-PERP")

	// +2% at 10x on $1,000 margin realizes $200.
	exit := int64(71_400_000_000)
	if _, err := h.bridge.ClosePosition(ctx, pos.ID, exit, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	closed, _ := h.positions.GetByID(ctx, pos.ID)
	if closed.Status != domain.PositionStatusClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}
	if closed.RealizedPnL == nil || *closed.RealizedPnL != 200_000_000 {
		t.Fatalf("realized = %v, want 200_000_000", closed.RealizedPnL)
	}

	agent, _ := h.agents.GetByWallet(ctx, "0xaaa")
	if agent.RealizedPnL != 200_000_000 {
		t.Errorf("agent realized pnl = %d", agent.RealizedPnL)
	}
}

func TestClosePositionCapsLossAtMargin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)
	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	pos, _ := h.positions.GetOpenByOwner(ctx, "0xaaa", "BTC-PERP")

	// -12% at 10x on $1,000 margin is a $1,200 raw loss, but the ledger only
	// settles losses against posted margin. The registry records the same
	// capped amount.
	exit := int64(61_600_000_000)
	if _, err := h.bridge.ClosePosition(ctx, pos.ID, exit, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	closed, _ := h.positions.GetByID(ctx, pos.ID)
	if closed.RealizedPnL == nil || *closed.RealizedPnL != -intentSize {
		t.Fatalf("realized = %v, want %d", closed.RealizedPnL, int64(-intentSize))
	}

	agent, _ := h.agents.GetByWallet(ctx, "0xaaa")
	if agent.RealizedPnL != -intentSize {
		t.Errorf("agent realized pnl = %d, want %d", agent.RealizedPnL, int64(-intentSize))
	}
}

func TestClosePositionTwiceRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)
	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	pos, _ := h.positions.GetOpenByOwner(ctx, "0xaaa", "BTC-PERP")

	if _, err := h.bridge.ClosePosition(ctx, pos.ID, btcPrice, false); err != nil {
		t.Fatalf("close: %v", err)
	}

	total := h.ledger.TotalBalance()
	_, err := h.bridge.ClosePosition(ctx, pos.ID, btcPrice, false)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second close: got %v, want ErrInvalidState", err)
	}
	if h.ledger.TotalBalance() != total {
		t.Error("second close reached the ledger")
	}
}

func TestClosePositionLiquidationFee(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)
	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	pos, _ := h.positions.GetOpenByOwner(ctx, "0xaaa", "BTC-PERP")
	repBefore, _ := h.agents.GetByWallet(ctx, "0xaaa")

	if _, err := h.bridge.ClosePosition(ctx, pos.ID, pos.LiqPrice, true); err != nil {
		t.Fatalf("liquidation close: %v", err)
	}

	recs, _ := h.fees.ListByAgent(ctx, pos.AgentID, domain.ListOpts{})
	var liq *domain.FeeRecord
	for i := range recs {
		if recs[i].Type == domain.FeeTypeLiquidation {
			liq = &recs[i]
		}
	}
	if liq == nil {
		t.Fatal("no liquidation fee record")
	}
	if liq.AmountUSD != 5_000_000 { // $1,000 * 0.5%
		t.Errorf("liquidation fee = %d, want 5_000_000", liq.AmountUSD)
	}
	if liq.Reference != pos.ID {
		t.Errorf("fee reference = %s, want %s", liq.Reference, pos.ID)
	}

	agent, _ := h.agents.GetByWallet(ctx, "0xaaa")
	if agent.Reputation >= repBefore.Reputation {
		t.Errorf("reputation did not drop on liquidation: %f -> %f", repBefore.Reputation, agent.Reputation)
	}
}

func TestClosePositionRevertsOnTerminalFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	m := h.pairIntents(t)
	if err := h.bridge.SettleMatch(ctx, m.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	pos, _ := h.positions.GetOpenByOwner(ctx, "0xaaa", "BTC-PERP")

	// Exhaust all attempts with stale blockhashes: terminal, not applied.
	h.ledger.SubmitErrs = []error{ledger.ErrStaleBlockhash, ledger.ErrStaleBlockhash, ledger.ErrStaleBlockhash}

	_, err := h.bridge.ClosePosition(ctx, pos.ID, btcPrice, false)
	var subErr *domain.LedgerSubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("got %v, want LedgerSubmissionError", err)
	}
	if subErr.Status != "not_applied" || !subErr.Retryable {
		t.Errorf("classification = %q retryable=%v, want not_applied retryable", subErr.Status, subErr.Retryable)
	}

	// The position reopened and a retry succeeds.
	got, _ := h.positions.GetByID(ctx, pos.ID)
	if got.Status != domain.PositionStatusOpen {
		t.Fatalf("status after aborted close = %s, want open", got.Status)
	}
	if _, err := h.bridge.ClosePosition(ctx, pos.ID, btcPrice, false); err != nil {
		t.Fatalf("retry close: %v", err)
	}
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	agent, err := h.registry.RegisterAgent(ctx, "0xccc")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := h.bridge.Deposit(ctx, agent.ID, 500_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if bal, _ := h.bridge.CollateralBalance(ctx, agent.Wallet); bal != 500_000_000 {
		t.Fatalf("balance after deposit = %d", bal)
	}

	if _, err := h.bridge.Withdraw(ctx, agent.ID, 200_000_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bal, _ := h.bridge.CollateralBalance(ctx, agent.Wallet); bal != 300_000_000 {
		t.Fatalf("balance after withdraw = %d", bal)
	}

	_, err = h.bridge.Withdraw(ctx, agent.ID, 10_000_000_000)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("overdraft: got %v, want ErrInsufficientFunds", err)
	}

	if _, err := h.bridge.Deposit(ctx, agent.ID, -5); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("negative deposit: got %v, want ErrValidation", err)
	}
}
