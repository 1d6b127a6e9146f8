package ledger

import (
	"context"
	"errors"
	"testing"
)

func submit(t *testing.T, m *Memory, schema *Schema, vals map[string]int64, accounts ...Address) string {
	t.Helper()
	payload, err := schema.Encode(vals)
	if err != nil {
		t.Fatalf("encode %s: %v", schema.Name, err)
	}
	bh, err := m.RecentBlockhash(context.Background())
	if err != nil {
		t.Fatalf("blockhash: %v", err)
	}
	ref, err := m.Submit(context.Background(), Transaction{Blockhash: bh, Accounts: accounts, Payload: payload})
	if err != nil {
		t.Fatalf("submit %s: %v", schema.Name, err)
	}
	return ref
}

func TestMemoryOpenCloseConservesCollateral(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	owner := DeriveAccount(testProgram, "wallet-a")
	market := DeriveMarket(testProgram, 0)
	pos := DerivePosition(testProgram, "wallet-a", 0)

	m.Fund(owner, 2_000_000_000)  // $2,000 collateral
	m.Fund(market, 50_000_000_000) // market account backs PnL payouts

	before := m.TotalBalance()

	// $10,000 long exposure at $70,000 on $1,000 margin.
	submit(t, m, OpenPosition, map[string]int64{
		"instrument":  0,
		"size":        10_000_000_000,
		"entry_price": 70_000_000_000,
		"margin":      1_000_000_000,
	}, owner, market, pos)

	if !m.PositionOpen(pos) {
		t.Fatal("position not open after confirmed open")
	}
	if bal, _ := m.AccountBalance(ctx, owner); bal != 1_000_000_000 {
		t.Fatalf("owner balance after open = %d, want margin deducted", bal)
	}
	if m.TotalBalance() != before {
		t.Fatalf("open leaked collateral: %d -> %d", before, m.TotalBalance())
	}

	// Close 1% up: pnl = 10_000 * 1% = $100.
	submit(t, m, ClosePosition, map[string]int64{
		"instrument": 0,
		"exit_price": 70_700_000_000,
	}, owner, market, pos)

	if m.PositionOpen(pos) {
		t.Fatal("position still open after close")
	}
	if bal, _ := m.AccountBalance(ctx, owner); bal != 2_100_000_000 {
		t.Fatalf("owner balance after close = %d, want 2_100_000_000", bal)
	}
	if bal, _ := m.AccountBalance(ctx, pos); bal != 0 {
		t.Fatalf("position account not zeroed: %d", bal)
	}
	if m.TotalBalance() != before {
		t.Fatalf("close leaked collateral: %d -> %d", before, m.TotalBalance())
	}
}

func TestMemoryDoubleCloseFails(t *testing.T) {
	m := NewMemory()
	owner := DeriveAccount(testProgram, "w")
	market := DeriveMarket(testProgram, 0)
	pos := DerivePosition(testProgram, "w", 0)
	m.Fund(owner, 1_000_000_000)
	m.Fund(market, 1_000_000_000)

	submit(t, m, OpenPosition, map[string]int64{
		"instrument": 0, "size": 1_000_000_000, "entry_price": 100_000_000, "margin": 100_000_000,
	}, owner, market, pos)
	submit(t, m, ClosePosition, map[string]int64{
		"instrument": 0, "exit_price": 100_000_000,
	}, owner, market, pos)

	payload, _ := ClosePosition.Encode(map[string]int64{"instrument": 0, "exit_price": 100_000_000})
	bh, _ := m.RecentBlockhash(context.Background())
	ref, err := m.Submit(context.Background(), Transaction{Blockhash: bh, Accounts: []Address{owner, market, pos}, Payload: payload})
	if err == nil {
		t.Fatal("second close applied")
	}
	if st, _ := m.Status(context.Background(), ref); st != TxStatusFailed {
		t.Errorf("second close status = %s, want failed", st)
	}
}

func TestMemoryInsufficientFunds(t *testing.T) {
	m := NewMemory()
	owner := DeriveAccount(testProgram, "poor")
	market := DeriveMarket(testProgram, 0)
	pos := DerivePosition(testProgram, "poor", 0)
	m.Fund(owner, 50)

	payload, _ := OpenPosition.Encode(map[string]int64{
		"instrument": 0, "size": 1_000, "entry_price": 100, "margin": 100,
	})
	bh, _ := m.RecentBlockhash(context.Background())
	_, err := m.Submit(context.Background(), Transaction{Blockhash: bh, Accounts: []Address{owner, market, pos}, Payload: payload})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if bal, _ := m.AccountBalance(context.Background(), owner); bal != 50 {
		t.Errorf("rejected open mutated balance: %d", bal)
	}
}

func TestMemoryStaleBlockhash(t *testing.T) {
	m := NewMemory()
	owner := DeriveAccount(testProgram, "w")
	bh, _ := m.RecentBlockhash(context.Background())
	m.Advance(blockhashWindow + 1)

	payload, _ := Deposit.Encode(map[string]int64{"amount": 10})
	_, err := m.Submit(context.Background(), Transaction{Blockhash: bh, Accounts: []Address{owner}, Payload: payload})
	if !errors.Is(err, ErrStaleBlockhash) {
		t.Fatalf("got %v, want ErrStaleBlockhash", err)
	}
	if bal, _ := m.AccountBalance(context.Background(), owner); bal != 0 {
		t.Errorf("stale submission applied: balance %d", bal)
	}
}

func TestMemoryInjectedSubmitErrors(t *testing.T) {
	m := NewMemory()
	owner := DeriveAccount(testProgram, "w")
	m.SubmitErrs = []error{ErrStaleBlockhash}

	payload, _ := Deposit.Encode(map[string]int64{"amount": 10})
	bh, _ := m.RecentBlockhash(context.Background())
	tx := Transaction{Blockhash: bh, Accounts: []Address{owner}, Payload: payload}

	if _, err := m.Submit(context.Background(), tx); !errors.Is(err, ErrStaleBlockhash) {
		t.Fatalf("injected error not surfaced: %v", err)
	}
	// The queue is drained; the retry lands.
	bh, _ = m.RecentBlockhash(context.Background())
	tx.Blockhash = bh
	if _, err := m.Submit(context.Background(), tx); err != nil {
		t.Fatalf("retry after injected error: %v", err)
	}
	if bal, _ := m.AccountBalance(context.Background(), owner); bal != 10 {
		t.Errorf("deposit not applied on retry: %d", bal)
	}
}

func TestMemoryWithdraw(t *testing.T) {
	m := NewMemory()
	owner := DeriveAccount(testProgram, "w")
	m.Fund(owner, 100)

	submit(t, m, Withdraw, map[string]int64{"amount": 60}, owner)
	if bal, _ := m.AccountBalance(context.Background(), owner); bal != 40 {
		t.Fatalf("balance after withdraw = %d, want 40", bal)
	}

	payload, _ := Withdraw.Encode(map[string]int64{"amount": 60})
	bh, _ := m.RecentBlockhash(context.Background())
	_, err := m.Submit(context.Background(), Transaction{Blockhash: bh, Accounts: []Address{owner}, Payload: payload})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft: got %v, want ErrInsufficientFunds", err)
	}
}
