package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// blockhashWindow is how many blockhashes stay valid on the in-memory
// ledger. Older handles are rejected with ErrStaleBlockhash.
const blockhashWindow = 4

type memPosition struct {
	instrument uint8
	size       int64
	entryPrice int64
	margin     int64
	open       bool
}

// Memory is an in-process ledger for tests and dev mode. It applies the
// instruction set synchronously and conserves collateral: margin moves from
// the owner's account into the position account on open, and back (adjusted
// by realized PnL against the market account) on close.
type Memory struct {
	mu        sync.Mutex
	seq       int
	balances  map[Address]int64
	positions map[Address]memPosition
	statuses  map[string]TxStatus

	// SubmitErrs is drained one error per Submit call before anything is
	// applied; tests use it to inject stale-blockhash and transient faults.
	SubmitErrs []error
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:  make(map[Address]int64),
		positions: make(map[Address]memPosition),
		statuses:  make(map[string]TxStatus),
	}
}

// Fund credits an account directly, bypassing the deposit instruction.
func (m *Memory) Fund(addr Address, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] += amount
}

// Advance expires outstanding blockhashes by moving the chain forward.
func (m *Memory) Advance(slots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq += slots
}

// RecentBlockhash issues a handle tied to the current slot.
func (m *Memory) RecentBlockhash(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("bh-%d", m.seq), nil
}

// Submit decodes and applies the transaction's instruction. Application is
// atomic: a rejected instruction mutates nothing and records a failed tx.
func (m *Memory) Submit(_ context.Context, tx Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SubmitErrs) > 0 {
		err := m.SubmitErrs[0]
		m.SubmitErrs = m.SubmitErrs[1:]
		if err != nil {
			return "", err
		}
	}

	var slot int
	if _, err := fmt.Sscanf(tx.Blockhash, "bh-%d", &slot); err != nil || m.seq-slot >= blockhashWindow {
		return "", fmt.Errorf("memory ledger: handle %q expired: %w", tx.Blockhash, ErrStaleBlockhash)
	}

	txRef := "memtx-" + uuid.New().String()
	if err := m.apply(tx); err != nil {
		m.statuses[txRef] = TxStatusFailed
		return txRef, err
	}
	m.statuses[txRef] = TxStatusConfirmed
	return txRef, nil
}

func (m *Memory) apply(tx Transaction) error {
	schema, vals, err := DecodePayload(tx.Payload)
	if err != nil {
		return err
	}

	switch schema {
	case Deposit:
		if len(tx.Accounts) < 1 {
			return fmt.Errorf("memory ledger: deposit needs the owner account")
		}
		m.balances[tx.Accounts[0]] += vals["amount"]
		return nil

	case Withdraw:
		if len(tx.Accounts) < 1 {
			return fmt.Errorf("memory ledger: withdraw needs the owner account")
		}
		owner := tx.Accounts[0]
		if m.balances[owner] < vals["amount"] {
			return fmt.Errorf("memory ledger: balance %d below withdrawal %d: %w", m.balances[owner], vals["amount"], ErrInsufficientFunds)
		}
		m.balances[owner] -= vals["amount"]
		return nil

	case OpenPosition:
		if len(tx.Accounts) < 3 {
			return fmt.Errorf("memory ledger: open needs owner, market, position accounts")
		}
		owner, posAddr := tx.Accounts[0], tx.Accounts[2]
		if p := m.positions[posAddr]; p.open {
			return fmt.Errorf("memory ledger: position %s already open", posAddr)
		}
		margin := vals["margin"]
		if m.balances[owner] < margin {
			return fmt.Errorf("memory ledger: balance %d below margin %d: %w", m.balances[owner], margin, ErrInsufficientFunds)
		}
		m.balances[owner] -= margin
		m.balances[posAddr] += margin
		m.positions[posAddr] = memPosition{
			instrument: uint8(vals["instrument"]),
			size:       vals["size"],
			entryPrice: vals["entry_price"],
			margin:     margin,
			open:       true,
		}
		return nil

	case ClosePosition:
		if len(tx.Accounts) < 3 {
			return fmt.Errorf("memory ledger: close needs owner, market, position accounts")
		}
		owner, market, posAddr := tx.Accounts[0], tx.Accounts[1], tx.Accounts[2]
		p := m.positions[posAddr]
		if !p.open {
			return fmt.Errorf("memory ledger: position %s not open", posAddr)
		}

		// Realized PnL settles against the market account; the position
		// account is zeroed. Losses are capped at posted margin.
		pnl := closePnL(p, vals["exit_price"])
		if pnl < -p.margin {
			pnl = -p.margin
		}
		m.balances[owner] += p.margin + pnl
		m.balances[market] -= pnl
		m.balances[posAddr] -= p.margin
		m.positions[posAddr] = memPosition{}
		return nil

	default:
		return fmt.Errorf("memory ledger: unhandled instruction %s", schema.Name)
	}
}

// closePnL mirrors the program's settlement arithmetic: signed size is the
// notional exposure in micro-USD, so pnl = size * (exit-entry) / entry.
func closePnL(p memPosition, exitPrice int64) int64 {
	if p.entryPrice == 0 {
		return 0
	}
	return p.size * (exitPrice - p.entryPrice) / p.entryPrice
}

// Status reports a submitted transaction's status; unrecorded refs are
// TxStatusUnknown.
func (m *Memory) Status(_ context.Context, txRef string) (TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[txRef]; ok {
		return st, nil
	}
	return TxStatusUnknown, nil
}

// AccountBalance reads an account's micro-USD balance.
func (m *Memory) AccountBalance(_ context.Context, addr Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr], nil
}

// PositionOpen reports whether a position account holds an open position.
func (m *Memory) PositionOpen(addr Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions[addr].open
}

// TotalBalance sums every account, for conservation assertions in tests.
func (m *Memory) TotalBalance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, b := range m.balances {
		total += b
	}
	return total
}

var _ Client = (*Memory)(nil)
