package ledger

import (
	"context"
	"errors"
)

// Submission failure classes. Stale blockhashes are retried with a fresh
// handle; insufficient funds is a terminal business rejection.
var (
	ErrStaleBlockhash    = errors.New("ledger: blockhash expired")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrTxNotFound        = errors.New("ledger: transaction not found")
)

// TxStatus is the ledger-side view of a submitted transaction.
type TxStatus string

const (
	// TxStatusPending means the transaction is seen but not yet final.
	TxStatusPending TxStatus = "pending"
	// TxStatusConfirmed means the state mutation is applied and final.
	TxStatusConfirmed TxStatus = "confirmed"
	// TxStatusFailed means the transaction is final and did not apply.
	TxStatusFailed TxStatus = "failed"
	// TxStatusUnknown means the ledger has no record of the transaction.
	// It may still land; callers must status-poll before resubmitting.
	TxStatusUnknown TxStatus = "unknown"
)

// Transaction is one instruction submission: a recent blockhash handle, the
// accounts the instruction touches in the order the program expects, and the
// encoded payload.
type Transaction struct {
	Blockhash string
	Accounts  []Address
	Payload   []byte
}

// Client submits instructions to the settlement ledger. Implementations are
// the JSON RPC client and the in-memory ledger used by tests and dev mode.
type Client interface {
	// RecentBlockhash returns a fresh submission handle.
	RecentBlockhash(ctx context.Context) (string, error)
	// Submit sends a transaction and returns its reference. A returned
	// error wrapping ErrStaleBlockhash means nothing was applied.
	Submit(ctx context.Context, tx Transaction) (string, error)
	// Status reports the current status of a submitted transaction.
	Status(ctx context.Context, txRef string) (TxStatus, error)
	// AccountBalance reads an account's balance in micro-USD.
	AccountBalance(ctx context.Context, addr Address) (int64, error)
}
