package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrUnknownIntent = errors.New("unknown intent")
	ErrValidation    = errors.New("invalid parameters")
	ErrInvalidState  = errors.New("invalid state transition")
	ErrConflict      = errors.New("concurrent modification")
	ErrSlippage      = errors.New("slippage exceeded")
	ErrRiskLimit     = errors.New("risk limit exceeded")
	ErrRateLimited   = errors.New("rate limited")
	ErrAgentBanned   = errors.New("agent banned")
	ErrStaleMark     = errors.New("mark price stale")
	ErrLockHeld      = errors.New("lock already held")
	ErrBadSignature  = errors.New("signature verification failed")
)

// LedgerSubmissionError wraps a failed ledger submission with the last known
// transaction status so callers can distinguish "nothing happened" from
// "already applied".
type LedgerSubmissionError struct {
	TxRef     string
	Status    string // "not_applied", "unknown", "rejected"
	Retryable bool
	Err       error
}

func (e *LedgerSubmissionError) Error() string {
	if e.TxRef == "" {
		return "ledger submission failed (" + e.Status + "): " + e.Err.Error()
	}
	return "ledger submission " + e.TxRef + " failed (" + e.Status + "): " + e.Err.Error()
}

func (e *LedgerSubmissionError) Unwrap() error { return e.Err }

// ReconciliationDivergence marks a confirmed on-ledger mutation whose
// registry update failed. The ledger is now the source of truth; this
// condition is fatal for the affected entity and requires out-of-band
// repair. It must be logged, never dropped.
type ReconciliationDivergence struct {
	Entity string // match or position ID
	TxRef  string
	Err    error
}

func (e *ReconciliationDivergence) Error() string {
	return "reconciliation divergence on " + e.Entity + " (tx " + e.TxRef + "): " + e.Err.Error()
}

func (e *ReconciliationDivergence) Unwrap() error { return e.Err }
