package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AgentStore persists registered agents.
type AgentStore interface {
	Create(ctx context.Context, agent Agent) error
	GetByID(ctx context.Context, id string) (Agent, error)
	GetByWallet(ctx context.Context, wallet string) (Agent, error)
	Update(ctx context.Context, agent Agent) error
}

// IntentStore persists trading intents. Transition is the single mutation
// path for intent status: it succeeds only when the stored status and
// version match the expected values, so exactly one of any set of
// concurrent transitions on the same intent can win.
type IntentStore interface {
	Create(ctx context.Context, intent TradingIntent) error
	GetByID(ctx context.Context, id string) (TradingIntent, error)
	ListOpen(ctx context.Context, instrument string, opts ListOpts) ([]TradingIntent, error)
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]TradingIntent, error)
	ListOpenExpired(ctx context.Context, now time.Time) ([]TradingIntent, error)
	// Transition compares (status, version) and, on match, advances the
	// intent to the next status, bumps the version, and records the
	// counterparty reference if non-empty. Returns ErrConflict when the
	// version check fails and ErrInvalidState when the stored status is not
	// the expected one.
	Transition(ctx context.Context, id string, from, to IntentStatus, version int64, matchedWith string) error
}

// MatchStore persists matches.
type MatchStore interface {
	Create(ctx context.Context, m Match) error
	GetByID(ctx context.Context, id string) (Match, error)
	UpdateStatus(ctx context.Context, id string, status MatchStatus, txRef string) error
	ListRecent(ctx context.Context, limit int) ([]Match, error)
}

// PositionStore persists ledger-mirrored positions.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	// GetOpenByOwner returns the non-closed position for an owner and
	// instrument, or ErrNotFound.
	GetOpenByOwner(ctx context.Context, owner, instrument string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	// Transition is the CAS guard for the settle-pending markers
	// (open->closing etc). Same semantics as IntentStore.Transition.
	Transition(ctx context.Context, id string, from, to PositionStatus, version int64) error
	SetRisk(ctx context.Context, id string, risk RiskState) error
	// Close zeroes a position in closing state, recording exit price and
	// realized PnL.
	Close(ctx context.Context, id string, exitPrice, realizedPnL int64) error
}

// FeeStore persists the append-only fee ledger.
type FeeStore interface {
	Insert(ctx context.Context, rec FeeRecord) error
	ListByAgent(ctx context.Context, agentID string, opts ListOpts) ([]FeeRecord, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]FeeRecord, error)
}
