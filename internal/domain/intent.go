package domain

import "time"

// Direction is the side of a perpetual-futures intent.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() int64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Opposite returns the inverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// IntentStatus tracks the intent lifecycle. Transitions are monotonic along
// open -> {matched -> executed | cancelled | expired}; terminal states are
// immutable.
type IntentStatus string

const (
	IntentStatusOpen      IntentStatus = "open"
	IntentStatusMatched   IntentStatus = "matched"
	IntentStatusExecuted  IntentStatus = "executed"
	IntentStatusCancelled IntentStatus = "cancelled"
	IntentStatusExpired   IntentStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusExecuted, IntentStatusCancelled, IntentStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo validates a single status transition.
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	switch s {
	case IntentStatusOpen:
		return next == IntentStatusMatched || next == IntentStatusCancelled || next == IntentStatusExpired
	case IntentStatusMatched:
		return next == IntentStatusExecuted
	}
	return false
}

// TradingIntent is an agent's expression of desired perp exposure.
// SizeUSD, RefPrice and all other monetary fields are fixed-point
// micro-units (1e6 per dollar).
type TradingIntent struct {
	ID            string
	AgentID       string
	Direction     Direction
	Instrument    string // symbol, e.g. "BTC-PERP"
	SizeUSD       int64  // posted margin, micro-USD
	Leverage      int    // >= 1
	MaxSlipBps    int    // max deviation of execution price from RefPrice
	MinCounterRep float64
	RefPrice      int64 // mark price at submission, micro-USD
	Status        IntentStatus
	MatchedWith   string // counterparty intent ID, set on match
	Version       int64  // optimistic concurrency control
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the intent's expiry has passed at now.
func (i TradingIntent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
