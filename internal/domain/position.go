package domain

import "time"

// PositionStatus tracks a ledger-mirrored position. The settle-pending
// states are the sole deduplication mechanism between the liquidation
// monitor and agent-submitted close requests: a position in closing may not
// receive a second close instruction.
type PositionStatus string

const (
	PositionStatusOpening PositionStatus = "opening" // open instruction in flight
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing" // close instruction in flight
	PositionStatusClosed  PositionStatus = "closed"
)

// RiskState is the liquidation-monitor state machine for an open position.
type RiskState string

const (
	RiskStateHealthy    RiskState = "healthy"
	RiskStateAtRisk     RiskState = "at_risk"
	RiskStateLiquidated RiskState = "liquidated"
)

// Position mirrors on-ledger perp state for one owner and instrument.
// Created on open-instruction confirmation, mutated only by a confirmed
// close, zeroed on close confirmation. Full close only; no partial-close
// contract exists.
type Position struct {
	ID              string
	AgentID         string
	Owner           string // wallet
	Instrument      string
	InstrumentIndex uint8
	SizeUSD         int64 // signed margin, micro-USD; positive=long, negative=short
	Leverage        int
	EntryPrice      int64 // micro-USD
	Margin          int64 // posted collateral, micro-USD
	LiqPrice        int64 // computed at open, micro-USD
	Status          PositionStatus
	Risk            RiskState
	MatchID         string
	Version         int64
	OpenedAt        time.Time
	ClosedAt        *time.Time
	ExitPrice       *int64
	RealizedPnL     *int64 // micro-USD, set on close
}

// Direction returns the position's side derived from the signed size.
func (p Position) Direction() Direction {
	if p.SizeUSD < 0 {
		return DirectionShort
	}
	return DirectionLong
}

// AbsSize returns the unsigned margin size in micro-USD.
func (p Position) AbsSize() int64 {
	if p.SizeUSD < 0 {
		return -p.SizeUSD
	}
	return p.SizeUSD
}
