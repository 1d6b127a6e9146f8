package domain

import "time"

// FeeType names the event that triggered a fee.
type FeeType string

const (
	FeeTypeTaker       FeeType = "taker"
	FeeTypeMaker       FeeType = "maker"
	FeeTypeFunding     FeeType = "funding"
	FeeTypeLiquidation FeeType = "liquidation"
)

// FeeRecord is one row of the append-only off-chain fee ledger. Every
// confirmed on-ledger mutation has exactly one FeeRecord per triggering
// event type. Records are never mutated.
type FeeRecord struct {
	ID              string
	Type            FeeType
	AgentID         string
	AmountUSD       int64  // micro-USD
	Rate            string // decimal rate applied, e.g. "0.0005"
	ScheduleVersion int    // fee schedule version, keeps history reproducible
	Reference       string // triggering match or position ID
	CreatedAt       time.Time
}
