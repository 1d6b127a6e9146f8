package domain

import "time"

// MatchStatus tracks a match from pairing through ledger settlement.
type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"  // intents paired, settlement not submitted
	MatchStatusSettling MatchStatus = "settling" // open instruction in flight
	MatchStatusExecuted MatchStatus = "executed" // confirmed on ledger
	MatchStatusFailed   MatchStatus = "failed"   // settlement rejected, intents reopened
)

// Match pairs two compatible intents. The two intents always reference
// opposite directions, the same instrument, and distinct agents. Immutable
// once executed.
type Match struct {
	ID           string
	TakerIntent  string // later-created intent
	MakerIntent  string // earlier-created, resting intent
	TakerAgent   string
	MakerAgent   string
	Instrument   string
	SizeUSD      int64 // min of the two intents' sizes, micro-USD
	ExecPrice    int64 // mark price at match time, micro-USD
	Status       MatchStatus
	LedgerTxRef  string // set on submission
	CreatedAt    time.Time
	ExecutedAt   *time.Time
}
