package domain

import "time"

// AgentStatus tracks the lifecycle of a registered agent.
type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusActive    AgentStatus = "active"
	AgentStatusSuspended AgentStatus = "suspended"
)

// Agent is an autonomous trading participant identified by its wallet.
// Agents are never deleted; misbehaving agents are suspended.
type Agent struct {
	ID          string
	Wallet      string // checksummed secp256k1 address
	Status      AgentStatus
	Reputation  float64 // 0..1, matching tie-break
	TotalVolume int64   // micro-USD, cumulative settled notional
	TradeCount  int64
	RealizedPnL int64 // micro-USD
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CanTrade reports whether the agent may submit intents.
func (a Agent) CanTrade() bool {
	return a.Status == AgentStatusActive
}
