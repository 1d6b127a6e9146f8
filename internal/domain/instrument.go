package domain

// Instrument defines one tradable perpetual market. The instrument index is
// part of the ledger wire format and must be stable across deployments.
type Instrument struct {
	Symbol          string
	Index           uint8
	MaxLeverage     int
	// MaintMarginFrac is the maintenance-margin fraction used by the PnL
	// evaluator. It is the single source of truth for liquidation math.
	MaintMarginFrac float64
}

// DefaultInstruments is the built-in market set. Index assignments are
// append-only; reusing an index breaks ledger compatibility.
func DefaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "BTC-PERP", Index: 0, MaxLeverage: 20, MaintMarginFrac: 0.8},
		{Symbol: "ETH-PERP", Index: 1, MaxLeverage: 20, MaintMarginFrac: 0.8},
		{Symbol: "SOL-PERP", Index: 2, MaxLeverage: 10, MaintMarginFrac: 0.8},
	}
}
