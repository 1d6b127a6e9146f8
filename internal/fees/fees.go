// Package fees implements the pure, versioned fee policy. A Schedule has no
// side effects; callers (settlement bridge, liquidation monitor) are
// responsible for recording and deducting the amounts it computes.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// Schedule is an immutable set of fee rates. Any rate change must ship as a
// new version so historical FeeRecords remain reproducible.
type Schedule struct {
	version int
	rates   map[domain.FeeType]decimal.Decimal
}

// CurrentVersion is the version of the built-in default schedule.
const CurrentVersion = 1

var defaultRates = map[domain.FeeType]decimal.Decimal{
	domain.FeeTypeTaker:       decimal.RequireFromString("0.0005"),
	domain.FeeTypeMaker:       decimal.RequireFromString("0.0002"),
	domain.FeeTypeFunding:     decimal.RequireFromString("0.0001"), // per settlement period
	domain.FeeTypeLiquidation: decimal.RequireFromString("0.005"),
}

// Default returns the current built-in schedule.
func Default() *Schedule {
	return &Schedule{version: CurrentVersion, rates: defaultRates}
}

// NewSchedule builds a custom schedule. Rates are decimal strings, e.g.
// "0.0005" for 5 bps. Missing fee types fall back to the default rates.
func NewSchedule(version int, rates map[domain.FeeType]string) (*Schedule, error) {
	merged := make(map[domain.FeeType]decimal.Decimal, len(defaultRates))
	for t, r := range defaultRates {
		merged[t] = r
	}
	for t, s := range rates {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("fees: rate for %s: %w", t, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("fees: rate for %s must not be negative", t)
		}
		merged[t] = d
	}
	return &Schedule{version: version, rates: merged}, nil
}

// Version returns the schedule version stamped onto FeeRecords.
func (s *Schedule) Version() int { return s.version }

// Rate returns the decimal rate for the given fee type as a string.
func (s *Schedule) Rate(t domain.FeeType) string {
	return s.rates[t].String()
}

// Fee computes notional * rate(type) in micro-USD, rounded half-even.
// It is linear in notional and deterministic for identical inputs.
func (s *Schedule) Fee(t domain.FeeType, notionalUSD int64) int64 {
	rate, ok := s.rates[t]
	if !ok {
		return 0
	}
	return decimal.NewFromInt(notionalUSD).Mul(rate).RoundBank(0).IntPart()
}
