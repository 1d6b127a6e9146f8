// Package pnl implements mark-to-market PnL and liquidation-threshold math
// for perpetual positions. All prices and USD amounts are fixed-point
// micro-units (1e6 per dollar); intermediate products run through big.Int to
// avoid int64 overflow.
//
// The model is deliberately single-position: each position is margined in
// isolation, with no cross-margining between an agent's positions. That is a
// modeling choice, not an omission.
package pnl

import "math/big"

// mmfDenom is the fixed-point denominator for maintenance-margin fractions.
const mmfDenom = 10_000

// Evaluator computes unrealized PnL and liquidation thresholds.
type Evaluator struct {
	maintMarginBps int64 // maintenance-margin fraction in 1/10000 units
}

// NewEvaluator creates an Evaluator for an instrument's maintenance-margin
// fraction (0 < frac < 1).
func NewEvaluator(maintMarginFrac float64) *Evaluator {
	return &Evaluator{maintMarginBps: int64(maintMarginFrac*mmfDenom + 0.5)}
}

// Unrealized computes size * leverage * sign * (mark - entry) / entry in
// micro-USD. sizeUSD is the unsigned posted margin; sign is +1 for long and
// -1 for short. Result is zero when mark == entry.
func Unrealized(sizeUSD int64, leverage int, sign int64, entryPrice, markPrice int64) int64 {
	if entryPrice == 0 {
		return 0
	}
	num := new(big.Int).SetInt64(sizeUSD)
	num.Mul(num, big.NewInt(int64(leverage)))
	num.Mul(num, big.NewInt(sign))
	num.Mul(num, big.NewInt(markPrice-entryPrice))
	num.Quo(num, big.NewInt(entryPrice))
	return num.Int64()
}

// LiquidationPrice returns the price at which losses consume the
// maintenance-margin fraction of the posted margin: the entry price adjusted
// by maintMarginFrac/leverage in the adverse direction.
//
//	long:  entry * (1 - mmf/leverage)
//	short: entry * (1 + mmf/leverage)
func (e *Evaluator) LiquidationPrice(entryPrice int64, leverage int, sign int64) int64 {
	adj := new(big.Int).SetInt64(entryPrice)
	adj.Mul(adj, big.NewInt(e.maintMarginBps))
	adj.Quo(adj, big.NewInt(int64(leverage)*mmfDenom))
	if sign > 0 {
		return entryPrice - adj.Int64()
	}
	return entryPrice + adj.Int64()
}

// Breached reports whether mark has crossed the liquidation price in the
// adverse direction. The boundary itself triggers: a long is liquidated at
// mark <= liqPrice, a short at mark >= liqPrice.
func Breached(markPrice, liqPrice int64, sign int64) bool {
	if sign > 0 {
		return markPrice <= liqPrice
	}
	return markPrice >= liqPrice
}

// AtRiskPrice returns the warning threshold where bufferFracBps/10000 of the
// gap between entry and liquidation price has been consumed.
func AtRiskPrice(entryPrice, liqPrice int64, sign int64, bufferFracBps int64) int64 {
	gap := entryPrice - liqPrice
	if sign < 0 {
		gap = liqPrice - entryPrice
	}
	consumed := new(big.Int).SetInt64(gap)
	consumed.Mul(consumed, big.NewInt(bufferFracBps))
	consumed.Quo(consumed, big.NewInt(mmfDenom))
	if sign > 0 {
		return entryPrice - consumed.Int64()
	}
	return entryPrice + consumed.Int64()
}
