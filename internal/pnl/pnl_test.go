package pnl

import "testing"

const (
	usd   = int64(1_000_000) // micro-units per dollar
	long  = int64(1)
	short = int64(-1)
)

func TestUnrealized_ZeroAtEntry(t *testing.T) {
	got := Unrealized(1000*usd, 10, long, 70_000*usd, 70_000*usd)
	if got != 0 {
		t.Errorf("pnl at entry price = %d, want 0", got)
	}
}

func TestUnrealized_SignFlipsWithDirection(t *testing.T) {
	entry := 70_000 * usd
	mark := 71_400 * usd // +2%

	longPnL := Unrealized(1000*usd, 10, long, entry, mark)
	shortPnL := Unrealized(1000*usd, 10, short, entry, mark)

	if longPnL <= 0 {
		t.Errorf("long pnl on rally = %d, want positive", longPnL)
	}
	if shortPnL != -longPnL {
		t.Errorf("short pnl = %d, want %d (exact sign flip)", shortPnL, -longPnL)
	}

	// +2% on 10x leverage doubles into +20% of margin: $200.
	if longPnL != 200*usd {
		t.Errorf("long pnl = %d, want %d", longPnL, 200*usd)
	}
}

func TestUnrealized_ScalesWithLeverage(t *testing.T) {
	entry := 50_000 * usd
	mark := 49_500 * usd // -1%

	one := Unrealized(100*usd, 1, long, entry, mark)
	ten := Unrealized(100*usd, 10, long, entry, mark)

	if ten != one*10 {
		t.Errorf("10x pnl = %d, want %d", ten, one*10)
	}
}

func TestLiquidationPrice_Long(t *testing.T) {
	e := NewEvaluator(0.8)

	// entry 70000, 10x: liq = 70000 * (1 - 0.08) = 64400.
	got := e.LiquidationPrice(70_000*usd, 10, long)
	if got != 64_400*usd {
		t.Errorf("long liq price = %d, want %d", got, 64_400*usd)
	}
}

func TestLiquidationPrice_Short(t *testing.T) {
	e := NewEvaluator(0.8)

	// entry 70000, 10x: liq = 70000 * (1 + 0.08) = 75600.
	got := e.LiquidationPrice(70_000*usd, 10, short)
	if got != 75_600*usd {
		t.Errorf("short liq price = %d, want %d", got, 75_600*usd)
	}
}

func TestBreached_ExactBoundary(t *testing.T) {
	e := NewEvaluator(0.8)
	liq := e.LiquidationPrice(70_000*usd, 10, long)

	tests := []struct {
		name string
		mark int64
		want bool
	}{
		{"one unit above", liq + 1, false},
		{"exactly at", liq, true},
		{"one unit below", liq - 1, true},
	}
	for _, tt := range tests {
		if got := Breached(tt.mark, liq, long); got != tt.want {
			t.Errorf("%s: Breached(%d) = %v, want %v", tt.name, tt.mark, got, tt.want)
		}
	}
}

func TestBreached_ShortBoundary(t *testing.T) {
	e := NewEvaluator(0.8)
	liq := e.LiquidationPrice(70_000*usd, 10, short)

	if Breached(liq-1, liq, short) {
		t.Error("short one unit below liq price should not breach")
	}
	if !Breached(liq, liq, short) {
		t.Error("short exactly at liq price should breach")
	}
	if !Breached(liq+1, liq, short) {
		t.Error("short one unit above liq price should breach")
	}
}

func TestAtRiskPrice_Long(t *testing.T) {
	e := NewEvaluator(0.8)
	entry := int64(70_000 * usd)
	liq := e.LiquidationPrice(entry, 10, long)

	// 90% of the gap consumed.
	warn := AtRiskPrice(entry, liq, long, 9_000)
	if warn <= liq || warn >= entry {
		t.Fatalf("at-risk price %d not between liq %d and entry %d", warn, liq, entry)
	}

	wantGap := (entry - liq) / 10 // 10% of the gap remains
	if entryGap := warn - liq; entryGap != wantGap {
		t.Errorf("remaining gap = %d, want %d", entryGap, wantGap)
	}
}

func TestUnrealized_LargeValuesNoOverflow(t *testing.T) {
	// $100M margin at 20x with a 50% move would overflow naive int64 math
	// at micro-unit scale in the intermediate product.
	size := int64(100_000_000) * usd
	got := Unrealized(size, 20, long, 40_000*usd, 60_000*usd)

	// 20 * 0.5 = 10x margin.
	want := size * 10
	if got != want {
		t.Errorf("pnl = %d, want %d", got, want)
	}
}
