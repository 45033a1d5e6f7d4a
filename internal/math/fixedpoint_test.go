package math_test

import (
	"testing"

	riskmath "github.com/legasicrypto/borrowing-protocol/internal/math"
)

// ============================================================================
// Test: MulDiv
// ============================================================================

func TestMulDiv_Truncates(t *testing.T) {
	if got := riskmath.MulDiv(10, 3, 4); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}

func TestMulDiv_LargeOperands_NoOverflow(t *testing.T) {
	// a * b overflows int64; the int128 path must survive it.
	a := int64(9_000_000_000_000_000)
	b := int64(10_000)
	if got := riskmath.MulDiv(a, b, b); got != a {
		t.Errorf("expected %d, got %d", a, got)
	}
}

// ============================================================================
// Test: Collateral Valuation
// ============================================================================

func TestComputeCollateralValue(t *testing.T) {
	// 2.5 units at price 1.2 with 1e6 scale.
	got := riskmath.ComputeCollateralValue(2_500_000, 1_200_000, 1_000_000)
	if got != 3_000_000 {
		t.Errorf("expected 3000000, got %d", got)
	}
}

// ============================================================================
// Test: LTV
// ============================================================================

func TestComputeLTVBps(t *testing.T) {
	cases := []struct {
		name            string
		debt            int64
		collateralValue int64
		want            int64
	}{
		{"half borrowed", 500, 1_000, 5000},
		{"fully borrowed", 1_000, 1_000, 10000},
		{"zero debt", 0, 1_000, 0},
		{"negative debt", -5, 1_000, 0},
		{"zero collateral with debt", 500, 0, riskmath.BpsScale * riskmath.BpsScale},
		{"negative collateral with debt", 500, -1, riskmath.BpsScale * riskmath.BpsScale},
	}

	for _, tc := range cases {
		if got := riskmath.ComputeLTVBps(tc.debt, tc.collateralValue); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

// ============================================================================
// Test: Liquidation Sizing
// ============================================================================

func TestSliceAmount(t *testing.T) {
	if got := riskmath.SliceAmount(1_000, 2500); got != 250 {
		t.Errorf("expected 250, got %d", got)
	}
	if got := riskmath.SliceAmount(3, 2500); got != 0 {
		t.Errorf("tiny debt truncates to zero, got %d", got)
	}
}

func TestApplySlippageFloor(t *testing.T) {
	if got := riskmath.ApplySlippageFloor(1_000, 100); got != 990 {
		t.Errorf("expected 990, got %d", got)
	}
	if got := riskmath.ApplySlippageFloor(1_000, 0); got != 1_000 {
		t.Errorf("zero slippage keeps the notional, got %d", got)
	}
}

// ============================================================================
// Test: Jump Measurement
// ============================================================================

func TestJumpBps(t *testing.T) {
	cases := []struct {
		prev, next, want int64
	}{
		{1_000_000, 1_050_000, 500},
		{1_000_000, 950_000, 500},
		{1_000_000, 1_000_000, 0},
		{1_000_000, 2_000_000, 10000},
	}

	for _, tc := range cases {
		if got := riskmath.JumpBps(tc.prev, tc.next); got != tc.want {
			t.Errorf("JumpBps(%d, %d): expected %d, got %d", tc.prev, tc.next, tc.want, got)
		}
	}
}

// ============================================================================
// Test: Rounding
// ============================================================================

func TestDivideInt128_BankersRounding(t *testing.T) {
	cases := []struct {
		num, denom, want int64
	}{
		{5, 2, 2},  // 2.5 rounds to even 2
		{7, 2, 4},  // 3.5 rounds to even 4
		{9, 4, 2},  // 2.25 rounds down
		{11, 4, 3}, // 2.75 rounds up
	}

	for _, tc := range cases {
		num := riskmath.MultiplyInt128(tc.num, 1)
		if got := riskmath.DivideInt128(num, tc.denom, riskmath.RoundHalfEven); got != tc.want {
			t.Errorf("%d / %d: expected %d, got %d", tc.num, tc.denom, tc.want, got)
		}
	}
}
