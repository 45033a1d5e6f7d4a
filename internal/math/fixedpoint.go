package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	PriceConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // Oracle prices
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // Debt and proceeds
)

// BpsScale is the basis-point denominator: 10000 bps = 100%
const BpsScale int64 = 10000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	if roundingMode == RoundHalfEven {
		// Banker's rounding: if remainder == denominator/2, round to even
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// MulDiv computes a * b / c through int128 with truncation
func MulDiv(a, b, c int64) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, c, RoundDown)
	putInt128(num)
	return result
}

// ComputeCollateralValue converts collateral units to quote units at the
// given oracle price
func ComputeCollateralValue(units, price, priceScale int64) int64 {
	return MulDiv(units, price, priceScale)
}

// ComputeLTVBps returns debt relative to collateral value in basis
// points. Zero collateral value with outstanding debt saturates to the
// full bps scale squared bound rather than dividing by zero.
func ComputeLTVBps(debt, collateralValue int64) int64 {
	if debt <= 0 {
		return 0
	}
	if collateralValue <= 0 {
		return BpsScale * BpsScale
	}
	return MulDiv(debt, BpsScale, collateralValue)
}

// SliceAmount returns the debt share one liquidation step raises
func SliceAmount(debt, sliceBps int64) int64 {
	return MulDiv(debt, sliceBps, BpsScale)
}

// ApplySlippageFloor haircuts a notional by the allowed slippage to get
// the minimum acceptable proceeds
func ApplySlippageFloor(notional, slippageBps int64) int64 {
	return MulDiv(notional, BpsScale-slippageBps, BpsScale)
}

// JumpBps measures the relative move between two prices in basis points
func JumpBps(prev, next int64) int64 {
	diff := next - prev
	if diff < 0 {
		diff = -diff
	}
	return MulDiv(diff, BpsScale, prev)
}
