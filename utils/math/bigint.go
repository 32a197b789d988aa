package math

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenominator is 100% expressed in basis points
const BpsDenominator = 10000

var bpsDenominator = big.NewInt(BpsDenominator)

// Bps returns amount * bps / 10000, truncated
func Bps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, bpsDenominator)
}

// PriceImpactBps compares the effective rate of a full-size trade against a
// small sample trade through the same route:
//
//	impact = (sampleOut*amountIn - amountOut*sampleIn) * 10000 / (sampleOut*amountIn)
//
// The result is clamped to [0, 10000]. A zero sample output means the route
// cannot absorb even the sample and is reported as total impact.
func PriceImpactBps(amountIn, amountOut, sampleIn, sampleOut *big.Int) uint64 {
	if sampleIn == nil || sampleIn.Sign() <= 0 || amountIn == nil || amountIn.Sign() <= 0 {
		return 0
	}
	if sampleOut == nil || sampleOut.Sign() <= 0 {
		return BpsDenominator
	}
	if amountOut == nil {
		amountOut = new(big.Int)
	}

	ideal := new(big.Int).Mul(sampleOut, amountIn)
	actual := new(big.Int).Mul(amountOut, sampleIn)
	num := new(big.Int).Sub(ideal, actual)
	if num.Sign() <= 0 {
		return 0
	}

	num.Mul(num, bpsDenominator)
	num.Quo(num, ideal)
	if num.Cmp(bpsDenominator) > 0 {
		return BpsDenominator
	}
	return num.Uint64()
}

// ToDecimal converts a raw token amount into whole units
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// FormatUnits renders a raw amount in whole units, e.g. "12.5"
func FormatUnits(amount *big.Int, decimals uint8) string {
	return ToDecimal(amount, decimals).String()
}

// ParseUnits converts a human readable amount ("2500", "0.5") into the raw
// integer amount for a token with the given decimals. Extra precision beyond
// the token decimals is truncated.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}
