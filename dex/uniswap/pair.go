package uniswap

import (
	"math/big"
)

const feeDenominator = 10000

// GetAmountOut applies the constant-product formula with the pool fee taken
// from the input:
//
//	out = in*(1-f)*reserveOut / (reserveIn + in*(1-f))
//
// evaluated in integers with f in basis points and the result truncated.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || feeBps >= feeDenominator {
		return new(big.Int)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(feeDenominator-feeBps)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	denominator.Add(denominator, amountInWithFee)

	return numerator.Quo(numerator, denominator)
}
