// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// =========================================================================
// Rounding helpers
// =========================================================================

func mulDiv(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denominator)
}

func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

func divRoundingUp(a, b *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(a, b, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// =========================================================================
// Token amounts between prices
// =========================================================================

// GetAmount0Delta returns the amount of currency0 between two prices for the
// given liquidity: L * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func GetAmount0Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtRatioB), sqrtRatioA)
	}
	return new(big.Int).Quo(mulDiv(numerator1, numerator2, sqrtRatioB), sqrtRatioA)
}

// GetAmount1Delta returns the amount of currency1 between two prices for the
// given liquidity: L * (sqrtB - sqrtA).
func GetAmount1Delta(sqrtRatioA, sqrtRatioB, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioA.Cmp(sqrtRatioB) > 0 {
		sqrtRatioA, sqrtRatioB = sqrtRatioB, sqrtRatioA
	}
	diff := new(big.Int).Sub(sqrtRatioB, sqrtRatioA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q96)
	}
	return mulDiv(liquidity, diff, Q96)
}

// =========================================================================
// Next price from an amount
// =========================================================================

// GetNextSqrtPriceFromInput returns the price after adding amountIn of the
// input token, rounding so the price never overshoots the exact value.
func GetNextSqrtPriceFromInput(sqrtPriceX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPriceX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price=%s liquidity=%s", ErrInvalidSqrtPrice, sqrtPriceX96, liquidity)
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtPriceX96, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtPriceX96, liquidity, amountIn, true)
}

// GetNextSqrtPriceFromOutput returns the price after removing amountOut of
// the output token.
func GetNextSqrtPriceFromOutput(sqrtPriceX96, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPriceX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price=%s liquidity=%s", ErrInvalidSqrtPrice, sqrtPriceX96, liquidity)
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount1RoundingDown(sqrtPriceX96, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0RoundingUp(sqrtPriceX96, liquidity, amountOut, false)
}

func nextSqrtPriceFromAmount0RoundingUp(sqrtPriceX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPriceX96), nil
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPriceX96)

	if add {
		denominator := new(big.Int).Add(numerator1, product)
		return mulDivRoundingUp(numerator1, sqrtPriceX96, denominator), nil
	}
	if numerator1.Cmp(product) <= 0 {
		return nil, fmt.Errorf("%w: output exceeds reserves", ErrInsufficientLiquidity)
	}
	denominator := new(big.Int).Sub(numerator1, product)
	return mulDivRoundingUp(numerator1, sqrtPriceX96, denominator), nil
}

func nextSqrtPriceFromAmount1RoundingDown(sqrtPriceX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	shifted := new(big.Int).Lsh(amount, 96)
	if add {
		quotient := new(big.Int).Quo(shifted, liquidity)
		return quotient.Add(quotient, sqrtPriceX96), nil
	}
	quotient := divRoundingUp(shifted, liquidity)
	if sqrtPriceX96.Cmp(quotient) <= 0 {
		return nil, fmt.Errorf("%w: output exceeds reserves", ErrInsufficientLiquidity)
	}
	return quotient.Sub(sqrtPriceX96, quotient), nil
}
