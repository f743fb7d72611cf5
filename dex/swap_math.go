// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"
)

var feeDenominator = big.NewInt(FeeDenominator)

// ComputeSwapStep computes the result of swapping within a single price
// range. A non-negative amountRemaining is an exact input, a negative one an
// exact output. The direction is implied by the target price: a target at
// or below the current price sells currency0.
func ComputeSwapStep(
	sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int,
	feePips uint24,
) (sqrtRatioNextX96, amountIn, amountOut, feeAmount *big.Int, err error) {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0
	fee := big.NewInt(int64(feePips))
	feeComplement := new(big.Int).Sub(feeDenominator, fee)

	amountRemainingAbs := new(big.Int).Abs(amountRemaining)

	if exactIn {
		amountRemainingLessFee := mulDiv(amountRemaining, feeComplement, feeDenominator)
		if zeroForOne {
			amountIn = GetAmount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			amountIn = GetAmount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if amountRemainingLessFee.Cmp(amountIn) >= 0 {
			sqrtRatioNextX96 = new(big.Int).Set(sqrtRatioTargetX96)
		} else {
			sqrtRatioNextX96, err = GetNextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, amountRemainingLessFee, zeroForOne)
			if err != nil {
				return nil, nil, nil, nil, err
			}
		}
	} else {
		if zeroForOne {
			amountOut = GetAmount1Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			amountOut = GetAmount0Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if amountRemainingAbs.Cmp(amountOut) >= 0 {
			sqrtRatioNextX96 = new(big.Int).Set(sqrtRatioTargetX96)
		} else {
			sqrtRatioNextX96, err = GetNextSqrtPriceFromOutput(sqrtRatioCurrentX96, liquidity, amountRemainingAbs, zeroForOne)
			if err != nil {
				return nil, nil, nil, nil, err
			}
		}
	}

	reachedTarget := sqrtRatioTargetX96.Cmp(sqrtRatioNextX96) == 0

	// recompute amounts for the actual price movement
	if zeroForOne {
		if !(reachedTarget && exactIn) {
			amountIn = GetAmount0Delta(sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = GetAmount1Delta(sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			amountIn = GetAmount1Delta(sqrtRatioCurrentX96, sqrtRatioNextX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = GetAmount0Delta(sqrtRatioCurrentX96, sqrtRatioNextX96, liquidity, false)
		}
	}

	// cap the output amount to not exceed the remaining output amount
	if !exactIn && amountOut.Cmp(amountRemainingAbs) > 0 {
		amountOut = new(big.Int).Set(amountRemainingAbs)
	}

	if exactIn && !reachedTarget {
		// the remainder of the input is taken as fee
		feeAmount = new(big.Int).Sub(amountRemaining, amountIn)
	} else {
		feeAmount = mulDivRoundingUp(amountIn, fee, feeComplement)
	}
	return sqrtRatioNextX96, amountIn, amountOut, feeAmount, nil
}
