// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// sqrt(1.0001^-(2^i)) in Q128.128 for i = 0..19
var tickRatios = func() [20]*big.Int {
	hex := [20]string{
		"fffcb933bd6fad37aa2d162d1a594001",
		"fff97272373d413259a46990580e213a",
		"fff2e50f5f656932ef12357cf3c7fdcc",
		"ffe5caca7e10e4e61c3624eaa0941cd0",
		"ffcb9843d60f6159c9db58835c926644",
		"ff973b41fa98c081472e6896dfb254c0",
		"ff2ea16466c96a3843ec78b326b52861",
		"fe5dee046a99a2a811c461f1969c3053",
		"fcbe86c7900a88aedcffc83b479aa3a4",
		"f987a7253ac413176f2b074cf7815e54",
		"f3392b0822b70005940c7a398e4b70f3",
		"e7159475a2c29b7443b29c7fa6e889d9",
		"d097f3bdfd2022b8845ad8f792aa5825",
		"a9f746462d870fdf8a65dc1f90e061e5",
		"70d869a156d2a1b890bb3df62baf32f7",
		"31be135f97d08fd981231505542fcfa6",
		"9aa508b5b7a84e1c677de54f3e99bc9",
		"5d6af8dedb81196699c329225ee604",
		"2216e584f5fa1ea926041bedfe98",
		"48a170391f7dc42444e8fa2",
	}
	var out [20]*big.Int
	for i, h := range hex {
		out[i], _ = new(big.Int).SetString(h, 16)
	}
	return out
}()

// TickToSqrtPriceX96 returns sqrt(1.0001^tick) * 2^96, rounded up.
func TickToSqrtPriceX96(tick int24) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(big.Int)
	if absTick&1 != 0 {
		ratio.Set(tickRatios[0])
	} else {
		ratio.Set(Q128)
	}
	for i := 1; i < 20; i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, tickRatios[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(MaxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up
	result := new(big.Int).Rsh(ratio, 32)
	if new(big.Int).And(ratio, big.NewInt(0xffffffff)).Sign() != 0 {
		result.Add(result, big.NewInt(1))
	}
	return result, nil
}

// SqrtPriceX96ToTick returns the greatest tick whose sqrt price is at or
// below sqrtPriceX96.
func SqrtPriceX96ToTick(sqrtPriceX96 *big.Int) (int24, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSqrtPrice, sqrtPriceX96)
	}

	// Binary search for the tick
	low, high := MinTick, MaxTick
	for low < high {
		mid := low + (high-low+1)/2
		midPrice, err := TickToSqrtPriceX96(mid)
		if err != nil {
			return 0, err
		}
		if midPrice.Cmp(sqrtPriceX96) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}
