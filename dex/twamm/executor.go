// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/lxamm/dex"
)

var (
	q192           = new(big.Int).Lsh(big.NewInt(1), 192)
	feeDenominator = big.NewInt(dex.FeeDenominator)
	one            = big.NewInt(1)
)

// LockAndExecuteVirtualOrders forwards s to the extension, which opens a
// nested session and executes the virtual orders of key up to now.
func (t *TWAMM) LockAndExecuteVirtualOrders(s *dex.Session, key dex.PoolKey) error {
	_, err := t.forward(s, &request{op: opExecute, key: OrderKey{Pool: key}})
	return err
}

// ExecuteVirtualOrders executes the virtual orders of key from the last
// execution time up to now. s must act as the extension. The session debt
// of the execution nets to zero.
//
// Every time with scheduled sale rate changes is found through the time
// bitmap and crossed in order: the sales up to it are executed, the reward
// rates at it are snapshotted and its sale rate deltas are applied.
func (t *TWAMM) ExecuteVirtualOrders(s *dex.Session, key dex.PoolKey) error {
	if s.Actor() != t.address {
		return fmt.Errorf("%w: virtual orders execute as the extension", dex.ErrUnauthorized)
	}
	if err := t.checkPool(key); err != nil {
		return err
	}
	poolID := key.ID()
	ps := t.getPoolState(poolID)
	now := t.state().BlockTime()
	if now <= ps.LastExecutionTime {
		return nil
	}
	if now > MaxTime {
		return fmt.Errorf("%w: block time %d", ErrTimeOverflow, now)
	}

	times := t.timeBitmap(poolID)
	time := ps.LastExecutionTime
	for time < now {
		next := now
		pos, crossing := times.NextSet(bitmapPos(time), bitmapPos(now))
		if crossing {
			next = uint64(pos) << MinStepSizeLog
		}
		if err := t.executeInterval(s, key, ps, next-time); err != nil {
			return err
		}
		if crossing {
			if err := t.crossTime(poolID, ps, next); err != nil {
				return err
			}
		}
		time = next
	}

	ps.LastExecutionTime = now
	t.setPoolState(poolID, ps)
	return nil
}

// crossTime snapshots the reward rates at time and applies its sale rate
// deltas.
func (t *TWAMM) crossTime(poolID [32]byte, ps *PoolState, time uint64) error {
	t.setSnapshot(poolID, time, ps.RewardRate0, ps.RewardRate1)

	info := t.getTimeInfo(poolID, time)
	var err error
	if ps.SaleRate0, err = addSaleRate(ps.SaleRate0, info.SaleRateDelta0); err != nil {
		return fmt.Errorf("%w: token0 at time %d", err, time)
	}
	if ps.SaleRate1, err = addSaleRate(ps.SaleRate1, info.SaleRateDelta1); err != nil {
		return fmt.Errorf("%w: token1 at time %d", err, time)
	}
	t.clearTime(poolID, time)

	t.log.Debug("twamm time crossed",
		"pool", common.Hash(poolID),
		"time", time,
		"orders", info.NumOrders,
		"saleRate0", ps.SaleRate0,
		"saleRate1", ps.SaleRate1,
	)
	return nil
}

// executeInterval sells dt seconds of both sides of the pool. Sales are
// first matched against each other at the pool price, paying the pool fee
// on the matched volume. The excess of one side is swapped through the pool.
func (t *TWAMM) executeInterval(s *dex.Session, key dex.PoolKey, ps *PoolState, dt uint64) error {
	amount0 := soldAmount(ps.SaleRate0, dt)
	amount1 := soldAmount(ps.SaleRate1, dt)
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return nil
	}

	pool, err := t.pm.GetPool(key)
	if err != nil {
		return err
	}
	m := matchSales(amount0, amount1, pool.SqrtPriceX96, key.Fee)

	swapped := dex.ZeroBalanceDelta()
	switch {
	case m.excess0.Sign() > 0 && canSwap(pool, true):
		swapped, err = t.pm.Swap(s, key, dex.SwapParams{ZeroForOne: true, AmountSpecified: m.excess0})
	case m.excess1.Sign() > 0 && canSwap(pool, false):
		swapped, err = t.pm.Swap(s, key, dex.SwapParams{ZeroForOne: false, AmountSpecified: m.excess1})
	}
	if err != nil {
		return err
	}
	if err := t.pm.AccumulateAsFees(s, key, m.fee0, m.fee1); err != nil {
		return err
	}

	// token0 sellers buy token1 and the other way around
	purchased1 := new(big.Int).Sub(m.matched1, m.fee1)
	if swapped.Amount1.Sign() < 0 {
		purchased1.Sub(purchased1, swapped.Amount1)
	}
	purchased0 := new(big.Int).Sub(m.matched0, m.fee0)
	if swapped.Amount0.Sign() < 0 {
		purchased0.Sub(purchased0, swapped.Amount0)
	}

	// the escrow pays what the swap and the fees took and keeps the rest
	saved0 := new(big.Int).Add(swapped.Amount0, m.fee0)
	saved1 := new(big.Int).Add(swapped.Amount1, m.fee1)
	err = t.pm.UpdateSavedBalances(s, key.Currency0, key.Currency1, key.ID(), saved0.Neg(saved0), saved1.Neg(saved1))
	if err != nil {
		return err
	}

	if ps.RewardRate0, err = addRewards(ps.RewardRate0, purchased1, ps.SaleRate0); err != nil {
		return err
	}
	ps.RewardRate1, err = addRewards(ps.RewardRate1, purchased0, ps.SaleRate1)
	return err
}

// soldAmount is the amount a sale rate sells in dt seconds, rounded down.
func soldAmount(saleRate *uint256.Int, dt uint64) *big.Int {
	if saleRate.IsZero() || dt == 0 {
		return new(big.Int)
	}
	amount := new(uint256.Int).Mul(saleRate, uint256.NewInt(dt))
	return amount.Rsh(amount, SaleRateFractionalBits).ToBig()
}

// match is the result of matching the two sides' sales at the pool price.
type match struct {
	// matched0 is the token0 given to token1 sellers, matched1 the token1
	// given to token0 sellers.
	matched0, matched1 *big.Int
	excess0, excess1   *big.Int
	fee0, fee1         *big.Int
}

func matchSales(amount0, amount1, sqrtPriceX96 *big.Int, fee uint32) match {
	priceX192 := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	m := match{excess0: new(big.Int), excess1: new(big.Int)}

	// value of the token0 sold, in token1
	value0 := new(big.Int).Mul(amount0, priceX192)
	value0.Quo(value0, q192)
	if value0.Cmp(amount1) >= 0 {
		m.matched1 = new(big.Int).Set(amount1)
		m.matched0 = new(big.Int).Mul(amount1, q192)
		m.matched0.Quo(m.matched0, priceX192)
		m.excess0.Sub(amount0, m.matched0)
	} else {
		m.matched0 = new(big.Int).Set(amount0)
		m.matched1 = value0
		m.excess1.Sub(amount1, m.matched1)
	}
	m.fee0 = feeOf(m.matched0, fee)
	m.fee1 = feeOf(m.matched1, fee)
	return m
}

// feeOf returns the fee on amount, rounded up.
func feeOf(amount *big.Int, fee uint32) *big.Int {
	if amount.Sign() == 0 || fee == 0 {
		return new(big.Int)
	}
	f := new(big.Int).Mul(amount, big.NewInt(int64(fee)))
	f.Sub(f, one)
	f.Quo(f, feeDenominator)
	return f.Add(f, one)
}

// canSwap reports whether the pool price can still move in the direction.
func canSwap(pool *dex.Pool, zeroForOne bool) bool {
	if zeroForOne {
		return pool.SqrtPriceX96.Cmp(new(big.Int).Add(dex.MinSqrtRatio, one)) > 0
	}
	return pool.SqrtPriceX96.Cmp(new(big.Int).Sub(dex.MaxSqrtRatio, one)) < 0
}

// addSaleRate applies a signed delta to a sale rate.
func addSaleRate(rate *uint256.Int, delta *big.Int) (*uint256.Int, error) {
	next := new(big.Int).Add(rate.ToBig(), delta)
	if next.Sign() < 0 || next.Cmp(MaxSaleRate.ToBig()) > 0 {
		return nil, fmt.Errorf("%w: %s%+d", ErrSaleRateOverflow, rate, delta)
	}
	return uint256.MustFromBig(next), nil
}

// addRewards grows a reward rate by purchased << 128 / saleRate.
func addRewards(rewardRate *uint256.Int, purchased *big.Int, saleRate *uint256.Int) (*uint256.Int, error) {
	if saleRate.IsZero() || purchased.Sign() <= 0 {
		return rewardRate, nil
	}
	amount, overflow := uint256.FromBig(purchased)
	if overflow {
		return nil, fmt.Errorf("%w: purchased %s", ErrRewardRateOverflow, purchased)
	}
	growth, overflow := new(uint256.Int).MulDivOverflow(amount, q128, saleRate)
	if overflow {
		return nil, fmt.Errorf("%w: purchased %s at sale rate %s", ErrRewardRateOverflow, purchased, saleRate)
	}
	next, overflow := new(uint256.Int).AddOverflow(rewardRate, growth)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrRewardRateOverflow, rewardRate, growth)
	}
	return next, nil
}
