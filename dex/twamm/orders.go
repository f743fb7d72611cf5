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

var saleRateRounding = big.NewInt(1<<SaleRateFractionalBits - 1)

// UpdateSaleRate changes the sale rate of an order by saleRateDelta. The
// order belongs to the identity that opened the session. A positive delta
// places or grows an order and returns the amount of the sold token the
// session owes, rounded up. A negative delta shrinks or cancels it and
// returns the negative amount refunded to the session, rounded down.
//
// Orders starting in the future schedule their sale rate at StartTime;
// started orders change the pool's sale rate immediately. Both schedule
// the reverse change at EndTime.
func (t *TWAMM) UpdateSaleRate(s *dex.Session, salt [32]byte, key OrderKey, saleRateDelta *big.Int) (*big.Int, error) {
	if saleRateDelta == nil {
		saleRateDelta = new(big.Int)
	}
	if saleRateDelta.BitLen() > 256 {
		return nil, fmt.Errorf("%w: delta %s", ErrSaleRateOverflow, saleRateDelta)
	}
	result, err := t.forward(s, &request{op: opUpdateSaleRate, salt: salt, key: key, delta: saleRateDelta})
	if err != nil {
		return nil, err
	}
	return readSigned(result)
}

func (t *TWAMM) updateSaleRate(s *dex.Session, owner common.Address, salt [32]byte, key OrderKey, delta *big.Int) (*big.Int, error) {
	if err := t.ExecuteVirtualOrders(s, key.Pool); err != nil {
		return nil, err
	}
	now := t.state().BlockTime()
	if key.EndTime <= now {
		return nil, fmt.Errorf("%w: end time %d at %d", ErrOrderEnded, key.EndTime, now)
	}
	started := key.StartTime <= now
	if (!started && !IsTimeValid(now, key.StartTime)) || !IsTimeValid(now, key.EndTime) {
		return nil, fmt.Errorf("%w: [%d, %d) at %d", ErrInvalidTime, key.StartTime, key.EndTime, now)
	}

	poolID := key.Pool.ID()
	orderID := OrderID(owner, salt, key)
	order := t.getOrder(orderID)
	ps := t.getPoolState(poolID)
	if err := t.accrue(poolID, key, order, ps, now); err != nil {
		return nil, err
	}

	next := new(big.Int).Add(order.SaleRate.ToBig(), delta)
	if next.Sign() < 0 {
		return nil, fmt.Errorf("%w: sale rate %s, delta %s", ErrInsufficientSaleRate, order.SaleRate, delta)
	}
	if next.Cmp(MaxSaleRate.ToBig()) > 0 {
		return nil, fmt.Errorf("%w: order sale rate %s", ErrSaleRateOverflow, next)
	}
	orders := orderCountChange(order.SaleRate, next)

	if started {
		if new(big.Int).Abs(delta).Cmp(MaxAbsSaleRateDelta.ToBig()) > 0 {
			return nil, fmt.Errorf("%w: immediate delta %s", ErrSaleRateDeltaTooLarge, delta)
		}
		var err error
		if key.IsSellingToken1 {
			ps.SaleRate1, err = addSaleRate(ps.SaleRate1, delta)
		} else {
			ps.SaleRate0, err = addSaleRate(ps.SaleRate0, delta)
		}
		if err != nil {
			return nil, err
		}
		t.setPoolState(poolID, ps)
	} else if err := t.updateTime(poolID, key.IsSellingToken1, key.StartTime, delta, orders); err != nil {
		return nil, err
	}
	if err := t.updateTime(poolID, key.IsSellingToken1, key.EndTime, new(big.Int).Neg(delta), orders); err != nil {
		return nil, err
	}

	order.SaleRate = uint256.MustFromBig(next)
	t.setOrder(orderID, order)

	from := max(key.StartTime, now)
	amount := orderAmount(delta, key.EndTime-from)
	if amount.Sign() != 0 {
		delta0, delta1 := amount, new(big.Int)
		if key.IsSellingToken1 {
			delta0, delta1 = delta1, delta0
		}
		if err := t.pm.UpdateSavedBalances(s, key.Pool.Currency0, key.Pool.Currency1, poolID, delta0, delta1); err != nil {
			return nil, err
		}
	}

	t.log.Debug("twamm order updated",
		"owner", owner,
		"order", common.Hash(orderID),
		"saleRate", order.SaleRate,
		"delta", delta,
		"amount", amount,
	)
	return amount, nil
}

// CollectProceeds pays the purchased tokens of an order to the session.
// The order belongs to the identity that opened the session.
func (t *TWAMM) CollectProceeds(s *dex.Session, salt [32]byte, key OrderKey) (*uint256.Int, error) {
	result, err := t.forward(s, &request{op: opCollectProceeds, salt: salt, key: key})
	if err != nil {
		return nil, err
	}
	return proceedsResult(result)
}

func (t *TWAMM) collectProceeds(s *dex.Session, owner common.Address, salt [32]byte, key OrderKey) (*uint256.Int, error) {
	if err := t.ExecuteVirtualOrders(s, key.Pool); err != nil {
		return nil, err
	}
	now := t.state().BlockTime()
	poolID := key.Pool.ID()
	orderID := OrderID(owner, salt, key)
	order := t.getOrder(orderID)
	if err := t.accrue(poolID, key, order, t.getPoolState(poolID), now); err != nil {
		return nil, err
	}
	proceeds := order.Unclaimed
	order.Unclaimed = new(uint256.Int)
	t.setOrder(orderID, order)

	if proceeds.IsZero() {
		return proceeds, nil
	}
	delta0, delta1 := new(big.Int).Neg(proceeds.ToBig()), new(big.Int)
	if !key.IsSellingToken1 {
		delta0, delta1 = delta1, delta0
	}
	if err := t.pm.UpdateSavedBalances(s, key.Pool.Currency0, key.Pool.Currency1, poolID, delta0, delta1); err != nil {
		return nil, err
	}

	t.log.Debug("twamm proceeds collected",
		"owner", owner,
		"order", common.Hash(orderID),
		"proceeds", proceeds,
	)
	return proceeds, nil
}

func (t *TWAMM) checkOrderKey(key OrderKey) error {
	if err := t.checkPool(key.Pool); err != nil {
		return err
	}
	if key.StartTime > MaxTime || key.EndTime > MaxTime {
		return fmt.Errorf("%w: [%d, %d)", ErrTimeOverflow, key.StartTime, key.EndTime)
	}
	if key.StartTime >= key.EndTime {
		return fmt.Errorf("%w: start %d not before end %d", ErrInvalidTime, key.StartTime, key.EndTime)
	}
	return nil
}

// accrue moves the proceeds earned since the order's last update into
// Unclaimed and marks the order updated at now.
func (t *TWAMM) accrue(poolID [32]byte, key OrderKey, order *OrderState, ps *PoolState, now uint64) error {
	earned, err := t.earned(poolID, key, order, ps, now)
	if err != nil {
		return err
	}
	unclaimed, overflow := new(uint256.Int).AddOverflow(order.Unclaimed, earned)
	if overflow {
		return fmt.Errorf("%w: unclaimed proceeds", ErrRewardRateOverflow)
	}
	order.Unclaimed = unclaimed
	if now >= key.StartTime {
		order.RewardRateSnapshot = new(uint256.Int).Set(ps.rewardRate(key.IsSellingToken1))
	}
	order.UpdatedAt = now
	return nil
}

// earned returns the proceeds of the order between its last update and
// now, which must not be after the pool's last execution.
func (t *TWAMM) earned(poolID [32]byte, key OrderKey, order *OrderState, ps *PoolState, now uint64) (*uint256.Int, error) {
	if order.SaleRate.IsZero() || now <= key.StartTime || order.UpdatedAt >= key.EndTime {
		return new(uint256.Int), nil
	}

	base := order.RewardRateSnapshot
	if order.UpdatedAt < key.StartTime {
		snapshot, err := t.visitedSnapshot(poolID, key.StartTime)
		if err != nil {
			return nil, err
		}
		base = snapshot.rewardRate(key.IsSellingToken1)
	}
	top := ps.rewardRate(key.IsSellingToken1)
	if now >= key.EndTime {
		snapshot, err := t.visitedSnapshot(poolID, key.EndTime)
		if err != nil {
			return nil, err
		}
		top = snapshot.rewardRate(key.IsSellingToken1)
	}
	if top.Lt(base) {
		return nil, fmt.Errorf("%w: reward rate went from %s down to %s", ErrRewardRateOverflow, base, top)
	}

	growth := new(uint256.Int).Sub(top, base)
	earned, overflow := new(uint256.Int).MulDivOverflow(growth, order.SaleRate, q128)
	if overflow {
		return nil, fmt.Errorf("%w: proceeds of sale rate %s", ErrRewardRateOverflow, order.SaleRate)
	}
	return earned, nil
}

func (t *TWAMM) visitedSnapshot(poolID [32]byte, time uint64) (*RewardRateSnapshot, error) {
	snapshot := t.getSnapshot(poolID, time)
	if !snapshot.Visited {
		return nil, fmt.Errorf("%w: time %d", ErrUnvisitedBoundary, time)
	}
	return snapshot, nil
}

func (s *RewardRateSnapshot) rewardRate(isSellingToken1 bool) *uint256.Int {
	if isSellingToken1 {
		return s.RewardRate1
	}
	return s.RewardRate0
}

// updateTime adds delta to the sale rate change at time and adjusts its
// order count, clearing the time once no order references it.
func (t *TWAMM) updateTime(poolID [32]byte, isSellingToken1 bool, time uint64, delta *big.Int, orders int) error {
	info := t.getTimeInfo(poolID, time)
	target := info.SaleRateDelta0
	if isSellingToken1 {
		target = info.SaleRateDelta1
	}
	target.Add(target, delta)
	if new(big.Int).Abs(target).Cmp(MaxAbsSaleRateDelta.ToBig()) > 0 {
		return fmt.Errorf("%w: net delta %s at time %d", ErrSaleRateDeltaTooLarge, target, time)
	}

	wasSet := info.NumOrders > 0
	count := int64(info.NumOrders) + int64(orders)
	if count <= 0 {
		if wasSet {
			t.clearTime(poolID, time)
		}
		return nil
	}
	info.NumOrders = uint32(count)
	t.setTimeInfo(poolID, time, info)
	if !wasSet {
		t.timeBitmap(poolID).Flip(bitmapPos(time))
	}
	return nil
}

// orderCountChange is +1 when an order becomes active, -1 when it is
// cancelled and 0 otherwise.
func orderCountChange(prev *uint256.Int, next *big.Int) int {
	switch {
	case prev.IsZero() && next.Sign() > 0:
		return 1
	case !prev.IsZero() && next.Sign() == 0:
		return -1
	}
	return 0
}

// orderAmount converts a sale rate change over duration seconds into a token
// amount: deposits round up, refunds round down.
func orderAmount(delta *big.Int, duration uint64) *big.Int {
	amount := new(big.Int).Abs(delta)
	amount.Mul(amount, new(big.Int).SetUint64(duration))
	if delta.Sign() > 0 {
		amount.Add(amount, saleRateRounding)
		return amount.Rsh(amount, SaleRateFractionalBits)
	}
	amount.Rsh(amount, SaleRateFractionalBits)
	return amount.Neg(amount)
}

// =========================================================================
// View Functions
// =========================================================================

// PoolState returns the TWAMM state of a pool.
func (t *TWAMM) PoolState(key dex.PoolKey) (*PoolState, error) {
	if err := t.checkPool(key); err != nil {
		return nil, err
	}
	return t.getPoolState(key.ID()), nil
}

// TimeInfo returns the sale rate changes scheduled at time.
func (t *TWAMM) TimeInfo(key dex.PoolKey, time uint64) *TimeInfo {
	return t.getTimeInfo(key.ID(), time)
}

// RewardRateSnapshot returns the reward rates of a pool at a time the
// executor crossed.
func (t *TWAMM) RewardRateSnapshot(key dex.PoolKey, time uint64) (*RewardRateSnapshot, error) {
	return t.visitedSnapshot(key.ID(), time)
}

// OrderInfo returns an order of owner as of the pool's last execution.
func (t *TWAMM) OrderInfo(owner common.Address, salt [32]byte, key OrderKey) (*OrderInfo, error) {
	if err := t.checkOrderKey(key); err != nil {
		return nil, err
	}
	poolID := key.Pool.ID()
	ps := t.getPoolState(poolID)
	order := t.getOrder(OrderID(owner, salt, key))
	last := ps.LastExecutionTime

	earned, err := t.earned(poolID, key, order, ps, last)
	if err != nil {
		return nil, err
	}
	purchased, overflow := new(uint256.Int).AddOverflow(order.Unclaimed, earned)
	if overflow {
		return nil, fmt.Errorf("%w: unclaimed proceeds", ErrRewardRateOverflow)
	}
	remaining := new(uint256.Int)
	if from := max(key.StartTime, last); from < key.EndTime {
		remaining.Mul(order.SaleRate, uint256.NewInt(key.EndTime-from))
		remaining.Rsh(remaining, SaleRateFractionalBits)
	}
	return &OrderInfo{
		SaleRate:         order.SaleRate,
		PurchasedAmount:  purchased,
		RemainingSell:    remaining,
		LastUpdated:      order.UpdatedAt,
		LastExecutedTime: last,
	}, nil
}
