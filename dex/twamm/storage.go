// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/lxamm/dex/bitmap"
	"github.com/luxfi/lxamm/state"
)

// Storage key prefixes. All TWAMM state lives in the slots of the extension
// address so that it is reverted together with the session that wrote it.
const (
	poolPrefix     = "twpl"
	timePrefix     = "twti"
	snapshotPrefix = "twrr"
	orderPrefix    = "twod"
	bitmapSpace    = "twbm"
)

func poolSlot(poolID [32]byte, field string) common.Hash {
	return state.Key(poolPrefix, poolID[:], []byte(field))
}

func (t *TWAMM) initialized(poolID [32]byte) bool {
	return t.state().GetUint64(t.address, poolSlot(poolID, "init")) != 0
}

func (t *TWAMM) getPoolState(poolID [32]byte) *PoolState {
	st := t.state()
	return &PoolState{
		LastExecutionTime: st.GetUint64(t.address, poolSlot(poolID, "lastExecution")),
		SaleRate0:         st.GetUint(t.address, poolSlot(poolID, "saleRate0")),
		SaleRate1:         st.GetUint(t.address, poolSlot(poolID, "saleRate1")),
		RewardRate0:       st.GetUint(t.address, poolSlot(poolID, "rewardRate0")),
		RewardRate1:       st.GetUint(t.address, poolSlot(poolID, "rewardRate1")),
	}
}

func (t *TWAMM) setPoolState(poolID [32]byte, ps *PoolState) {
	st := t.state()
	st.SetUint64(t.address, poolSlot(poolID, "init"), 1)
	st.SetUint64(t.address, poolSlot(poolID, "lastExecution"), ps.LastExecutionTime)
	st.SetUint(t.address, poolSlot(poolID, "saleRate0"), ps.SaleRate0)
	st.SetUint(t.address, poolSlot(poolID, "saleRate1"), ps.SaleRate1)
	st.SetUint(t.address, poolSlot(poolID, "rewardRate0"), ps.RewardRate0)
	st.SetUint(t.address, poolSlot(poolID, "rewardRate1"), ps.RewardRate1)
}

// =========================================================================
// Times
// =========================================================================

func timeSlot(prefix string, poolID [32]byte, time uint64, field string) common.Hash {
	return state.Key(prefix, poolID[:], state.Uint64Bytes(time), []byte(field))
}

func (t *TWAMM) getTimeInfo(poolID [32]byte, time uint64) *TimeInfo {
	st := t.state()
	return &TimeInfo{
		SaleRateDelta0: st.GetBig(t.address, timeSlot(timePrefix, poolID, time, "delta0")),
		SaleRateDelta1: st.GetBig(t.address, timeSlot(timePrefix, poolID, time, "delta1")),
		NumOrders:      uint32(st.GetUint64(t.address, timeSlot(timePrefix, poolID, time, "orders"))),
	}
}

func (t *TWAMM) setTimeInfo(poolID [32]byte, time uint64, info *TimeInfo) {
	st := t.state()
	st.SetBig(t.address, timeSlot(timePrefix, poolID, time, "delta0"), info.SaleRateDelta0)
	st.SetBig(t.address, timeSlot(timePrefix, poolID, time, "delta1"), info.SaleRateDelta1)
	st.SetUint64(t.address, timeSlot(timePrefix, poolID, time, "orders"), uint64(info.NumOrders))
}

// clearTime removes a time and its bitmap bit.
func (t *TWAMM) clearTime(poolID [32]byte, time uint64) {
	t.setTimeInfo(poolID, time, &TimeInfo{SaleRateDelta0: new(big.Int), SaleRateDelta1: new(big.Int)})
	t.timeBitmap(poolID).Flip(bitmapPos(time))
}

// timeBitmap has one bit per multiple of MinStepSize.
func (t *TWAMM) timeBitmap(poolID [32]byte) *bitmap.Bitmap {
	return bitmap.New(t.state(), t.address, []byte(bitmapSpace), poolID[:])
}

func bitmapPos(time uint64) int32 {
	return int32(time >> MinStepSizeLog)
}

func (t *TWAMM) getSnapshot(poolID [32]byte, time uint64) *RewardRateSnapshot {
	st := t.state()
	return &RewardRateSnapshot{
		RewardRate0: st.GetUint(t.address, timeSlot(snapshotPrefix, poolID, time, "rewardRate0")),
		RewardRate1: st.GetUint(t.address, timeSlot(snapshotPrefix, poolID, time, "rewardRate1")),
		Visited:     st.GetUint64(t.address, timeSlot(snapshotPrefix, poolID, time, "visited")) != 0,
	}
}

func (t *TWAMM) setSnapshot(poolID [32]byte, time uint64, rewardRate0, rewardRate1 *uint256.Int) {
	st := t.state()
	st.SetUint(t.address, timeSlot(snapshotPrefix, poolID, time, "rewardRate0"), rewardRate0)
	st.SetUint(t.address, timeSlot(snapshotPrefix, poolID, time, "rewardRate1"), rewardRate1)
	st.SetUint64(t.address, timeSlot(snapshotPrefix, poolID, time, "visited"), 1)
}

// =========================================================================
// Orders
// =========================================================================

func orderSlot(orderID [32]byte, field string) common.Hash {
	return state.Key(orderPrefix, orderID[:], []byte(field))
}

func (t *TWAMM) getOrder(orderID [32]byte) *OrderState {
	st := t.state()
	return &OrderState{
		SaleRate:           st.GetUint(t.address, orderSlot(orderID, "saleRate")),
		RewardRateSnapshot: st.GetUint(t.address, orderSlot(orderID, "rewardRate")),
		Unclaimed:          st.GetUint(t.address, orderSlot(orderID, "unclaimed")),
		UpdatedAt:          st.GetUint64(t.address, orderSlot(orderID, "updatedAt")),
	}
}

func (t *TWAMM) setOrder(orderID [32]byte, order *OrderState) {
	st := t.state()
	st.SetUint(t.address, orderSlot(orderID, "saleRate"), order.SaleRate)
	st.SetUint(t.address, orderSlot(orderID, "rewardRate"), order.RewardRateSnapshot)
	st.SetUint(t.address, orderSlot(orderID, "unclaimed"), order.Unclaimed)
	st.SetUint64(t.address, orderSlot(orderID, "updatedAt"), order.UpdatedAt)
}
