// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/lxamm/dex/bitmap"
	"github.com/luxfi/lxamm/state"
)

// Storage key prefixes for pool manager state. Nothing is cached in memory:
// every read goes to the journaled state so a revert restores it exactly.
const (
	poolStatePrefix = "pool"
	poolCountPrefix = "pcnt"
	positionPrefix  = "posn"
	tickPrefix      = "tick"
	tickBitmapSpace = "tbmp"
)

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// wrap256 reduces x modulo 2^256, the domain fee growth accumulators live in.
func wrap256(x *big.Int) *big.Int {
	return x.Mod(x, two256)
}

func poolSlot(poolID [32]byte, field string) common.Hash {
	return state.Key(poolStatePrefix, poolID[:], []byte(field))
}

func (pm *PoolManager) getPool(poolID [32]byte) *Pool {
	st := pm.state
	return &Pool{
		SqrtPriceX96:   st.GetUint(pm.address, poolSlot(poolID, "sqrtPrice")).ToBig(),
		Tick:           int24(st.GetBig(pm.address, poolSlot(poolID, "tick")).Int64()),
		Liquidity:      st.GetUint(pm.address, poolSlot(poolID, "liquidity")).ToBig(),
		FeeGrowth0X128: st.GetUint(pm.address, poolSlot(poolID, "feeGrowth0")).ToBig(),
		FeeGrowth1X128: st.GetUint(pm.address, poolSlot(poolID, "feeGrowth1")).ToBig(),
		ProtocolFees0:  st.GetUint(pm.address, poolSlot(poolID, "protocolFees0")).ToBig(),
		ProtocolFees1:  st.GetUint(pm.address, poolSlot(poolID, "protocolFees1")).ToBig(),
	}
}

func (pm *PoolManager) setPool(poolID [32]byte, pool *Pool) {
	st := pm.state
	st.SetUint(pm.address, poolSlot(poolID, "sqrtPrice"), uint256.MustFromBig(pool.SqrtPriceX96))
	st.SetBig(pm.address, poolSlot(poolID, "tick"), big.NewInt(int64(pool.Tick)))
	st.SetUint(pm.address, poolSlot(poolID, "liquidity"), uint256.MustFromBig(pool.Liquidity))
	st.SetUint(pm.address, poolSlot(poolID, "feeGrowth0"), uint256.MustFromBig(pool.FeeGrowth0X128))
	st.SetUint(pm.address, poolSlot(poolID, "feeGrowth1"), uint256.MustFromBig(pool.FeeGrowth1X128))
	st.SetUint(pm.address, poolSlot(poolID, "protocolFees0"), uint256.MustFromBig(pool.ProtocolFees0))
	st.SetUint(pm.address, poolSlot(poolID, "protocolFees1"), uint256.MustFromBig(pool.ProtocolFees1))
}

func (pm *PoolManager) poolCount() uint64 {
	return pm.state.GetUint64(pm.address, state.Key(poolCountPrefix))
}

func (pm *PoolManager) setPoolCount(n uint64) {
	pm.state.SetUint64(pm.address, state.Key(poolCountPrefix), n)
}

// =========================================================================
// Ticks
// =========================================================================

func tickSlot(poolID [32]byte, tick int24, field string) common.Hash {
	return state.Key(tickPrefix, poolID[:], state.Uint32Bytes(uint32(tick)), []byte(field))
}

func (pm *PoolManager) getTick(poolID [32]byte, tick int24) *TickInfo {
	st := pm.state
	return &TickInfo{
		LiquidityGross:        st.GetUint(pm.address, tickSlot(poolID, tick, "gross")).ToBig(),
		LiquidityNet:          st.GetBig(pm.address, tickSlot(poolID, tick, "net")),
		FeeGrowthOutside0X128: st.GetUint(pm.address, tickSlot(poolID, tick, "outside0")).ToBig(),
		FeeGrowthOutside1X128: st.GetUint(pm.address, tickSlot(poolID, tick, "outside1")).ToBig(),
	}
}

func (pm *PoolManager) setTick(poolID [32]byte, tick int24, info *TickInfo) {
	st := pm.state
	st.SetUint(pm.address, tickSlot(poolID, tick, "gross"), uint256.MustFromBig(info.LiquidityGross))
	st.SetBig(pm.address, tickSlot(poolID, tick, "net"), info.LiquidityNet)
	st.SetUint(pm.address, tickSlot(poolID, tick, "outside0"), uint256.MustFromBig(info.FeeGrowthOutside0X128))
	st.SetUint(pm.address, tickSlot(poolID, tick, "outside1"), uint256.MustFromBig(info.FeeGrowthOutside1X128))
}

func (pm *PoolManager) clearTick(poolID [32]byte, tick int24) {
	pm.setTick(poolID, tick, &TickInfo{
		LiquidityGross:        new(big.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(big.Int),
		FeeGrowthOutside1X128: new(big.Int),
	})
}

func (pm *PoolManager) tickBitmap(poolID [32]byte) *bitmap.Bitmap {
	return bitmap.New(pm.state, pm.address, []byte(tickBitmapSpace), poolID[:])
}

// =========================================================================
// Positions
// =========================================================================

func positionSlot(positionKey [32]byte, field string) common.Hash {
	return state.Key(positionPrefix, positionKey[:], []byte(field))
}

func (pm *PoolManager) getPosition(positionKey [32]byte) *Position {
	st := pm.state
	return &Position{
		Liquidity:                st.GetUint(pm.address, positionSlot(positionKey, "liquidity")).ToBig(),
		FeeGrowthInside0LastX128: st.GetUint(pm.address, positionSlot(positionKey, "inside0")).ToBig(),
		FeeGrowthInside1LastX128: st.GetUint(pm.address, positionSlot(positionKey, "inside1")).ToBig(),
		TokensOwed0:              st.GetUint(pm.address, positionSlot(positionKey, "owed0")).ToBig(),
		TokensOwed1:              st.GetUint(pm.address, positionSlot(positionKey, "owed1")).ToBig(),
	}
}

func (pm *PoolManager) setPosition(positionKey [32]byte, pos *Position) {
	st := pm.state
	st.SetUint(pm.address, positionSlot(positionKey, "liquidity"), uint256.MustFromBig(pos.Liquidity))
	st.SetUint(pm.address, positionSlot(positionKey, "inside0"), uint256.MustFromBig(pos.FeeGrowthInside0LastX128))
	st.SetUint(pm.address, positionSlot(positionKey, "inside1"), uint256.MustFromBig(pos.FeeGrowthInside1LastX128))
	st.SetUint(pm.address, positionSlot(positionKey, "owed0"), uint256.MustFromBig(pos.TokensOwed0))
	st.SetUint(pm.address, positionSlot(positionKey, "owed1"), uint256.MustFromBig(pos.TokensOwed1))
}
