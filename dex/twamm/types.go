// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/lxamm/dex"
)

// Sale rates are token amounts per second with 32 fractional bits.
const SaleRateFractionalBits = 32

var (
	// MaxSaleRate is the largest sale rate a pool side or order can have.
	MaxSaleRate = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 112), 1)

	// MaxAbsSaleRateDelta bounds the net sale rate change at one time so
	// that no sequence of boundaries can push a side past MaxSaleRate.
	MaxAbsSaleRateDelta = new(uint256.Int).Div(MaxSaleRate, uint256.NewInt(MaxNumValidTimes))

	q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
)

// OrderKey identifies an order within a pool. An order sells token0 for
// token1 unless IsSellingToken1 is set.
type OrderKey struct {
	Pool            dex.PoolKey
	IsSellingToken1 bool
	StartTime       uint64
	EndTime         uint64
}

// SoldCurrency returns the currency the order sells.
func (k OrderKey) SoldCurrency() dex.Currency {
	if k.IsSellingToken1 {
		return k.Pool.Currency1
	}
	return k.Pool.Currency0
}

// BoughtCurrency returns the currency the order buys.
func (k OrderKey) BoughtCurrency() dex.Currency {
	if k.IsSellingToken1 {
		return k.Pool.Currency0
	}
	return k.Pool.Currency1
}

// OrderID computes the identifier of owner's order under salt.
func OrderID(owner common.Address, salt [32]byte, key OrderKey) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())
	h.Write(salt[:])
	h.Write(key.Pool.ToBytes())

	var buf [17]byte
	if key.IsSellingToken1 {
		buf[0] = 1
	}
	binary.BigEndian.PutUint64(buf[1:9], key.StartTime)
	binary.BigEndian.PutUint64(buf[9:], key.EndTime)
	h.Write(buf[:])

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// OrderState is the stored state of an order.
type OrderState struct {
	SaleRate *uint256.Int
	// RewardRateSnapshot is the reward rate of the sold side at UpdatedAt.
	// It is only meaningful once the order has started.
	RewardRateSnapshot *uint256.Int
	// Unclaimed holds proceeds accrued before the last sale rate change.
	Unclaimed *uint256.Int
	UpdatedAt uint64
}

// PoolState is the TWAMM state of a pool.
type PoolState struct {
	LastExecutionTime uint64
	// SaleRate0 sells token0, SaleRate1 sells token1.
	SaleRate0 *uint256.Int
	SaleRate1 *uint256.Int
	// RewardRate0 is the cumulative token1 purchased per unit of token0
	// sale rate, as an X128 fixed point number. RewardRate1 mirrors it.
	RewardRate0 *uint256.Int
	RewardRate1 *uint256.Int
}

// rewardRate returns the reward rate of the side an order sells.
func (p *PoolState) rewardRate(isSellingToken1 bool) *uint256.Int {
	if isSellingToken1 {
		return p.RewardRate1
	}
	return p.RewardRate0
}

// TimeInfo is the sale rate change scheduled at a time.
type TimeInfo struct {
	SaleRateDelta0 *big.Int
	SaleRateDelta1 *big.Int
	NumOrders      uint32
}

// RewardRateSnapshot holds the reward rates of a pool at a crossed time.
type RewardRateSnapshot struct {
	RewardRate0 *uint256.Int
	RewardRate1 *uint256.Int
	Visited     bool
}

// OrderInfo is the view of an order as of the pool's last execution.
type OrderInfo struct {
	SaleRate         *uint256.Int
	PurchasedAmount  *uint256.Int
	RemainingSell    *uint256.Int
	LastUpdated      uint64
	LastExecutedTime uint64
}

// Errors
var (
	ErrNotTWAMMPool          = errors.New("pool does not use the twamm extension")
	ErrPoolNotInitialized    = errors.New("twamm pool not initialized")
	ErrInvalidTime           = errors.New("invalid order time")
	ErrTimeOverflow          = errors.New("time exceeds 32 bits")
	ErrOrderEnded            = errors.New("order already ended")
	ErrInsufficientSaleRate  = errors.New("sale rate delta exceeds order sale rate")
	ErrSaleRateOverflow      = errors.New("sale rate overflow")
	ErrSaleRateDeltaTooLarge = errors.New("sale rate delta too large")
	ErrRewardRateOverflow    = errors.New("reward rate overflow")
	ErrUnvisitedBoundary     = errors.New("reward rate snapshot read before its time was crossed")
)
