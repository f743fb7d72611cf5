// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dex implements a singleton concentrated-liquidity AMM core with
// flash accounting. Operations run inside Lock sessions and accumulate
// per-session debts that must net to zero before the session closes.
package dex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// LXPoolAddress is the default address of the singleton pool manager.
const LXPoolAddress = "0x0000000000000000000000000000000000009010"

// Pool fee tiers (pips, 1e-6)
const (
	Fee001 uint24 = 100    // 0.01% - stablecoins
	Fee005 uint24 = 500    // 0.05% - stable pairs
	Fee030 uint24 = 3000   // 0.30% - standard
	Fee100 uint24 = 10000  // 1.00% - exotic pairs
	FeeMax uint24 = 100000 // 10% max fee

	FeeDenominator = 1_000_000
)

// Tick spacing for different fee tiers
const (
	TickSpacing001 int24 = 1
	TickSpacing005 int24 = 10
	TickSpacing030 int24 = 60
	TickSpacing100 int24 = 200

	MaxTickSpacing int24 = 16384
)

// Currency represents a token (native or ERC20)
// Address(0) represents native LUX
type Currency struct {
	Address common.Address
}

// NativeCurrency represents native LUX (no wrapping needed)
var NativeCurrency = Currency{Address: common.Address{}}

// IsNative returns true if this currency is native LUX
func (c Currency) IsNative() bool {
	return c.Address == common.Address{}
}

// ToBytes serializes currency for storage
func (c Currency) ToBytes() []byte {
	return c.Address.Bytes()
}

// Less orders currencies by address.
func (c Currency) Less(other Currency) bool {
	return c.Address.Cmp(other.Address) < 0
}

func (c Currency) String() string {
	if c.IsNative() {
		return "native"
	}
	return c.Address.Hex()
}

// PoolKind selects how positions map onto the price range of a pool.
type PoolKind uint8

const (
	// PoolKindConcentrated pools accept any tick range aligned to TickSpacing.
	PoolKindConcentrated PoolKind = iota
	// PoolKindRange pools (stableswap-style) concentrate all liquidity in the
	// single range [RangeLower, RangeUpper).
	PoolKindRange
)

// PoolKey uniquely identifies a pool
// Sorted by currency address (currency0 < currency1)
type PoolKey struct {
	Currency0   Currency       // Lower address token
	Currency1   Currency       // Higher address token
	Fee         uint24         // Fee in pips
	TickSpacing int24          // Tick spacing for concentrated liquidity
	Hooks       common.Address // Extension address (zero = no hooks)

	Kind       PoolKind
	RangeLower int24 // active range of PoolKindRange pools
	RangeUpper int24
}

// ID computes the unique pool identifier
func (pk PoolKey) ID() [32]byte {
	h := blake3.New()
	h.Write(pk.ToBytes())

	var id [32]byte
	h.Digest().Read(id[:])
	return id
}

// PoolKeySize is the length of a serialized pool key.
const PoolKeySize = 20 + 20 + 3 + 3 + 20 + 1 + 3 + 3

// ToBytes serializes the pool key.
func (pk PoolKey) ToBytes() []byte {
	data := make([]byte, 0, PoolKeySize)
	data = append(data, pk.Currency0.ToBytes()...)
	data = append(data, pk.Currency1.ToBytes()...)
	data = appendUint24(data, uint32(pk.Fee))
	data = appendUint24(data, uint32(pk.TickSpacing))
	data = append(data, pk.Hooks.Bytes()...)
	data = append(data, byte(pk.Kind))
	data = appendUint24(data, uint32(pk.RangeLower))
	return appendUint24(data, uint32(pk.RangeUpper))
}

// DecodePoolKey parses a pool key serialized by ToBytes.
func DecodePoolKey(data []byte) (PoolKey, error) {
	if len(data) != PoolKeySize {
		return PoolKey{}, fmt.Errorf("%w: pool key of %d bytes", ErrInvalidEncoding, len(data))
	}
	return PoolKey{
		Currency0:   Currency{Address: common.BytesToAddress(data[0:20])},
		Currency1:   Currency{Address: common.BytesToAddress(data[20:40])},
		Fee:         readUint24(data[40:43]),
		TickSpacing: readInt24(data[43:46]),
		Hooks:       common.BytesToAddress(data[46:66]),
		Kind:        PoolKind(data[66]),
		RangeLower:  readInt24(data[67:70]),
		RangeUpper:  readInt24(data[70:73]),
	}, nil
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// readInt24 sign-extends a 24-bit two's complement value.
func readInt24(b []byte) int32 {
	return int32(readUint24(b)<<8) >> 8
}

func appendUint24(data []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(data, b[1:]...)
}

// spacing is the distance between initializable ticks.
func (pk PoolKey) spacing() int24 {
	if pk.Kind == PoolKindRange {
		return 1
	}
	return pk.TickSpacing
}

// BalanceDelta represents the net token changes of an operation
// Positive = owed to the pool, Negative = owed to the user
type BalanceDelta struct {
	Amount0 *big.Int // Currency0 delta (positive = user owes pool)
	Amount1 *big.Int // Currency1 delta (positive = user owes pool)
}

// NewBalanceDelta creates a new balance delta
func NewBalanceDelta(amount0, amount1 *big.Int) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Set(amount0),
		Amount1: new(big.Int).Set(amount1),
	}
}

// ZeroBalanceDelta returns a zero balance delta
func ZeroBalanceDelta() BalanceDelta {
	return BalanceDelta{
		Amount0: big.NewInt(0),
		Amount1: big.NewInt(0),
	}
}

// Add combines two balance deltas
func (bd BalanceDelta) Add(other BalanceDelta) BalanceDelta {
	return BalanceDelta{
		Amount0: new(big.Int).Add(bd.Amount0, other.Amount0),
		Amount1: new(big.Int).Add(bd.Amount1, other.Amount1),
	}
}

// IsZero returns true if both amounts are zero
func (bd BalanceDelta) IsZero() bool {
	return bd.Amount0.Sign() == 0 && bd.Amount1.Sign() == 0
}

// Pool represents the state of a liquidity pool
type Pool struct {
	SqrtPriceX96   *big.Int // sqrt(price) * 2^96 (Q64.96)
	Tick           int24    // Current tick
	Liquidity      *big.Int // Active liquidity (L)
	FeeGrowth0X128 *big.Int // Fee growth for currency0 (Q128.128)
	FeeGrowth1X128 *big.Int // Fee growth for currency1 (Q128.128)
	ProtocolFees0  *big.Int // Accumulated protocol fees currency0
	ProtocolFees1  *big.Int // Accumulated protocol fees currency1
}

// IsInitialized returns true if the pool has been initialized
func (p *Pool) IsInitialized() bool {
	return p.SqrtPriceX96 != nil && p.SqrtPriceX96.Sign() > 0
}

// TickInfo is the per-tick liquidity and fee bookkeeping.
type TickInfo struct {
	LiquidityGross        *big.Int
	LiquidityNet          *big.Int
	FeeGrowthOutside0X128 *big.Int
	FeeGrowthOutside1X128 *big.Int
}

// Position represents a liquidity position
type Position struct {
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

// PositionKey computes the unique position identifier
func PositionKey(owner common.Address, poolID [32]byte, tickLower, tickUpper int24, salt [32]byte) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())
	h.Write(poolID[:])

	var tickBytes [8]byte
	binary.BigEndian.PutUint32(tickBytes[:4], uint32(tickLower))
	binary.BigEndian.PutUint32(tickBytes[4:], uint32(tickUpper))
	h.Write(tickBytes[:])
	h.Write(salt[:])

	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// SwapParams contains parameters for a swap
type SwapParams struct {
	ZeroForOne        bool     // true = swap currency0 for currency1
	AmountSpecified   *big.Int // Positive = exact input, Negative = exact output
	SqrtPriceLimitX96 *big.Int // Price limit (nil = no limit)
	MinAmountOut      *big.Int // Slippage bound on the output side (nil = none)
}

// ModifyLiquidityParams contains parameters for adding/removing liquidity
type ModifyLiquidityParams struct {
	TickLower      int24
	TickUpper      int24
	LiquidityDelta *big.Int // Positive = add, Negative = remove
	Salt           [32]byte // Position salt for uniqueness
}

// Errors - Core DEX
var (
	ErrPoolNotInitialized     = errors.New("pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrTooManyPools           = errors.New("pool limit reached")
	ErrInvalidTickRange       = errors.New("invalid tick range")
	ErrInvalidTickSpacing     = errors.New("invalid tick spacing")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrInvalidPriceLimit      = errors.New("invalid price limit")
	ErrInvalidFee             = errors.New("invalid fee")
	ErrCurrencyNotSorted      = errors.New("currencies not sorted")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrNonZeroDelta           = errors.New("non-zero balance delta after settlement")
	ErrInvalidSqrtPrice       = errors.New("invalid sqrt price")
	ErrTickOutOfRange         = errors.New("tick out of range")
	ErrReentrant              = errors.New("reentrancy detected")
	ErrNoLiquidity            = errors.New("no liquidity in pool")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientOutput     = errors.New("insufficient output amount")
	ErrLiquidityOverflow      = errors.New("liquidity overflow")
	ErrInvalidEncoding        = errors.New("invalid encoding")
)

// Errors - Flash accounting
var (
	ErrSessionNotActive         = errors.New("session not active")
	ErrNotLocker                = errors.New("caller is not the acting locker")
	ErrDeltaOverflow            = errors.New("debt delta exceeds int128")
	ErrDebtOverflow             = errors.New("session debt exceeds int256")
	ErrPaymentOverflow          = errors.New("payment exceeds int128")
	ErrInsufficientSavedBalance = errors.New("insufficient saved balance")
	ErrSavedBalanceOverflow     = errors.New("saved balance exceeds uint128")
)

// Constants for math
var (
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	MaxUint128 = new(big.Int).Sub(Q128, big.NewInt(1))
	MaxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	MinInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	MaxInt256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	MinInt256  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Type aliases for clarity
type (
	uint24 = uint32
	int24  = int32
)

// Tick bounds
const (
	MinTick int24 = -887272
	MaxTick int24 = 887272
)

// Sqrt price bounds, the values of TickToSqrtPriceX96 at MinTick and MaxTick
var (
	MinSqrtRatio    = new(big.Int).SetUint64(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

func inInt128(v *big.Int) bool {
	return v.Cmp(MinInt128) >= 0 && v.Cmp(MaxInt128) <= 0
}

func inInt256(v *big.Int) bool {
	return v.Cmp(MinInt256) >= 0 && v.Cmp(MaxInt256) <= 0
}
