// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/lxamm/state"
)

// PoolManager is the singleton pool manager. All pools live in it, which
// enables:
// - Flash accounting (net token transfers at the end of a session)
// - Unified liquidity across all markets
// - Extensions such as TWAMM running inside the same sessions
//
// A PoolManager runs one transaction at a time. Within a transaction every
// call happens on the goroutine running the Lock callback.
type PoolManager struct {
	// mu is held for the duration of a transaction
	mu sync.Mutex

	state   *state.StateDB
	address common.Address
	config  Config
	hooks   *HookRegistry
	log     log.Logger

	tx            uint64
	nextSessionID uint32
	frames        []*sessionFrame
	active        []int
	payments      map[paymentKey]*uint256.Int
}

// NewPoolManager creates a pool manager over stateDB. A nil logger defaults
// to an info level test logger.
func NewPoolManager(stateDB *state.StateDB, config Config, logger log.Logger) (*PoolManager, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &PoolManager{
		state:    stateDB,
		address:  config.Address,
		config:   config,
		hooks:    NewHookRegistry(),
		log:      logger,
		payments: make(map[paymentKey]*uint256.Int),
	}, nil
}

// Address returns the address holding the pool manager's tokens and state.
func (pm *PoolManager) Address() common.Address { return pm.address }

// State returns the state the pool manager runs on.
func (pm *PoolManager) State() *state.StateDB { return pm.state }

// Config returns the pool manager configuration.
func (pm *PoolManager) Config() Config { return pm.config }

// Logger returns the pool manager logger.
func (pm *PoolManager) Logger() log.Logger { return pm.log }

// =========================================================================
// Pool Initialization
// =========================================================================

// Initialize creates and initializes a new pool
// Returns the tick corresponding to the starting price
func (pm *PoolManager) Initialize(caller common.Address, key PoolKey, sqrtPriceX96 *big.Int) (int24, error) {
	if err := pm.validatePoolKey(key); err != nil {
		return 0, err
	}
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSqrtPrice, sqrtPriceX96)
	}

	var tick int24
	err := pm.atomic(func() error {
		if err := pm.callBeforeInitialize(caller, key, sqrtPriceX96); err != nil {
			return err
		}

		poolID := key.ID()
		pool := pm.getPool(poolID)
		if pool.IsInitialized() {
			return ErrPoolAlreadyInitialized
		}
		count := pm.poolCount()
		if pm.config.MaxPools != 0 && count >= pm.config.MaxPools {
			return fmt.Errorf("%w: %d", ErrTooManyPools, pm.config.MaxPools)
		}

		var err error
		tick, err = SqrtPriceX96ToTick(sqrtPriceX96)
		if err != nil {
			return err
		}
		pool.SqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
		pool.Tick = tick
		pm.setPool(poolID, pool)
		pm.setPoolCount(count + 1)

		pm.log.Info("pool initialized",
			"pool", common.Hash(poolID),
			"currency0", key.Currency0,
			"currency1", key.Currency1,
			"fee", key.Fee,
			"tick", tick,
		)
		return pm.callAfterInitialize(caller, key, sqrtPriceX96, tick)
	})
	if err != nil {
		return 0, err
	}
	return tick, nil
}

func (pm *PoolManager) validatePoolKey(key PoolKey) error {
	if !key.Currency0.Less(key.Currency1) {
		return ErrCurrencyNotSorted
	}
	if key.Fee > FeeMax {
		return fmt.Errorf("%w: %d", ErrInvalidFee, key.Fee)
	}
	switch key.Kind {
	case PoolKindConcentrated:
		if key.TickSpacing < 1 || key.TickSpacing > MaxTickSpacing {
			return fmt.Errorf("%w: %d", ErrInvalidTickSpacing, key.TickSpacing)
		}
	case PoolKindRange:
		if key.RangeLower >= key.RangeUpper || key.RangeLower < MinTick || key.RangeUpper > MaxTick {
			return fmt.Errorf("%w: active range [%d, %d)", ErrInvalidTickRange, key.RangeLower, key.RangeUpper)
		}
	default:
		return fmt.Errorf("%w: unknown pool kind %d", ErrInvalidTickSpacing, key.Kind)
	}
	if key.Hooks != (common.Address{}) {
		if !pm.config.EnableHooks {
			return ErrHooksDisabled
		}
		if _, ok := pm.hooks.lookup(key.Hooks); !ok {
			return fmt.Errorf("%w: %s", ErrHookNotRegistered, key.Hooks.Hex())
		}
	}
	return nil
}

// =========================================================================
// Swap
// =========================================================================

// Swap executes a swap against a pool and accounts the result to the
// session.
func (pm *PoolManager) Swap(s *Session, key PoolKey, params SwapParams) (BalanceDelta, error) {
	f, err := s.frame()
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return ZeroBalanceDelta(), fmt.Errorf("%w: swap amount is zero", ErrInvalidAmount)
	}
	if !inInt128(params.AmountSpecified) {
		return ZeroBalanceDelta(), fmt.Errorf("%w: swap amount %s", ErrDeltaOverflow, params.AmountSpecified)
	}

	var delta BalanceDelta
	err = pm.atomic(func() error {
		if err := pm.callBeforeSwap(s, key, params); err != nil {
			return err
		}

		poolID := key.ID()
		pool := pm.getPool(poolID)
		if !pool.IsInitialized() {
			return ErrPoolNotInitialized
		}

		limit, err := swapPriceLimit(pool, params)
		if err != nil {
			return err
		}
		delta, err = pm.executeSwap(poolID, key, pool, params, limit)
		if err != nil {
			return err
		}
		pm.setPool(poolID, pool)

		if params.MinAmountOut != nil {
			out := new(big.Int).Neg(delta.Amount1)
			if !params.ZeroForOne {
				out.Neg(delta.Amount0)
			}
			if out.Cmp(params.MinAmountOut) < 0 {
				return fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, out, params.MinAmountOut)
			}
		}

		if err := pm.accountPairDebt(f, key.Currency0, key.Currency1, delta.Amount0, delta.Amount1); err != nil {
			return err
		}
		return pm.callAfterSwap(s, key, params, delta)
	})
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	return delta, nil
}

func swapPriceLimit(pool *Pool, params SwapParams) (*big.Int, error) {
	limit := params.SqrtPriceLimitX96
	if params.ZeroForOne {
		if limit == nil {
			limit = new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
		}
		if limit.Cmp(pool.SqrtPriceX96) >= 0 || limit.Cmp(MinSqrtRatio) <= 0 {
			return nil, fmt.Errorf("%w: %s for price %s", ErrInvalidPriceLimit, limit, pool.SqrtPriceX96)
		}
		return limit, nil
	}
	if limit == nil {
		limit = new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
	}
	if limit.Cmp(pool.SqrtPriceX96) <= 0 || limit.Cmp(MaxSqrtRatio) >= 0 {
		return nil, fmt.Errorf("%w: %s for price %s", ErrInvalidPriceLimit, limit, pool.SqrtPriceX96)
	}
	return limit, nil
}

// executeSwap walks initialized ticks until the amount is used up or the
// price limit is reached. pool is updated in place.
func (pm *PoolManager) executeSwap(poolID [32]byte, key PoolKey, pool *Pool, params SwapParams, limit *big.Int) (BalanceDelta, error) {
	zeroForOne := params.ZeroForOne
	exactInput := params.AmountSpecified.Sign() > 0

	remaining := new(big.Int).Set(params.AmountSpecified)
	calculated := new(big.Int)
	sqrtPrice := new(big.Int).Set(pool.SqrtPriceX96)
	tick := pool.Tick
	liquidity := new(big.Int).Set(pool.Liquidity)
	feeGrowth0 := new(big.Int).Set(pool.FeeGrowth0X128)
	feeGrowth1 := new(big.Int).Set(pool.FeeGrowth1X128)

	for remaining.Sign() != 0 && sqrtPrice.Cmp(limit) != 0 {
		stepStart := new(big.Int).Set(sqrtPrice)

		tickNext, initialized := pm.nextInitializedTick(poolID, key, tick, zeroForOne)
		sqrtNext, err := TickToSqrtPriceX96(tickNext)
		if err != nil {
			return ZeroBalanceDelta(), err
		}
		target := sqrtNext
		if (zeroForOne && sqrtNext.Cmp(limit) < 0) || (!zeroForOne && sqrtNext.Cmp(limit) > 0) {
			target = limit
		}

		next, amountIn, amountOut, feeAmount, err := ComputeSwapStep(sqrtPrice, target, liquidity, remaining, key.Fee)
		if err != nil {
			return ZeroBalanceDelta(), err
		}
		sqrtPrice = next

		if exactInput {
			remaining.Sub(remaining, amountIn)
			remaining.Sub(remaining, feeAmount)
			calculated.Sub(calculated, amountOut)
		} else {
			remaining.Add(remaining, amountOut)
			calculated.Add(calculated, amountIn)
			calculated.Add(calculated, feeAmount)
		}

		if feeAmount.Sign() > 0 {
			if liquidity.Sign() > 0 {
				growth := new(big.Int).Mul(feeAmount, Q128)
				growth.Quo(growth, liquidity)
				if zeroForOne {
					wrap256(feeGrowth0.Add(feeGrowth0, growth))
				} else {
					wrap256(feeGrowth1.Add(feeGrowth1, growth))
				}
			} else if zeroForOne {
				pool.ProtocolFees0.Add(pool.ProtocolFees0, feeAmount)
			} else {
				pool.ProtocolFees1.Add(pool.ProtocolFees1, feeAmount)
			}
		}

		if sqrtPrice.Cmp(sqrtNext) == 0 {
			if initialized {
				net := pm.crossTick(poolID, tickNext, feeGrowth0, feeGrowth1)
				if zeroForOne {
					net.Neg(net)
				}
				liquidity.Add(liquidity, net)
				if liquidity.Sign() < 0 {
					return ZeroBalanceDelta(), fmt.Errorf("%w: negative active liquidity crossing tick %d", ErrInsufficientLiquidity, tickNext)
				}
			}
			if zeroForOne {
				tick = tickNext - 1
			} else {
				tick = tickNext
			}
		} else if sqrtPrice.Cmp(stepStart) != 0 {
			tick, err = SqrtPriceX96ToTick(sqrtPrice)
			if err != nil {
				return ZeroBalanceDelta(), err
			}
		}
	}

	pool.SqrtPriceX96 = sqrtPrice
	pool.Tick = tick
	pool.Liquidity = liquidity
	pool.FeeGrowth0X128 = feeGrowth0
	pool.FeeGrowth1X128 = feeGrowth1

	specifiedUsed := new(big.Int).Sub(params.AmountSpecified, remaining)
	if zeroForOne == exactInput {
		return BalanceDelta{Amount0: specifiedUsed, Amount1: calculated}, nil
	}
	return BalanceDelta{Amount0: calculated, Amount1: specifiedUsed}, nil
}

// nextInitializedTick returns the next initialized tick in the swap
// direction within one bitmap word, or the word boundary if there is none.
// Searching down includes the current tick.
func (pm *PoolManager) nextInitializedTick(poolID [32]byte, key PoolKey, tick int24, lte bool) (int24, bool) {
	spacing := key.spacing()
	compressed := floorDiv(tick, spacing)
	bm := pm.tickBitmap(poolID)
	if lte {
		limit := max((compressed>>8)<<8, MinTick/spacing)
		if pos, ok := bm.PrevSet(compressed, limit); ok {
			return pos * spacing, true
		}
		if limit == MinTick/spacing {
			return MinTick, false
		}
		return limit * spacing, false
	}
	limit := min(((compressed+1)>>8)<<8+255, MaxTick/spacing)
	if pos, ok := bm.NextSet(compressed, limit); ok {
		return pos * spacing, true
	}
	if limit == MaxTick/spacing {
		return MaxTick, false
	}
	return limit * spacing, false
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// crossTick flips the fee growth outside of tick and returns its net
// liquidity.
func (pm *PoolManager) crossTick(poolID [32]byte, tick int24, feeGrowth0, feeGrowth1 *big.Int) *big.Int {
	info := pm.getTick(poolID, tick)
	info.FeeGrowthOutside0X128 = wrap256(new(big.Int).Sub(feeGrowth0, info.FeeGrowthOutside0X128))
	info.FeeGrowthOutside1X128 = wrap256(new(big.Int).Sub(feeGrowth1, info.FeeGrowthOutside1X128))
	pm.setTick(poolID, tick, info)
	return new(big.Int).Set(info.LiquidityNet)
}

// =========================================================================
// Liquidity
// =========================================================================

// ModifyLiquidity adds or removes liquidity of the acting identity's
// position. Fees earned so far are credited to the position and paid out
// by CollectFees.
func (pm *PoolManager) ModifyLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams) (BalanceDelta, error) {
	f, err := s.frame()
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	if err := validateTicks(key, params.TickLower, params.TickUpper); err != nil {
		return ZeroBalanceDelta(), err
	}
	liquidityDelta := params.LiquidityDelta
	if liquidityDelta == nil {
		liquidityDelta = new(big.Int)
	}
	if !inInt128(liquidityDelta) {
		return ZeroBalanceDelta(), fmt.Errorf("%w: %s", ErrLiquidityOverflow, liquidityDelta)
	}

	var delta BalanceDelta
	err = pm.atomic(func() error {
		if err := pm.callBeforeModifyLiquidity(s, key, params); err != nil {
			return err
		}

		poolID := key.ID()
		pool := pm.getPool(poolID)
		if !pool.IsInitialized() {
			return ErrPoolNotInitialized
		}

		positionKey := PositionKey(s.Actor(), poolID, params.TickLower, params.TickUpper, params.Salt)
		if err := pm.updatePosition(poolID, key, pool, positionKey, params.TickLower, params.TickUpper, liquidityDelta); err != nil {
			return err
		}
		amount0, amount1, err := liquidityAmounts(pool, params.TickLower, params.TickUpper, liquidityDelta)
		if err != nil {
			return err
		}
		pm.setPool(poolID, pool)

		delta = BalanceDelta{Amount0: amount0, Amount1: amount1}
		if err := pm.accountPairDebt(f, key.Currency0, key.Currency1, amount0, amount1); err != nil {
			return err
		}
		return pm.callAfterModifyLiquidity(s, key, params, delta)
	})
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	return delta, nil
}

func validateTicks(key PoolKey, tickLower, tickUpper int24) error {
	if tickLower >= tickUpper || tickLower < MinTick || tickUpper > MaxTick {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidTickRange, tickLower, tickUpper)
	}
	switch key.Kind {
	case PoolKindRange:
		if tickLower != key.RangeLower || tickUpper != key.RangeUpper {
			return fmt.Errorf("%w: positions must span the active range [%d, %d)",
				ErrInvalidTickRange, key.RangeLower, key.RangeUpper)
		}
	default:
		if key.TickSpacing <= 0 || tickLower%key.TickSpacing != 0 || tickUpper%key.TickSpacing != 0 {
			return fmt.Errorf("%w: [%d, %d) not aligned to spacing %d",
				ErrInvalidTickRange, tickLower, tickUpper, key.TickSpacing)
		}
	}
	return nil
}

// updatePosition applies liquidityDelta to the position and its ticks and
// credits the fees earned since the last update.
func (pm *PoolManager) updatePosition(
	poolID [32]byte,
	key PoolKey,
	pool *Pool,
	positionKey [32]byte,
	tickLower, tickUpper int24,
	liquidityDelta *big.Int,
) error {
	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		var err error
		flippedLower, err = pm.updateTick(poolID, tickLower, pool, liquidityDelta, false)
		if err != nil {
			return err
		}
		flippedUpper, err = pm.updateTick(poolID, tickUpper, pool, liquidityDelta, true)
		if err != nil {
			return err
		}
		bm := pm.tickBitmap(poolID)
		if flippedLower {
			bm.Flip(tickLower / key.spacing())
		}
		if flippedUpper {
			bm.Flip(tickUpper / key.spacing())
		}
	}

	inside0, inside1 := pm.feeGrowthInside(poolID, pool, tickLower, tickUpper)

	pos := pm.getPosition(positionKey)
	owed0 := feesOwed(pos.Liquidity, inside0, pos.FeeGrowthInside0LastX128)
	owed1 := feesOwed(pos.Liquidity, inside1, pos.FeeGrowthInside1LastX128)

	pos.Liquidity = new(big.Int).Add(pos.Liquidity, liquidityDelta)
	if pos.Liquidity.Sign() < 0 {
		return fmt.Errorf("%w: position liquidity would be %s", ErrInsufficientLiquidity, pos.Liquidity)
	}
	pos.FeeGrowthInside0LastX128 = inside0
	pos.FeeGrowthInside1LastX128 = inside1
	pos.TokensOwed0 = new(big.Int).Add(pos.TokensOwed0, owed0)
	pos.TokensOwed1 = new(big.Int).Add(pos.TokensOwed1, owed1)
	if pos.TokensOwed0.Cmp(MaxUint128) > 0 || pos.TokensOwed1.Cmp(MaxUint128) > 0 {
		return fmt.Errorf("%w: position fees exceed uint128", ErrLiquidityOverflow)
	}
	pm.setPosition(positionKey, pos)

	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			pm.clearTick(poolID, tickLower)
		}
		if flippedUpper {
			pm.clearTick(poolID, tickUpper)
		}
	}
	return nil
}

func feesOwed(liquidity, inside, last *big.Int) *big.Int {
	growth := wrap256(new(big.Int).Sub(inside, last))
	owed := growth.Mul(growth, liquidity)
	return owed.Rsh(owed, 128)
}

// updateTick applies liquidityDelta to a tick boundary and reports whether
// the tick flipped between initialized and uninitialized.
func (pm *PoolManager) updateTick(poolID [32]byte, tick int24, pool *Pool, liquidityDelta *big.Int, upper bool) (bool, error) {
	info := pm.getTick(poolID, tick)
	grossBefore := info.LiquidityGross
	grossAfter := new(big.Int).Add(grossBefore, liquidityDelta)
	if grossAfter.Sign() < 0 {
		return false, fmt.Errorf("%w: tick %d", ErrInsufficientLiquidity, tick)
	}
	if grossAfter.Cmp(MaxUint128) > 0 {
		return false, fmt.Errorf("%w: tick %d", ErrLiquidityOverflow, tick)
	}
	flipped := (grossAfter.Sign() == 0) != (grossBefore.Sign() == 0)

	if grossBefore.Sign() == 0 && tick <= pool.Tick {
		// all growth so far happened below the tick
		info.FeeGrowthOutside0X128 = new(big.Int).Set(pool.FeeGrowth0X128)
		info.FeeGrowthOutside1X128 = new(big.Int).Set(pool.FeeGrowth1X128)
	}
	info.LiquidityGross = grossAfter
	if upper {
		info.LiquidityNet = new(big.Int).Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet = new(big.Int).Add(info.LiquidityNet, liquidityDelta)
	}
	pm.setTick(poolID, tick, info)
	return flipped, nil
}

func (pm *PoolManager) feeGrowthInside(poolID [32]byte, pool *Pool, tickLower, tickUpper int24) (*big.Int, *big.Int) {
	lower := pm.getTick(poolID, tickLower)
	upper := pm.getTick(poolID, tickUpper)

	inside := func(global, lowerOutside, upperOutside *big.Int) *big.Int {
		below := lowerOutside
		if pool.Tick < tickLower {
			below = new(big.Int).Sub(global, lowerOutside)
		}
		above := upperOutside
		if pool.Tick >= tickUpper {
			above = new(big.Int).Sub(global, upperOutside)
		}
		out := new(big.Int).Sub(global, below)
		return wrap256(out.Sub(out, above))
	}
	return inside(pool.FeeGrowth0X128, lower.FeeGrowthOutside0X128, upper.FeeGrowthOutside0X128),
		inside(pool.FeeGrowth1X128, lower.FeeGrowthOutside1X128, upper.FeeGrowthOutside1X128)
}

// liquidityAmounts returns the token amounts for a liquidity change over
// [tickLower, tickUpper) and updates the active liquidity when the current
// tick is inside the range. The same gate applies to every pool kind.
func liquidityAmounts(pool *Pool, tickLower, tickUpper int24, liquidityDelta *big.Int) (*big.Int, *big.Int, error) {
	amount0, amount1 := new(big.Int), new(big.Int)
	if liquidityDelta.Sign() == 0 {
		return amount0, amount1, nil
	}
	sqrtLower, err := TickToSqrtPriceX96(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := TickToSqrtPriceX96(tickUpper)
	if err != nil {
		return nil, nil, err
	}

	adding := liquidityDelta.Sign() > 0
	abs := new(big.Int).Abs(liquidityDelta)
	switch {
	case pool.Tick < tickLower:
		amount0 = GetAmount0Delta(sqrtLower, sqrtUpper, abs, adding)
	case pool.Tick < tickUpper:
		amount0 = GetAmount0Delta(pool.SqrtPriceX96, sqrtUpper, abs, adding)
		amount1 = GetAmount1Delta(sqrtLower, pool.SqrtPriceX96, abs, adding)

		active := new(big.Int).Add(pool.Liquidity, liquidityDelta)
		if active.Sign() < 0 {
			return nil, nil, fmt.Errorf("%w: active liquidity would be %s", ErrInsufficientLiquidity, active)
		}
		if active.Cmp(MaxUint128) > 0 {
			return nil, nil, ErrLiquidityOverflow
		}
		pool.Liquidity = active
	default:
		amount1 = GetAmount1Delta(sqrtLower, sqrtUpper, abs, adding)
	}

	if !adding {
		amount0.Neg(amount0)
		amount1.Neg(amount1)
	}
	return amount0, amount1, nil
}

// =========================================================================
// Fees
// =========================================================================

// CollectFees pays the fees earned by the acting identity's position to the
// session.
func (pm *PoolManager) CollectFees(s *Session, key PoolKey, tickLower, tickUpper int24, salt [32]byte) (BalanceDelta, error) {
	f, err := s.frame()
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	if err := validateTicks(key, tickLower, tickUpper); err != nil {
		return ZeroBalanceDelta(), err
	}

	var fees BalanceDelta
	err = pm.atomic(func() error {
		if err := pm.callBeforeCollectFees(s, key, tickLower, tickUpper, salt); err != nil {
			return err
		}

		poolID := key.ID()
		pool := pm.getPool(poolID)
		if !pool.IsInitialized() {
			return ErrPoolNotInitialized
		}
		positionKey := PositionKey(s.Actor(), poolID, tickLower, tickUpper, salt)
		if err := pm.updatePosition(poolID, key, pool, positionKey, tickLower, tickUpper, new(big.Int)); err != nil {
			return err
		}

		pos := pm.getPosition(positionKey)
		fees = BalanceDelta{
			Amount0: new(big.Int).Neg(pos.TokensOwed0),
			Amount1: new(big.Int).Neg(pos.TokensOwed1),
		}
		pos.TokensOwed0 = new(big.Int)
		pos.TokensOwed1 = new(big.Int)
		pm.setPosition(positionKey, pos)

		if err := pm.accountPairDebt(f, key.Currency0, key.Currency1, fees.Amount0, fees.Amount1); err != nil {
			return err
		}
		return pm.callAfterCollectFees(s, key, tickLower, tickUpper, salt, fees)
	})
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	return fees, nil
}

// Donate distributes amounts to the pool's in-range liquidity providers.
func (pm *PoolManager) Donate(s *Session, key PoolKey, amount0, amount1 *big.Int) (BalanceDelta, error) {
	f, err := s.frame()
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	amount0, amount1, err = feeAmounts(amount0, amount1)
	if err != nil {
		return ZeroBalanceDelta(), err
	}

	delta := NewBalanceDelta(amount0, amount1)
	err = pm.atomic(func() error {
		if err := pm.callBeforeDonate(s, key, amount0, amount1); err != nil {
			return err
		}

		poolID := key.ID()
		pool := pm.getPool(poolID)
		if !pool.IsInitialized() {
			return ErrPoolNotInitialized
		}
		// Require liquidity to exist for donations
		if pool.Liquidity.Sign() <= 0 {
			return ErrNoLiquidity
		}

		creditFees(pool, amount0, amount1)
		pm.setPool(poolID, pool)
		if err := pm.accountPairDebt(f, key.Currency0, key.Currency1, amount0, amount1); err != nil {
			return err
		}
		return pm.callAfterDonate(s, key, amount0, amount1)
	})
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	return delta, nil
}

// AccumulateAsFees lets a pool's extension pay amounts as fees. With no
// active liquidity the amounts are credited to the pool's protocol fees,
// collectable by the protocol fee controller.
func (pm *PoolManager) AccumulateAsFees(s *Session, key PoolKey, amount0, amount1 *big.Int) error {
	f, err := s.frame()
	if err != nil {
		return err
	}
	if key.Hooks == (common.Address{}) || s.Actor() != key.Hooks {
		return fmt.Errorf("%w: only the pool extension can accumulate fees", ErrUnauthorized)
	}
	amount0, amount1, err = feeAmounts(amount0, amount1)
	if err != nil {
		return err
	}
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return nil
	}

	poolID := key.ID()
	pool := pm.getPool(poolID)
	if !pool.IsInitialized() {
		return ErrPoolNotInitialized
	}
	return pm.atomic(func() error {
		if !creditFees(pool, amount0, amount1) {
			pm.log.Debug("no active liquidity, fees credited to protocol",
				"pool", common.Hash(poolID),
				"amount0", amount0,
				"amount1", amount1,
			)
		}
		pm.setPool(poolID, pool)
		return pm.accountPairDebt(f, key.Currency0, key.Currency1, amount0, amount1)
	})
}

// CollectProtocolFees pays protocol fees of a pool to the session. Only the
// protocol fee controller may call it.
func (pm *PoolManager) CollectProtocolFees(s *Session, key PoolKey, amount0, amount1 *big.Int) (BalanceDelta, error) {
	f, err := s.frame()
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	controller := pm.config.ProtocolFeeController
	if controller == (common.Address{}) || s.Actor() != controller {
		return ZeroBalanceDelta(), fmt.Errorf("%w: not the protocol fee controller", ErrUnauthorized)
	}
	amount0, amount1, err = feeAmounts(amount0, amount1)
	if err != nil {
		return ZeroBalanceDelta(), err
	}

	poolID := key.ID()
	pool := pm.getPool(poolID)
	if !pool.IsInitialized() {
		return ZeroBalanceDelta(), ErrPoolNotInitialized
	}
	if amount0.Cmp(pool.ProtocolFees0) > 0 || amount1.Cmp(pool.ProtocolFees1) > 0 {
		return ZeroBalanceDelta(), fmt.Errorf("%w: exceeds accrued protocol fees", ErrInvalidAmount)
	}

	delta := BalanceDelta{Amount0: new(big.Int).Neg(amount0), Amount1: new(big.Int).Neg(amount1)}
	err = pm.atomic(func() error {
		pool.ProtocolFees0.Sub(pool.ProtocolFees0, amount0)
		pool.ProtocolFees1.Sub(pool.ProtocolFees1, amount1)
		pm.setPool(poolID, pool)
		return pm.accountPairDebt(f, key.Currency0, key.Currency1, delta.Amount0, delta.Amount1)
	})
	if err != nil {
		return ZeroBalanceDelta(), err
	}
	return delta, nil
}

// creditFees adds amounts to the pool's fee growth and reports true, or to
// its protocol fees when there is no active liquidity.
func creditFees(pool *Pool, amount0, amount1 *big.Int) bool {
	if pool.Liquidity.Sign() == 0 {
		pool.ProtocolFees0.Add(pool.ProtocolFees0, amount0)
		pool.ProtocolFees1.Add(pool.ProtocolFees1, amount1)
		return false
	}
	// feeGrowth += amount * 2^128 / liquidity
	growth0 := new(big.Int).Mul(amount0, Q128)
	growth0.Quo(growth0, pool.Liquidity)
	pool.FeeGrowth0X128 = wrap256(new(big.Int).Add(pool.FeeGrowth0X128, growth0))

	growth1 := new(big.Int).Mul(amount1, Q128)
	growth1.Quo(growth1, pool.Liquidity)
	pool.FeeGrowth1X128 = wrap256(new(big.Int).Add(pool.FeeGrowth1X128, growth1))
	return true
}

func feeAmounts(amount0, amount1 *big.Int) (*big.Int, *big.Int, error) {
	if amount0 == nil {
		amount0 = new(big.Int)
	}
	if amount1 == nil {
		amount1 = new(big.Int)
	}
	if amount0.Sign() < 0 || amount1.Sign() < 0 || amount0.Cmp(MaxUint128) > 0 || amount1.Cmp(MaxUint128) > 0 {
		return nil, nil, fmt.Errorf("%w: fee amounts must be in [0, 2^128)", ErrInvalidAmount)
	}
	return amount0, amount1, nil
}

// =========================================================================
// View Functions
// =========================================================================

// GetPool returns pool state
func (pm *PoolManager) GetPool(key PoolKey) (*Pool, error) {
	pool := pm.getPool(key.ID())
	if !pool.IsInitialized() {
		return nil, ErrPoolNotInitialized
	}
	return pool, nil
}

// GetPosition returns position info
func (pm *PoolManager) GetPosition(owner common.Address, key PoolKey, tickLower, tickUpper int24, salt [32]byte) *Position {
	return pm.getPosition(PositionKey(owner, key.ID(), tickLower, tickUpper, salt))
}

// GetTickInfo returns the bookkeeping of an initialized tick.
func (pm *PoolManager) GetTickInfo(key PoolKey, tick int24) *TickInfo {
	return pm.getTick(key.ID(), tick)
}
