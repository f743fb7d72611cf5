// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/lxamm/state"
)

var (
	tokenA = Currency{Address: common.HexToAddress("0x00000000000000000000000000000000000000a1")}
	tokenB = Currency{Address: common.HexToAddress("0x00000000000000000000000000000000000000b2")}

	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
	controller = common.HexToAddress("0xc0c0000000000000000000000000000000000000")

	// no hook flags in the leading bytes
	plainExtension = common.HexToAddress("0x0000ee0000000000000000000000000000000001")
	otherExtension = common.HexToAddress("0x0000ee0000000000000000000000000000000002")
	router         = common.HexToAddress("0x0000ee0000000000000000000000000000000003")

	initialBalance = uint256.MustFromDecimal("1000000000000000000000000")
)

func newTestManager(t *testing.T) *PoolManager {
	t.Helper()
	db := memdb.New()
	t.Cleanup(func() { db.Close() })

	config := DefaultConfig()
	config.ProtocolFeeController = controller
	pm, err := NewPoolManager(state.New(db), config, nil)
	require.NoError(t, err)
	return pm
}

// callee is code registered at an address. fn runs when a session forwards
// to it.
type callee struct {
	fn func(s *Session, originalLocker common.Address, data []byte) ([]byte, error)
}

func (c *callee) Forwarded(s *Session, originalLocker common.Address, data []byte) ([]byte, error) {
	if c.fn == nil {
		return nil, nil
	}
	return c.fn(s, originalLocker, data)
}

// newForwardee registers a callee at addr that is not an extension.
func newForwardee(t *testing.T, pm *PoolManager, addr common.Address) *callee {
	t.Helper()
	c := &callee{}
	require.NoError(t, pm.RegisterForwardee(addr, c))
	return c
}

// newCollaborator registers a callee as a hookless extension at addr. As an
// extension it may move session debt directly.
func newCollaborator(t *testing.T, pm *PoolManager, addr common.Address) *callee {
	t.Helper()
	c := &callee{}
	require.NoError(t, pm.RegisterExtension(addr, c, 0))
	return c
}

// asCollaborator opens a session as alice and runs fn in it, acting as a
// collaborator registered at plainExtension.
func asCollaborator(t *testing.T, pm *PoolManager, fn func(s *Session) error) error {
	t.Helper()
	c := newCollaborator(t, pm, plainExtension)
	c.fn = func(s *Session, _ common.Address, _ []byte) ([]byte, error) {
		return nil, fn(s)
	}
	_, err := pm.Lock(alice, func(s *Session, _ []byte) ([]byte, error) {
		return s.Forward(plainExtension, nil)
	}, nil)
	return err
}

func fund(t *testing.T, pm *PoolManager, holder common.Address, currencies ...Currency) {
	t.Helper()
	for _, c := range currencies {
		require.NoError(t, pm.State().AddBalance(c.Address, holder, initialBalance))
	}
}

func testPoolKey() PoolKey {
	return PoolKey{
		Currency0:   tokenA,
		Currency1:   tokenB,
		Fee:         Fee030,
		TickSpacing: TickSpacing030,
	}
}

func initPool(t *testing.T, pm *PoolManager, key PoolKey, tick int24) {
	t.Helper()
	sqrtPrice, err := TickToSqrtPriceX96(tick)
	require.NoError(t, err)
	got, err := pm.Initialize(alice, key, sqrtPrice)
	require.NoError(t, err)
	require.Equal(t, tick, got)
}

// settle pays every positive debt of the session from its actor and
// withdraws every credit to it.
func settle(t *testing.T, pm *PoolManager, s *Session, currencies ...Currency) {
	t.Helper()
	for _, c := range currencies {
		debt, err := pm.Debt(s, c)
		require.NoError(t, err)
		switch debt.Sign() {
		case 1:
			require.NoError(t, pm.StartPayments(s, c))
			require.NoError(t, pm.State().Transfer(c.Address, s.Actor(), pm.Address(), uint256.MustFromBig(debt)))
			_, err := pm.CompletePayments(s, c)
			require.NoError(t, err)
		case -1:
			require.NoError(t, pm.Withdraw(s, c, s.Actor(), new(big.Int).Neg(debt)))
		}
	}
}

func addLiquidity(t *testing.T, pm *PoolManager, owner common.Address, key PoolKey, lower, upper int24, liquidity *big.Int) BalanceDelta {
	t.Helper()
	var delta BalanceDelta
	_, err := pm.Lock(owner, func(s *Session, _ []byte) ([]byte, error) {
		var err error
		delta, err = pm.ModifyLiquidity(s, key, ModifyLiquidityParams{
			TickLower:      lower,
			TickUpper:      upper,
			LiquidityDelta: liquidity,
		})
		if err != nil {
			return nil, err
		}
		settle(t, pm, s, key.Currency0, key.Currency1)
		return nil, nil
	}, nil)
	require.NoError(t, err)
	return delta
}

func swap(t *testing.T, pm *PoolManager, trader common.Address, key PoolKey, params SwapParams) (BalanceDelta, error) {
	var delta BalanceDelta
	_, err := pm.Lock(trader, func(s *Session, _ []byte) ([]byte, error) {
		var err error
		delta, err = pm.Swap(s, key, params)
		if err != nil {
			return nil, err
		}
		settle(t, pm, s, key.Currency0, key.Currency1)
		return nil, nil
	}, nil)
	return delta, err
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func balanceOf(pm *PoolManager, c Currency, holder common.Address) *big.Int {
	return pm.State().GetBalance(c.Address, holder).ToBig()
}
