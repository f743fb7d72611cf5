// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/lxamm/dex"
	"github.com/luxfi/lxamm/state"
)

var (
	tokenA = dex.Currency{Address: common.HexToAddress("0x00000000000000000000000000000000000000a1")}
	tokenB = dex.Currency{Address: common.HexToAddress("0x00000000000000000000000000000000000000b2")}

	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
	controller = common.HexToAddress("0xc0c0000000000000000000000000000000000000")
	deployer   = common.HexToAddress("0xde00000000000000000000000000000000000000")
	mallory    = common.HexToAddress("0x3a11000000000000000000000000000000000000")

	initialBalance = uint256.MustFromDecimal("1000000000000000000000000000")
)

// forwardFunc is test code registered at an address.
type forwardFunc func(s *dex.Session, originalLocker common.Address, data []byte) ([]byte, error)

func (fn forwardFunc) Forwarded(s *dex.Session, originalLocker common.Address, data []byte) ([]byte, error) {
	return fn(s, originalLocker, data)
}

type fixture struct {
	pm  *dex.PoolManager
	tw  *TWAMM
	key dex.PoolKey
}

// newFixture returns a TWAMM pool initialized at price 1 and time 0.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memdb.New()
	t.Cleanup(func() { db.Close() })

	config := dex.DefaultConfig()
	config.ProtocolFeeController = controller
	pm, err := dex.NewPoolManager(state.New(db), config, nil)
	require.NoError(t, err)

	tw, err := New(pm, HookAddress(deployer, [32]byte{1}), nil)
	require.NoError(t, err)

	for _, holder := range []common.Address{alice, bob, mallory} {
		require.NoError(t, pm.State().AddBalance(tokenA.Address, holder, initialBalance))
		require.NoError(t, pm.State().AddBalance(tokenB.Address, holder, initialBalance))
	}

	key := dex.PoolKey{
		Currency0:   tokenA,
		Currency1:   tokenB,
		Fee:         dex.Fee030,
		TickSpacing: dex.TickSpacing030,
		Hooks:       tw.Address(),
	}
	_, err = pm.Initialize(alice, key, dex.Q96)
	require.NoError(t, err)
	return &fixture{pm: pm, tw: tw, key: key}
}

func (f *fixture) setTime(now uint64) {
	f.pm.State().SetBlockTime(now)
}

// settle pays every positive debt of the session from its actor and
// withdraws every credit to it.
func (f *fixture) settle(t *testing.T, s *dex.Session) {
	t.Helper()
	pm := f.pm
	for _, c := range []dex.Currency{f.key.Currency0, f.key.Currency1} {
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

func (f *fixture) addLiquidity(t *testing.T, owner common.Address, lower, upper int32, liquidity *big.Int) {
	t.Helper()
	_, err := f.pm.Lock(owner, func(s *dex.Session, _ []byte) ([]byte, error) {
		_, err := f.pm.ModifyLiquidity(s, f.key, dex.ModifyLiquidityParams{
			TickLower:      lower,
			TickUpper:      upper,
			LiquidityDelta: liquidity,
		})
		if err != nil {
			return nil, err
		}
		f.settle(t, s)
		return nil, nil
	}, nil)
	require.NoError(t, err)
}

func (f *fixture) updateSaleRate(t *testing.T, owner common.Address, key OrderKey, delta *big.Int) (*big.Int, error) {
	t.Helper()
	var amount *big.Int
	_, err := f.pm.Lock(owner, func(s *dex.Session, _ []byte) ([]byte, error) {
		var err error
		amount, err = f.tw.UpdateSaleRate(s, [32]byte{}, key, delta)
		if err != nil {
			return nil, err
		}
		f.settle(t, s)
		return nil, nil
	}, nil)
	return amount, err
}

func (f *fixture) collect(t *testing.T, owner common.Address, key OrderKey) (*uint256.Int, error) {
	t.Helper()
	var proceeds *uint256.Int
	_, err := f.pm.Lock(owner, func(s *dex.Session, _ []byte) ([]byte, error) {
		var err error
		proceeds, err = f.tw.CollectProceeds(s, [32]byte{}, key)
		if err != nil {
			return nil, err
		}
		f.settle(t, s)
		return nil, nil
	}, nil)
	return proceeds, err
}

func (f *fixture) execute(t *testing.T) {
	t.Helper()
	_, err := f.pm.Lock(bob, func(s *dex.Session, _ []byte) ([]byte, error) {
		return nil, f.tw.LockAndExecuteVirtualOrders(s, f.key)
	}, nil)
	require.NoError(t, err)
}

func (f *fixture) poolState(t *testing.T) *PoolState {
	t.Helper()
	ps, err := f.tw.PoolState(f.key)
	require.NoError(t, err)
	return ps
}

func (f *fixture) orderKey(sellToken1 bool, start, end uint64) OrderKey {
	return OrderKey{Pool: f.key, IsSellingToken1: sellToken1, StartTime: start, EndTime: end}
}

// rate converts whole tokens per second into a sale rate.
func rate(tokensPerSecond int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(tokensPerSecond), SaleRateFractionalBits)
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}
