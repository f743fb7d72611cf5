// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestAccountDebtTracksNonzeroCount(t *testing.T) {
	pm := newTestManager(t)

	err := asCollaborator(t, pm, func(s *Session) error {
		count := func() int {
			n, err := pm.NonzeroDebtCount(s)
			require.NoError(t, err)
			return n
		}

		require.NoError(t, pm.AccountDebt(s, tokenA, big.NewInt(10)))
		require.NoError(t, pm.AccountDebt(s, tokenB, big.NewInt(-4)))
		require.Equal(t, 2, count())

		require.NoError(t, pm.AccountDebt(s, tokenA, big.NewInt(-10)))
		require.Equal(t, 1, count())

		// zero deltas never change the count
		require.NoError(t, pm.AccountDebt(s, tokenA, new(big.Int)))
		require.Equal(t, 1, count())

		require.NoError(t, pm.AccountDebt(s, tokenB, big.NewInt(4)))
		require.Equal(t, 0, count())
		return nil
	})
	require.NoError(t, err)
}

func TestAccountDebtRequiresExtension(t *testing.T) {
	pm := newTestManager(t)
	fund(t, pm, bob, tokenA)
	addr := common.HexToAddress("0x0000ab0000000000000000000000000000000001")
	fw := newForwardee(t, pm, addr)
	fw.fn = func(s *Session, _ common.Address, _ []byte) ([]byte, error) {
		require.ErrorIs(t, pm.AccountDebt(s, tokenA, big.NewInt(-1)), ErrUnauthorized)
		return nil, nil
	}

	// bob's payment makes the pool manager hold tokens worth stealing
	_, err := pm.Lock(bob, func(s *Session, _ []byte) ([]byte, error) {
		require.NoError(t, pm.StartPayments(s, tokenA))
		require.NoError(t, pm.State().Transfer(tokenA.Address, bob, pm.Address(), uint256.MustFromBig(e18(5))))
		return nil, nil
	}, nil)
	require.NoError(t, err)

	_, err = pm.Lock(alice, func(s *Session, _ []byte) ([]byte, error) {
		credit := new(big.Int).Neg(e18(5))
		require.ErrorIs(t, pm.AccountDebt(s, tokenA, credit), ErrUnauthorized)
		require.ErrorIs(t, pm.AccountPairDebt(s, tokenA, tokenB, credit, credit), ErrUnauthorized)

		count, err := pm.NonzeroDebtCount(s)
		require.NoError(t, err)
		require.Zero(t, count)

		// registered code that is not an extension is refused as well
		_, err = s.Forward(addr, nil)
		require.NoError(t, err)

		// without a credit the withdrawal leaves a debt behind
		return nil, pm.Withdraw(s, tokenA, alice, e18(5))
	}, nil)
	require.ErrorIs(t, err, ErrNonZeroDelta)
	require.Zero(t, balanceOf(pm, tokenA, alice).Sign())
}

func TestAccountDebtDeltaBounds(t *testing.T) {
	pm := newTestManager(t)

	err := asCollaborator(t, pm, func(s *Session) error {
		require.NoError(t, pm.AccountDebt(s, tokenA, MaxInt128))
		require.NoError(t, pm.AccountDebt(s, tokenA, MinInt128))
		require.NoError(t, pm.AccountDebt(s, tokenA, big.NewInt(1)))

		tooLarge := new(big.Int).Add(MaxInt128, big.NewInt(1))
		require.ErrorIs(t, pm.AccountDebt(s, tokenA, tooLarge), ErrDeltaOverflow)
		tooSmall := new(big.Int).Sub(MinInt128, big.NewInt(1))
		require.ErrorIs(t, pm.AccountDebt(s, tokenA, tooSmall), ErrDeltaOverflow)

		debt, err := pm.Debt(s, tokenA)
		require.NoError(t, err)
		require.Zero(t, debt.Sign())
		return nil
	})
	require.NoError(t, err)
}

func TestAccountDebtAccumulatorBound(t *testing.T) {
	pm := newTestManager(t)

	err := asCollaborator(t, pm, func(s *Session) error {
		f, err := s.frame()
		require.NoError(t, err)
		// reaching the int256 edge takes 2^128 maximal deltas
		pm.setDebt(f, tokenA, new(big.Int).Set(MaxInt256))

		require.ErrorIs(t, pm.AccountDebt(s, tokenA, big.NewInt(1)), ErrDebtOverflow)
		debt, err := pm.Debt(s, tokenA)
		require.NoError(t, err)
		require.Equal(t, MaxInt256, debt)

		pm.setDebt(f, tokenA, new(big.Int))
		return nil
	})
	require.NoError(t, err)
}

func TestAccountPairDebtIsAllOrNothing(t *testing.T) {
	pm := newTestManager(t)

	err := asCollaborator(t, pm, func(s *Session) error {
		f, err := s.frame()
		require.NoError(t, err)
		pm.setDebt(f, tokenB, new(big.Int).Set(MaxInt256))

		err = pm.AccountPairDebt(s, tokenA, tokenB, big.NewInt(5), big.NewInt(1))
		require.ErrorIs(t, err, ErrDebtOverflow)

		debt, err := pm.Debt(s, tokenA)
		require.NoError(t, err)
		require.Zero(t, debt.Sign())

		pm.setDebt(f, tokenB, new(big.Int))
		return nil
	})
	require.NoError(t, err)
}

func TestAccountPairDebtSameCurrency(t *testing.T) {
	pm := newTestManager(t)

	err := asCollaborator(t, pm, func(s *Session) error {
		require.NoError(t, pm.AccountPairDebt(s, tokenA, tokenA, big.NewInt(7), big.NewInt(-2)))

		debt, err := pm.Debt(s, tokenA)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(5), debt)

		count, err := pm.NonzeroDebtCount(s)
		require.NoError(t, err)
		require.Equal(t, 1, count)
		return pm.AccountDebt(s, tokenA, big.NewInt(-5))
	})
	require.NoError(t, err)
}

func TestDebtRevertsWithFailedForward(t *testing.T) {
	pm := newTestManager(t)
	inner := newCollaborator(t, pm, otherExtension)
	inner.fn = func(fs *Session, _ common.Address, _ []byte) ([]byte, error) {
		require.NoError(t, pm.AccountDebt(fs, tokenA, big.NewInt(-2)))
		require.NoError(t, pm.AccountDebt(fs, tokenB, big.NewInt(9)))
		return nil, ErrInvalidAmount
	}

	err := asCollaborator(t, pm, func(s *Session) error {
		require.NoError(t, pm.AccountDebt(s, tokenA, big.NewInt(2)))

		// a failed forward restores the debt the forwardee added
		_, err := s.Forward(otherExtension, nil)
		require.ErrorIs(t, err, ErrInvalidAmount)

		debt, err := pm.Debt(s, tokenA)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(2), debt)
		count, err := pm.NonzeroDebtCount(s)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		return pm.AccountDebt(s, tokenA, big.NewInt(-2))
	})
	require.NoError(t, err)
}
