// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/lxamm/state"
)

// UpdateSavedBalances moves value between the session and balances the
// acting identity keeps inside the pool manager. Positive deltas save
// tokens and are owed by the session, negative deltas release them.
func (pm *PoolManager) UpdateSavedBalances(s *Session, c0, c1 Currency, salt [32]byte, delta0, delta1 *big.Int) error {
	f, err := s.frame()
	if err != nil {
		return err
	}
	if !c0.Less(c1) {
		return ErrCurrencyNotSorted
	}
	if delta0 == nil {
		delta0 = new(big.Int)
	}
	if delta1 == nil {
		delta1 = new(big.Int)
	}
	owner := s.Actor()
	key0, key1 := savedBalanceKeys(owner, c0, c1, salt)

	next0, err := pm.nextSavedBalance(key0, c0, delta0)
	if err != nil {
		return err
	}
	next1, err := pm.nextSavedBalance(key1, c1, delta1)
	if err != nil {
		return err
	}
	return pm.atomic(func() error {
		if err := pm.accountPairDebt(f, c0, c1, delta0, delta1); err != nil {
			return err
		}
		pm.state.SetUint(pm.address, key0, next0)
		pm.state.SetUint(pm.address, key1, next1)
		return nil
	})
}

// GetSavedBalances returns the balances owner saved under salt.
func (pm *PoolManager) GetSavedBalances(owner common.Address, c0, c1 Currency, salt [32]byte) (*big.Int, *big.Int) {
	key0, key1 := savedBalanceKeys(owner, c0, c1, salt)
	return pm.state.GetUint(pm.address, key0).ToBig(), pm.state.GetUint(pm.address, key1).ToBig()
}

func (pm *PoolManager) nextSavedBalance(key common.Hash, c Currency, delta *big.Int) (*uint256.Int, error) {
	next := new(big.Int).Add(pm.state.GetUint(pm.address, key).ToBig(), delta)
	if next.Sign() < 0 {
		return nil, fmt.Errorf("%w: currency=%s short by %s", ErrInsufficientSavedBalance, c, new(big.Int).Neg(next))
	}
	if next.Cmp(MaxUint128) > 0 {
		return nil, fmt.Errorf("%w: currency=%s", ErrSavedBalanceOverflow, c)
	}
	return uint256.MustFromBig(next), nil
}

func savedBalanceKeys(owner common.Address, c0, c1 Currency, salt [32]byte) (common.Hash, common.Hash) {
	return state.Key("svbl", owner.Bytes(), c0.ToBytes(), c1.ToBytes(), salt[:], []byte{0}),
		state.Key("svbl", owner.Bytes(), c0.ToBytes(), c1.ToBytes(), salt[:], []byte{1})
}
