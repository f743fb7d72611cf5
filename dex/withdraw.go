// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Withdraw pays amount of currency from the pool manager to recipient and
// adds it to the session's debt. The debt is recorded before the transfer
// and is rolled back if the transfer fails.
func (pm *PoolManager) Withdraw(s *Session, currency Currency, recipient common.Address, amount *big.Int) error {
	f, err := s.frame()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 || amount.Cmp(MaxUint128) > 0 {
		return fmt.Errorf("%w: withdraw %v", ErrInvalidAmount, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	return pm.atomic(func() error {
		if err := pm.accountDebt(f, currency, amount); err != nil {
			return err
		}
		value, _ := uint256.FromBig(amount)
		if err := pm.transfer(currency, pm.address, recipient, value); err != nil {
			return fmt.Errorf("withdraw %s to %s: %w", currency, recipient.Hex(), err)
		}
		return nil
	})
}

// atomic runs fn and reverts everything it did if it fails.
func (pm *PoolManager) atomic(fn func() error) error {
	snapshot := pm.state.Snapshot()
	if err := fn(); err != nil {
		pm.state.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}
