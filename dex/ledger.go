// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// AccountDebt adds delta to the session's debt in currency. Positive deltas
// are owed by the session, negative ones are owed to it. Only a registered
// extension can move debt directly.
func (pm *PoolManager) AccountDebt(s *Session, currency Currency, delta *big.Int) error {
	f, err := pm.extensionFrame(s)
	if err != nil {
		return err
	}
	return pm.accountDebt(f, currency, delta)
}

// AccountPairDebt adds delta0 and delta1 to the session's debts in c0 and
// c1. Either both are applied or neither is.
func (pm *PoolManager) AccountPairDebt(s *Session, c0, c1 Currency, delta0, delta1 *big.Int) error {
	f, err := pm.extensionFrame(s)
	if err != nil {
		return err
	}
	return pm.accountPairDebt(f, c0, c1, delta0, delta1)
}

func (pm *PoolManager) extensionFrame(s *Session) (*sessionFrame, error) {
	f, err := s.frame()
	if err != nil {
		return nil, err
	}
	if !pm.hooks.IsExtension(s.actor) {
		return nil, fmt.Errorf("%w: %s is not an extension", ErrUnauthorized, s.actor.Hex())
	}
	return f, nil
}

// Debt returns the session's current debt in currency.
func (pm *PoolManager) Debt(s *Session, currency Currency) (*big.Int, error) {
	f, err := s.frame()
	if err != nil {
		return nil, err
	}
	if d, ok := f.debts[currency]; ok {
		return new(big.Int).Set(d), nil
	}
	return new(big.Int), nil
}

// NonzeroDebtCount returns the number of currencies the session has an
// outstanding debt in.
func (pm *PoolManager) NonzeroDebtCount(s *Session) (int, error) {
	f, err := s.frame()
	if err != nil {
		return 0, err
	}
	return f.nonzero, nil
}

func (pm *PoolManager) accountDebt(f *sessionFrame, currency Currency, delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	if !inInt128(delta) {
		return fmt.Errorf("%w: currency=%s delta=%s", ErrDeltaOverflow, currency, delta)
	}
	next, err := nextDebt(f, currency, delta)
	if err != nil {
		return err
	}
	pm.setDebt(f, currency, next)
	return nil
}

func (pm *PoolManager) accountPairDebt(f *sessionFrame, c0, c1 Currency, delta0, delta1 *big.Int) error {
	if delta0 == nil {
		delta0 = new(big.Int)
	}
	if delta1 == nil {
		delta1 = new(big.Int)
	}
	if !inInt128(delta0) {
		return fmt.Errorf("%w: currency=%s delta=%s", ErrDeltaOverflow, c0, delta0)
	}
	if !inInt128(delta1) {
		return fmt.Errorf("%w: currency=%s delta=%s", ErrDeltaOverflow, c1, delta1)
	}
	if c0 == c1 {
		next, err := nextDebt(f, c0, new(big.Int).Add(delta0, delta1))
		if err != nil {
			return err
		}
		pm.setDebt(f, c0, next)
		return nil
	}

	next0, err := nextDebt(f, c0, delta0)
	if err != nil {
		return err
	}
	next1, err := nextDebt(f, c1, delta1)
	if err != nil {
		return err
	}
	if delta0.Sign() != 0 {
		pm.setDebt(f, c0, next0)
	}
	if delta1.Sign() != 0 {
		pm.setDebt(f, c1, next1)
	}
	return nil
}

// nextDebt returns the debt after adding delta, bounded to int256.
func nextDebt(f *sessionFrame, currency Currency, delta *big.Int) (*big.Int, error) {
	next := new(big.Int).Set(delta)
	if prev, ok := f.debts[currency]; ok {
		next.Add(next, prev)
	}
	if !inInt256(next) {
		return nil, fmt.Errorf("%w: session=%d currency=%s", ErrDebtOverflow, f.id, currency)
	}
	return next, nil
}

// setDebt stores the debt and journals the previous value.
func (pm *PoolManager) setDebt(f *sessionFrame, currency Currency, next *big.Int) {
	prev, had := f.debts[currency]
	prevNonzero := f.nonzero

	if next.Sign() == 0 {
		delete(f.debts, currency)
		if had {
			f.nonzero--
		}
	} else {
		f.debts[currency] = next
		if !had {
			f.nonzero++
		}
	}

	pm.state.AppendUndo(func() {
		if had {
			f.debts[currency] = prev
		} else {
			delete(f.debts, currency)
		}
		f.nonzero = prevNonzero
	})
}
