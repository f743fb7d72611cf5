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

// paymentKey scopes a balance snapshot to one session, so a nested session
// paying the same currency cannot consume its parent's snapshot.
type paymentKey struct {
	session  uint32
	currency Currency
}

// StartPayments records the pool manager's balance of each currency. Tokens
// transferred in before CompletePayments are credited to the session.
func (pm *PoolManager) StartPayments(s *Session, currencies ...Currency) error {
	if _, err := s.frame(); err != nil {
		return err
	}
	for _, c := range currencies {
		pm.setPaymentSnapshot(paymentKey{s.id, c}, pm.state.GetBalance(c.Address, pm.address))
	}
	return nil
}

// CompletePayments credits the session with what arrived in each currency
// since StartPayments and clears the snapshots. A currency without a
// snapshot is credited zero. Either every currency is credited or none is.
//
// A credited payment is booked, so the open snapshots of other sessions
// move up by the same amount and never credit it a second time.
func (pm *PoolManager) CompletePayments(s *Session, currencies ...Currency) ([]*big.Int, error) {
	f, err := s.frame()
	if err != nil {
		return nil, err
	}
	received := make([]*big.Int, len(currencies))
	err = pm.atomic(func() error {
		for i, c := range currencies {
			key := paymentKey{s.id, c}
			snapshot, ok := pm.payments[key]
			if !ok {
				pm.log.Debug("no payment snapshot", "session", s.id, "currency", c)
				received[i] = new(big.Int)
				continue
			}
			pm.setPaymentSnapshot(key, nil)

			amount := new(big.Int)
			if current := pm.state.GetBalance(c.Address, pm.address); !current.Lt(snapshot) {
				amount = new(uint256.Int).Sub(current, snapshot).ToBig()
			}
			if amount.Cmp(MaxInt128) > 0 {
				return fmt.Errorf("%w: currency=%s amount=%s", ErrPaymentOverflow, c, amount)
			}
			if err := pm.accountDebt(f, c, new(big.Int).Neg(amount)); err != nil {
				return err
			}
			pm.shiftPayments(c, amount)
			received[i] = amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return received, nil
}

// shiftPayments moves every open snapshot of currency by delta, clamped at
// zero. It is applied whenever the ledger books a change of the pool
// manager's balance, so that only unbooked transfers are ever credited.
func (pm *PoolManager) shiftPayments(currency Currency, delta *big.Int) {
	if delta.Sign() == 0 {
		return
	}
	abs, _ := uint256.FromBig(new(big.Int).Abs(delta))
	for key, snapshot := range pm.payments {
		if key.currency != currency {
			continue
		}
		next := new(uint256.Int)
		if delta.Sign() > 0 {
			var overflow bool
			if next, overflow = next.AddOverflow(snapshot, abs); overflow {
				next.SetAllOne()
			}
		} else if !snapshot.Lt(abs) {
			next.Sub(snapshot, abs)
		}
		pm.setPaymentSnapshot(key, next)
	}
}

// transfer moves amount between two accounts and shifts the open payment
// snapshots by the resulting change of the pool manager's balance.
func (pm *PoolManager) transfer(currency Currency, from, to common.Address, amount *uint256.Int) error {
	if err := pm.state.Transfer(currency.Address, from, to, amount); err != nil {
		return err
	}
	switch {
	case from == to:
	case to == pm.address:
		pm.shiftPayments(currency, amount.ToBig())
	case from == pm.address:
		pm.shiftPayments(currency, new(big.Int).Neg(amount.ToBig()))
	}
	return nil
}

// setPaymentSnapshot sets or, with a nil value, clears a snapshot.
func (pm *PoolManager) setPaymentSnapshot(key paymentKey, value *uint256.Int) {
	prev, had := pm.payments[key]
	if value == nil {
		delete(pm.payments, key)
	} else {
		pm.payments[key] = value
	}
	pm.state.AppendUndo(func() {
		if had {
			pm.payments[key] = prev
		} else {
			delete(pm.payments, key)
		}
	})
}

func (pm *PoolManager) clearPayments(session uint32) {
	for key := range pm.payments {
		if key.session == session {
			delete(pm.payments, key)
		}
	}
}

// =========================================================================
// Native value
// =========================================================================

// PayNative moves amount of the native currency from the acting identity to
// the pool manager. It first settles the session's native debt, any excess
// is credited to the depositor and can only be reclaimed by it.
func (pm *PoolManager) PayNative(s *Session, amount *big.Int) error {
	f, err := s.frame()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 || amount.Cmp(MaxUint128) > 0 {
		return fmt.Errorf("%w: native payment %v", ErrInvalidAmount, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	return pm.atomic(func() error {
		depositor := s.Actor()
		value, _ := uint256.FromBig(amount)
		if err := pm.transfer(NativeCurrency, depositor, pm.address, value); err != nil {
			return err
		}

		applied := new(big.Int)
		if debt, ok := f.debts[NativeCurrency]; ok && debt.Sign() > 0 {
			applied.Set(debt)
			if applied.Cmp(amount) > 0 {
				applied.Set(amount)
			}
		}
		if err := pm.accountDebt(f, NativeCurrency, new(big.Int).Neg(applied)); err != nil {
			return err
		}

		excess := new(big.Int).Sub(amount, applied)
		if excess.Sign() > 0 {
			key := nativeCreditKey(depositor)
			credit := pm.state.GetUint(pm.address, key)
			credit.Add(credit, uint256.MustFromBig(excess))
			pm.state.SetUint(pm.address, key, credit)
		}
		return nil
	})
}

// RefundNative returns the acting identity's native excess to it.
func (pm *PoolManager) RefundNative(s *Session) (*big.Int, error) {
	if _, err := s.frame(); err != nil {
		return nil, err
	}
	depositor := s.Actor()
	key := nativeCreditKey(depositor)
	credit := pm.state.GetUint(pm.address, key)
	if credit.IsZero() {
		return new(big.Int), nil
	}
	err := pm.atomic(func() error {
		pm.state.SetUint(pm.address, key, new(uint256.Int))
		return pm.transfer(NativeCurrency, pm.address, depositor, credit)
	})
	if err != nil {
		return nil, err
	}
	return credit.ToBig(), nil
}

// NativeCredit returns the refundable native excess of depositor.
func (pm *PoolManager) NativeCredit(depositor common.Address) *big.Int {
	return pm.state.GetUint(pm.address, nativeCreditKey(depositor)).ToBig()
}

func nativeCreditKey(depositor common.Address) common.Hash {
	return state.Key("ncrd", depositor.Bytes())
}
