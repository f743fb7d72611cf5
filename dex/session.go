// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// LockCallback runs inside a session. Everything it does through s is
// rolled back if it returns an error or leaves a nonzero debt behind.
type LockCallback func(s *Session, data []byte) ([]byte, error)

// Forwardee is code registered at an address. Forwarding to that address
// runs Forwarded with the acting identity set to it. originalLocker is the
// identity that opened the session, however many forwards deep the call is.
type Forwardee interface {
	Forwarded(s *Session, originalLocker common.Address, data []byte) ([]byte, error)
}

// sessionFrame is the arena entry of one session.
type sessionFrame struct {
	id     uint32
	opener common.Address
	// forward stack, the top is the acting identity
	actors []common.Address
	parent int

	debts   map[Currency]*big.Int
	nonzero int
	open    bool
}

// Session is a handle on an open session. A handle is usable only while it
// is the innermost active call: opening a nested session or forwarding
// suspends it until the inner call returns.
type Session struct {
	pm    *PoolManager
	index int
	id    uint32
	tx    uint64
	actor common.Address
	depth int

	locker common.Address
}

// ID returns the session id, unique within the transaction.
func (s *Session) ID() uint32 { return s.id }

// Actor returns the acting identity of this handle.
func (s *Session) Actor() common.Address { return s.actor }

// Locker returns the identity that opened the session.
func (s *Session) Locker() common.Address { return s.locker }

// Manager returns the pool manager the session belongs to.
func (s *Session) Manager() *PoolManager { return s.pm }

// =========================================================================
// Lock / Forward
// =========================================================================

// Lock opens a new transaction and runs cb in its outermost session.
// Nested sessions are opened with Session.Lock. Registered code never
// opens a transaction of its own; it acts only when forwarded to.
func (pm *PoolManager) Lock(caller common.Address, cb LockCallback, data []byte) ([]byte, error) {
	if !pm.mu.TryLock() {
		return nil, ErrReentrant
	}
	defer pm.mu.Unlock()
	if pm.hooks.IsRegistered(caller) {
		return nil, fmt.Errorf("%w: %s is registered code", ErrUnauthorized, caller.Hex())
	}

	pm.tx++
	pm.nextSessionID = 0
	pm.frames = pm.frames[:0]
	pm.active = pm.active[:0]
	pm.payments = make(map[paymentKey]*uint256.Int)

	result, err := pm.runSession(caller, -1, cb, data)
	if err != nil {
		return nil, err
	}
	pm.state.DiscardJournal()
	return result, nil
}

// Lock opens a nested session with its own id and debts, opened by the
// acting identity of s. It must be called from within the callback holding s.
func (s *Session) Lock(cb LockCallback, data []byte) ([]byte, error) {
	if _, err := s.frame(); err != nil {
		return nil, err
	}
	return s.pm.runSession(s.actor, s.index, cb, data)
}

// Forward runs the forwardee registered at to with the acting identity set
// to to. The forwardee receives the session opener as originalLocker.
func (s *Session) Forward(to common.Address, data []byte) ([]byte, error) {
	f, err := s.frame()
	if err != nil {
		return nil, err
	}
	pm := s.pm
	fw, ok := pm.hooks.forwardee(to)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoForwardee, to.Hex())
	}

	f.actors = append(f.actors, to)
	forwarded := &Session{
		pm:    pm,
		index: s.index,
		id:    s.id,
		tx:    s.tx,
		actor: to,
		depth: len(f.actors),

		locker: f.opener,
	}
	snapshot := pm.state.Snapshot()
	done := false
	defer func() {
		f.actors = f.actors[:len(f.actors)-1]
		if !done {
			pm.state.RevertToSnapshot(snapshot)
		}
	}()

	result, err := fw.Forwarded(forwarded, f.opener, data)
	if err != nil {
		return nil, err
	}
	done = true
	return result, nil
}

func (pm *PoolManager) runSession(caller common.Address, parent int, cb LockCallback, data []byte) ([]byte, error) {
	f := &sessionFrame{
		id:     pm.nextSessionID,
		opener: caller,
		actors: []common.Address{caller},
		parent: parent,
		debts:  make(map[Currency]*big.Int),
		open:   true,
	}
	pm.nextSessionID++
	index := len(pm.frames)
	pm.frames = append(pm.frames, f)
	pm.active = append(pm.active, index)
	snapshot := pm.state.Snapshot()
	done := false
	defer func() {
		f.open = false
		pm.active = pm.active[:len(pm.active)-1]
		if !done {
			pm.state.RevertToSnapshot(snapshot)
		}
		pm.clearPayments(f.id)
	}()

	pm.log.Debug("session opened",
		"id", f.id,
		"locker", caller,
		"depth", len(pm.active),
	)

	s := &Session{
		pm:    pm,
		index: index,
		id:    f.id,
		tx:    pm.tx,
		actor: caller,
		depth: 1,

		locker: caller,
	}
	result, err := cb(s, data)
	if err == nil {
		err = pm.verifySettlement(f)
	}
	if err != nil {
		pm.log.Debug("session reverted", "id", f.id, "err", err)
		return nil, err
	}
	done = true
	pm.log.Debug("session closed", "id", f.id)
	return result, nil
}

// verifySettlement ensures the session's debts are all zero.
func (pm *PoolManager) verifySettlement(f *sessionFrame) error {
	if f.nonzero == 0 {
		return nil
	}
	currencies := make([]Currency, 0, len(f.debts))
	for c := range f.debts {
		currencies = append(currencies, c)
	}
	sort.Slice(currencies, func(i, j int) bool {
		return currencies[i].Less(currencies[j])
	})
	c := currencies[0]
	return fmt.Errorf("%w: session=%d currency=%s delta=%s", ErrNonZeroDelta, f.id, c, f.debts[c])
}

// frame returns the frame of s if s is the innermost active handle.
func (s *Session) frame() (*sessionFrame, error) {
	pm := s.pm
	if s.tx != pm.tx || s.index >= len(pm.frames) || len(pm.active) == 0 {
		return nil, ErrSessionNotActive
	}
	f := pm.frames[s.index]
	if f.id != s.id || !f.open || pm.active[len(pm.active)-1] != s.index {
		return nil, ErrSessionNotActive
	}
	if len(f.actors) != s.depth || f.actors[s.depth-1] != s.actor {
		return nil, ErrNotLocker
	}
	return f, nil
}
