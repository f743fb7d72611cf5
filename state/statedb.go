// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides the journaled key/value state the AMM core runs on.
//
// Every write is recorded in a journal so a session can be rolled back
// exactly, including writes made by nested sessions that already returned.
// Committed writes are flushed to a luxfi/database backend.
package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

var (
	storagePrefix = []byte("s")
	balancePrefix = []byte("b")
)

type slotKey struct {
	addr common.Address
	key  common.Hash
}

type balanceKey struct {
	token  common.Address
	holder common.Address
}

// StateDB is an in-memory overlay over a database.Database. Reads fall
// through to the database, writes stay in the overlay until Commit.
//
// StateDB is not safe for concurrent use.
type StateDB struct {
	db database.Database

	storage  map[slotKey]common.Hash
	balances map[balanceKey]*uint256.Int

	journal   *journal
	blockTime uint64

	// first database error, reported by Commit
	dbErr error
}

// New returns a StateDB reading from db.
func New(db database.Database) *StateDB {
	return &StateDB{
		db:       db,
		storage:  make(map[slotKey]common.Hash),
		balances: make(map[balanceKey]*uint256.Int),
		journal:  newJournal(),
	}
}

// =========================================================================
// Storage slots
// =========================================================================

// GetState returns the value of slot key in the storage of addr.
func (s *StateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if v, ok := s.storage[slotKey{addr, key}]; ok {
		return v
	}
	return common.BytesToHash(s.load(storageDBKey(addr, key)))
}

// SetState writes value to slot key in the storage of addr.
func (s *StateDB) SetState(addr common.Address, key common.Hash, value common.Hash) {
	sk := slotKey{addr, key}
	prev, dirty := s.storage[sk]
	if !dirty {
		prev = s.GetState(addr, key)
	}
	if prev == value {
		return
	}
	s.journal.append(storageChange{key: sk, prev: prev, dirty: dirty})
	s.storage[sk] = value
}

// =========================================================================
// Token balances
// =========================================================================

// GetBalance returns the balance of holder in token. The zero address is the
// native currency.
func (s *StateDB) GetBalance(token, holder common.Address) *uint256.Int {
	if v, ok := s.balances[balanceKey{token, holder}]; ok {
		return v.Clone()
	}
	return new(uint256.Int).SetBytes(s.load(balanceDBKey(token, holder)))
}

// AddBalance credits amount of token to holder.
func (s *StateDB) AddBalance(token, holder common.Address, amount *uint256.Int) error {
	cur := s.GetBalance(token, holder)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("%w: token=%s holder=%s", ErrBalanceOverflow, token.Hex(), holder.Hex())
	}
	s.setBalance(token, holder, next)
	return nil
}

// SubBalance debits amount of token from holder.
func (s *StateDB) SubBalance(token, holder common.Address, amount *uint256.Int) error {
	cur := s.GetBalance(token, holder)
	if cur.Lt(amount) {
		return fmt.Errorf("%w: token=%s holder=%s have=%s want=%s",
			ErrInsufficientBalance, token.Hex(), holder.Hex(), cur.ToBig(), amount.ToBig())
	}
	s.setBalance(token, holder, new(uint256.Int).Sub(cur, amount))
	return nil
}

// Transfer moves amount of token from one holder to another. Either both
// sides are applied or neither is.
func (s *StateDB) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	snapshot := s.Snapshot()
	if err := s.SubBalance(token, from, amount); err != nil {
		return err
	}
	if err := s.AddBalance(token, to, amount); err != nil {
		s.RevertToSnapshot(snapshot)
		return err
	}
	return nil
}

func (s *StateDB) setBalance(token, holder common.Address, value *uint256.Int) {
	bk := balanceKey{token, holder}
	prev, dirty := s.balances[bk]
	if !dirty {
		prev = s.GetBalance(token, holder)
	}
	s.journal.append(balanceChange{key: bk, prev: prev, dirty: dirty})
	s.balances[bk] = value
}

// =========================================================================
// Block context
// =========================================================================

// SetBlockTime sets the timestamp seen by time-dependent logic.
func (s *StateDB) SetBlockTime(t uint64) { s.blockTime = t }

// BlockTime returns the current block timestamp.
func (s *StateDB) BlockTime() uint64 { return s.blockTime }

// =========================================================================
// Journal
// =========================================================================

// Snapshot returns an identifier for the current revision of the state.
func (s *StateDB) Snapshot() int {
	return s.journal.length()
}

// RevertToSnapshot undoes every change made since the snapshot was taken.
func (s *StateDB) RevertToSnapshot(id int) {
	if id < 0 || id > s.journal.length() {
		panic(fmt.Sprintf("state: revert to invalid snapshot %d (journal length %d)", id, s.journal.length()))
	}
	s.journal.revert(s, id)
}

// AppendUndo records fn as the undo action of a change made to memory
// outside of the StateDB, so that it is rolled back together with the state.
func (s *StateDB) AppendUndo(fn func()) {
	s.journal.append(undoFunc(fn))
}

// DiscardJournal makes every change so far permanent. Snapshots taken before
// the call become invalid.
func (s *StateDB) DiscardJournal() {
	s.journal.reset()
}

// Commit writes the overlay to the database and clears the journal.
func (s *StateDB) Commit() error {
	if s.dbErr != nil {
		return s.dbErr
	}
	for sk, v := range s.storage {
		key := storageDBKey(sk.addr, sk.key)
		var err error
		if v == (common.Hash{}) {
			err = s.db.Delete(key)
		} else {
			err = s.db.Put(key, v.Bytes())
		}
		if err != nil {
			return fmt.Errorf("commit storage %s/%s: %w", sk.addr.Hex(), sk.key.Hex(), err)
		}
	}
	for bk, v := range s.balances {
		key := balanceDBKey(bk.token, bk.holder)
		var err error
		if v.IsZero() {
			err = s.db.Delete(key)
		} else {
			err = s.db.Put(key, v.Bytes())
		}
		if err != nil {
			return fmt.Errorf("commit balance %s/%s: %w", bk.token.Hex(), bk.holder.Hex(), err)
		}
	}
	s.storage = make(map[slotKey]common.Hash)
	s.balances = make(map[balanceKey]*uint256.Int)
	s.journal.reset()
	return nil
}

func (s *StateDB) load(key []byte) []byte {
	v, err := s.db.Get(key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) && s.dbErr == nil {
			s.dbErr = fmt.Errorf("read %x: %w", key, err)
		}
		return nil
	}
	return v
}

func storageDBKey(addr common.Address, key common.Hash) []byte {
	out := make([]byte, 0, len(storagePrefix)+common.AddressLength+common.HashLength)
	out = append(out, storagePrefix...)
	out = append(out, addr.Bytes()...)
	return append(out, key.Bytes()...)
}

func balanceDBKey(token, holder common.Address) []byte {
	out := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	out = append(out, balancePrefix...)
	out = append(out, token.Bytes()...)
	return append(out, holder.Bytes()...)
}
