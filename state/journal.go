// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// journalEntry is a modification that can be undone.
type journalEntry interface {
	revert(s *StateDB)
}

type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// revert undoes entries newer than snapshot, newest first.
func (j *journal) revert(s *StateDB, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(s)
		j.entries[i] = nil
	}
	j.entries = j.entries[:snapshot]
}

func (j *journal) length() int {
	return len(j.entries)
}

func (j *journal) reset() {
	j.entries = nil
}

type (
	storageChange struct {
		key   slotKey
		prev  common.Hash
		dirty bool
	}
	balanceChange struct {
		key   balanceKey
		prev  *uint256.Int
		dirty bool
	}
	undoFunc func()
)

func (ch storageChange) revert(s *StateDB) {
	if ch.dirty {
		s.storage[ch.key] = ch.prev
	} else {
		delete(s.storage, ch.key)
	}
}

func (ch balanceChange) revert(s *StateDB) {
	if ch.dirty {
		s.balances[ch.key] = ch.prev
	} else {
		delete(s.balances, ch.key)
	}
}

func (fn undoFunc) revert(*StateDB) {
	fn()
}
