// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bitmap implements a sparse bitmap over signed 32-bit positions,
// stored as 256-bit words in state slots.
package bitmap

import (
	"math"
	"math/bits"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/lxamm/state"
)

// Store is the slot storage a Bitmap persists its words in.
type Store interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
}

// =============================================================================
// Bitmap
// =============================================================================

// Bitmap stores one bit per position. Each word holds 256 positions as
// [4]uint64, limb 0 holding the lowest 64 positions.
type Bitmap struct {
	store     Store
	owner     common.Address
	namespace []byte
}

// New returns the bitmap stored under namespace in the slots of owner.
func New(store Store, owner common.Address, namespace ...[]byte) *Bitmap {
	var ns []byte
	for _, n := range namespace {
		ns = append(ns, n...)
	}
	return &Bitmap{store: store, owner: owner, namespace: ns}
}

// wordPos returns the word position for pos, rounding toward negative infinity.
func wordPos(pos int32) int32 {
	return pos >> 8
}

// bitPos returns the bit position within a word (0-255).
func bitPos(pos int32) uint {
	return uint(pos & 0xff)
}

func (b *Bitmap) slot(wp int32) common.Hash {
	return state.Key("bitmap", b.namespace, state.Uint32Bytes(uint32(wp)))
}

func (b *Bitmap) word(wp int32) [4]uint64 {
	v := b.store.GetState(b.owner, b.slot(wp))
	return [4]uint64(*new(uint256.Int).SetBytes32(v[:]))
}

func (b *Bitmap) setWord(wp int32, w [4]uint64) {
	u := uint256.Int(w)
	b.store.SetState(b.owner, b.slot(wp), common.Hash(u.Bytes32()))
}

// Flip toggles the bit at pos.
func (b *Bitmap) Flip(pos int32) {
	wp, bp := wordPos(pos), bitPos(pos)
	w := b.word(wp)
	w[bp/64] ^= 1 << (bp % 64)
	b.setWord(wp, w)
}

// IsSet returns whether the bit at pos is set.
func (b *Bitmap) IsSet(pos int32) bool {
	bp := bitPos(pos)
	w := b.word(wordPos(pos))
	return w[bp/64]&(1<<(bp%64)) != 0
}

// =============================================================================
// Search
// =============================================================================

// NextSet returns the lowest set position p with after < p <= limit.
func (b *Bitmap) NextSet(after, limit int32) (int32, bool) {
	if after >= limit || after == math.MaxInt32 {
		return 0, false
	}
	start := after + 1
	first, last := wordPos(start), wordPos(limit)
	for wp := first; ; wp++ {
		w := b.word(wp)
		if wp == first {
			w = maskFrom(w, bitPos(start))
		}
		if wp == last {
			w = maskTo(w, bitPos(limit))
		}
		for i := 0; i < 4; i++ {
			if w[i] != 0 {
				return wp<<8 + int32(i*64+bits.TrailingZeros64(w[i])), true
			}
		}
		if wp == last {
			return 0, false
		}
	}
}

// PrevSet returns the highest set position p with limit <= p <= from.
func (b *Bitmap) PrevSet(from, limit int32) (int32, bool) {
	if from < limit {
		return 0, false
	}
	first, last := wordPos(from), wordPos(limit)
	for wp := first; ; wp-- {
		w := b.word(wp)
		if wp == first {
			w = maskTo(w, bitPos(from))
		}
		if wp == last {
			w = maskFrom(w, bitPos(limit))
		}
		for i := 3; i >= 0; i-- {
			if w[i] != 0 {
				return wp<<8 + int32(i*64+63-bits.LeadingZeros64(w[i])), true
			}
		}
		if wp == last {
			return 0, false
		}
	}
}

// maskFrom clears every bit below bp.
func maskFrom(w [4]uint64, bp uint) [4]uint64 {
	limb := bp / 64
	for i := uint(0); i < limb; i++ {
		w[i] = 0
	}
	w[limb] &= ^uint64(0) << (bp % 64)
	return w
}

// maskTo clears every bit above bp.
func maskTo(w [4]uint64, bp uint) [4]uint64 {
	limb := bp / 64
	for i := limb + 1; i < 4; i++ {
		w[i] = 0
	}
	w[limb] &= ^uint64(0) >> (63 - bp%64)
	return w
}
