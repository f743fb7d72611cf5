// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Key derives a storage slot from a prefix and a list of identifiers.
func Key(prefix string, parts ...[]byte) common.Hash {
	h := blake3.New()
	h.Write([]byte(prefix))
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Uint32Bytes encodes v big-endian, for use as a Key part.
func Uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// Uint64Bytes encodes v big-endian, for use as a Key part.
func Uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// GetUint reads a slot as an unsigned 256-bit integer.
func (s *StateDB) GetUint(addr common.Address, key common.Hash) *uint256.Int {
	v := s.GetState(addr, key)
	return new(uint256.Int).SetBytes32(v[:])
}

// SetUint writes an unsigned 256-bit integer to a slot.
func (s *StateDB) SetUint(addr common.Address, key common.Hash, v *uint256.Int) {
	s.SetState(addr, key, common.Hash(v.Bytes32()))
}

// GetBig reads a slot as a two's complement signed 256-bit integer.
func (s *StateDB) GetBig(addr common.Address, key common.Hash) *big.Int {
	u := s.GetUint(addr, key)
	if u.Sign() >= 0 {
		return u.ToBig()
	}
	n := new(uint256.Int).Neg(u).ToBig()
	return n.Neg(n)
}

// SetBig writes v to a slot in two's complement form. v must fit in a
// signed 256-bit integer; callers bound their values before storing them.
func (s *StateDB) SetBig(addr common.Address, key common.Hash, v *big.Int) {
	abs, overflow := uint256.FromBig(new(big.Int).Abs(v))
	if overflow || (abs.BitLen() > 255 && (v.Sign() > 0 || !abs.Eq(minInt256Abs))) {
		panic("state: value out of int256 range")
	}
	if v.Sign() < 0 {
		abs.Neg(abs)
	}
	s.SetUint(addr, key, abs)
}

// GetUint64 reads the low 64 bits of a slot.
func (s *StateDB) GetUint64(addr common.Address, key common.Hash) uint64 {
	v := s.GetState(addr, key)
	return binary.BigEndian.Uint64(v[24:])
}

// SetUint64 writes v to a slot.
func (s *StateDB) SetUint64(addr common.Address, key common.Hash, v uint64) {
	var h common.Hash
	binary.BigEndian.PutUint64(h[24:], v)
	s.SetState(addr, key, h)
}

var minInt256Abs = new(uint256.Int).Lsh(uint256.NewInt(1), 255)
