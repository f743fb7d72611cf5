// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var (
	testAddr  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testToken = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice     = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob       = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
)

func TestStorageSnapshotRevert(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	key := Key("test", []byte{1})
	s.SetState(testAddr, key, common.HexToHash("0x01"))

	snap := s.Snapshot()
	s.SetState(testAddr, key, common.HexToHash("0x02"))
	s.SetState(testAddr, Key("test", []byte{2}), common.HexToHash("0x03"))
	require.Equal(t, common.HexToHash("0x02"), s.GetState(testAddr, key))

	s.RevertToSnapshot(snap)
	require.Equal(t, common.HexToHash("0x01"), s.GetState(testAddr, key))
	require.Equal(t, common.Hash{}, s.GetState(testAddr, Key("test", []byte{2})))
}

func TestNestedSnapshots(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	key := Key("nested")
	outer := s.Snapshot()
	s.SetUint64(testAddr, key, 1)
	inner := s.Snapshot()
	s.SetUint64(testAddr, key, 2)

	s.RevertToSnapshot(inner)
	require.Equal(t, uint64(1), s.GetUint64(testAddr, key))

	s.RevertToSnapshot(outer)
	require.Equal(t, uint64(0), s.GetUint64(testAddr, key))
}

func TestBalances(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	require.NoError(t, s.AddBalance(testToken, alice, uint256.NewInt(100)))
	require.NoError(t, s.Transfer(testToken, alice, bob, uint256.NewInt(40)))
	require.Equal(t, uint64(60), s.GetBalance(testToken, alice).Uint64())
	require.Equal(t, uint64(40), s.GetBalance(testToken, bob).Uint64())

	err := s.Transfer(testToken, alice, bob, uint256.NewInt(61))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, uint64(60), s.GetBalance(testToken, alice).Uint64())

	maxBalance := new(uint256.Int).SetAllOne()
	require.NoError(t, s.AddBalance(testToken, bob, new(uint256.Int).Sub(maxBalance, uint256.NewInt(40))))
	err = s.Transfer(testToken, alice, bob, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrBalanceOverflow)
	// the debit side of the failed transfer is rolled back
	require.Equal(t, uint64(60), s.GetBalance(testToken, alice).Uint64())
}

func TestBalanceRevert(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	require.NoError(t, s.AddBalance(testToken, alice, uint256.NewInt(10)))
	snap := s.Snapshot()
	require.NoError(t, s.SubBalance(testToken, alice, uint256.NewInt(10)))
	require.True(t, s.GetBalance(testToken, alice).IsZero())

	s.RevertToSnapshot(snap)
	require.Equal(t, uint64(10), s.GetBalance(testToken, alice).Uint64())
}

func TestAppendUndo(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	counter := 0
	snap := s.Snapshot()
	counter++
	s.AppendUndo(func() { counter-- })
	counter++
	s.AppendUndo(func() { counter-- })

	s.RevertToSnapshot(snap)
	require.Zero(t, counter)
}

func TestSignedSlots(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	minInt256 := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	maxInt256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))

	for i, v := range []*big.Int{big.NewInt(0), big.NewInt(-1), big.NewInt(12345), minInt256, maxInt256} {
		key := Key("signed", Uint32Bytes(uint32(i)))
		s.SetBig(testAddr, key, v)
		require.Zero(t, v.Cmp(s.GetBig(testAddr, key)), "value %s", v)
	}

	require.Panics(t, func() {
		s.SetBig(testAddr, Key("signed"), new(big.Int).Add(maxInt256, big.NewInt(1)))
	})
}

func TestCommit(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	key := Key("commit")
	s.SetUint(testAddr, key, uint256.NewInt(7))
	require.NoError(t, s.AddBalance(testToken, alice, uint256.NewInt(5)))
	require.NoError(t, s.Commit())
	require.Zero(t, s.Snapshot())

	reopened := New(db)
	require.Equal(t, uint64(7), reopened.GetUint(testAddr, key).Uint64())
	require.Equal(t, uint64(5), reopened.GetBalance(testToken, alice).Uint64())

	reopened.SetUint(testAddr, key, new(uint256.Int))
	require.NoError(t, reopened.Commit())
	has, err := db.Has(storageDBKey(testAddr, key))
	require.NoError(t, err)
	require.False(t, has)
}

func TestInvalidSnapshotPanics(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	s := New(db)

	require.Panics(t, func() { s.RevertToSnapshot(1) })
}
