// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bitmap

import (
	"math"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/lxamm/state"
)

var owner = common.HexToAddress("0x0000000000000000000000000000000000009010")

func newTestBitmap(t *testing.T) *Bitmap {
	db := memdb.New()
	t.Cleanup(func() { db.Close() })
	return New(state.New(db), owner, []byte("test"))
}

func TestWordAndBitPos(t *testing.T) {
	tests := []struct {
		pos  int32
		word int32
		bit  uint
	}{
		{0, 0, 0},
		{255, 0, 255},
		{256, 1, 0},
		{-1, -1, 255},
		{-256, -1, 0},
		{-257, -2, 255},
	}
	for _, tt := range tests {
		require.Equal(t, tt.word, wordPos(tt.pos), "wordPos(%d)", tt.pos)
		require.Equal(t, tt.bit, bitPos(tt.pos), "bitPos(%d)", tt.pos)
	}
}

func TestFlip(t *testing.T) {
	b := newTestBitmap(t)
	for _, pos := range []int32{0, 63, 64, 255, -1, -300, 100000} {
		require.False(t, b.IsSet(pos))
		b.Flip(pos)
		require.True(t, b.IsSet(pos))
		b.Flip(pos)
		require.False(t, b.IsSet(pos))
	}
}

func TestNextSet(t *testing.T) {
	b := newTestBitmap(t)
	for _, pos := range []int32{-600, -1, 5, 64, 70000} {
		b.Flip(pos)
	}

	tests := []struct {
		after, limit int32
		want         int32
		found        bool
	}{
		{-1000, 1000, -600, true},
		{-600, 1000, -1, true},
		{-1, 1000, 5, true},
		{5, 1000, 64, true},
		{64, 1000, 0, false},
		{64, 70000, 70000, true},
		{64, 69999, 0, false},
		{70000, 200000, 0, false},
		{math.MaxInt32, math.MaxInt32, 0, false},
	}
	for _, tt := range tests {
		got, ok := b.NextSet(tt.after, tt.limit)
		require.Equal(t, tt.found, ok, "NextSet(%d, %d)", tt.after, tt.limit)
		if tt.found {
			require.Equal(t, tt.want, got, "NextSet(%d, %d)", tt.after, tt.limit)
		}
	}
}

func TestPrevSet(t *testing.T) {
	b := newTestBitmap(t)
	for _, pos := range []int32{-600, -1, 5, 64} {
		b.Flip(pos)
	}

	tests := []struct {
		from, limit int32
		want        int32
		found       bool
	}{
		{1000, -1000, 64, true},
		{64, -1000, 64, true},
		{63, -1000, 5, true},
		{4, -1000, -1, true},
		{-2, -1000, -600, true},
		{-2, -599, 0, false},
		{-601, -100000, 0, false},
	}
	for _, tt := range tests {
		got, ok := b.PrevSet(tt.from, tt.limit)
		require.Equal(t, tt.found, ok, "PrevSet(%d, %d)", tt.from, tt.limit)
		if tt.found {
			require.Equal(t, tt.want, got, "PrevSet(%d, %d)", tt.from, tt.limit)
		}
	}
}

func TestNamespacesAreIndependent(t *testing.T) {
	db := memdb.New()
	defer db.Close()
	st := state.New(db)

	a := New(st, owner, []byte("a"))
	b := New(st, owner, []byte("b"))
	a.Flip(10)
	require.True(t, a.IsSet(10))
	require.False(t, b.IsSet(10))
}
