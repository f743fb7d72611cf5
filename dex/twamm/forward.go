// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/lxamm/dex"
)

// Requests a session can forward to the extension.
const (
	opUpdateSaleRate byte = iota + 1
	opCollectProceeds
	opExecute
)

// op | salt | pool key | side | start | end | sign | |delta|
const requestSize = 1 + 32 + dex.PoolKeySize + 1 + 8 + 8 + 1 + 32

type request struct {
	op    byte
	salt  [32]byte
	key   OrderKey
	delta *big.Int
}

func (r *request) encode() []byte {
	data := make([]byte, 0, requestSize)
	data = append(data, r.op)
	data = append(data, r.salt[:]...)
	data = append(data, r.key.Pool.ToBytes()...)
	var side byte
	if r.key.IsSellingToken1 {
		side = 1
	}
	data = append(data, side)
	data = binary.BigEndian.AppendUint64(data, r.key.StartTime)
	data = binary.BigEndian.AppendUint64(data, r.key.EndTime)
	delta := r.delta
	if delta == nil {
		delta = new(big.Int)
	}
	return appendSigned(data, delta)
}

func decodeRequest(data []byte) (*request, error) {
	if len(data) != requestSize {
		return nil, fmt.Errorf("%w: request of %d bytes", dex.ErrInvalidEncoding, len(data))
	}
	r := &request{op: data[0]}
	copy(r.salt[:], data[1:33])
	pool, err := dex.DecodePoolKey(data[33 : 33+dex.PoolKeySize])
	if err != nil {
		return nil, err
	}
	rest := data[33+dex.PoolKeySize:]
	r.key = OrderKey{
		Pool:            pool,
		IsSellingToken1: rest[0] != 0,
		StartTime:       binary.BigEndian.Uint64(rest[1:9]),
		EndTime:         binary.BigEndian.Uint64(rest[9:17]),
	}
	if r.delta, err = readSigned(rest[17:]); err != nil {
		return nil, err
	}
	return r, nil
}

// appendSigned appends a sign byte and the 32-byte magnitude of v, which
// must fit in 256 bits.
func appendSigned(data []byte, v *big.Int) []byte {
	var sign byte
	if v.Sign() < 0 {
		sign = 1
	}
	var word [32]byte
	new(big.Int).Abs(v).FillBytes(word[:])
	data = append(data, sign)
	return append(data, word[:]...)
}

func readSigned(data []byte) (*big.Int, error) {
	if len(data) != 33 || data[0] > 1 {
		return nil, fmt.Errorf("%w: signed word", dex.ErrInvalidEncoding)
	}
	v := new(big.Int).SetBytes(data[1:])
	if data[0] == 1 {
		v.Neg(v)
	}
	return v, nil
}

// Forwarded runs a request forwarded to the extension. s acts as the
// extension and orders belong to originalLocker, the identity that opened
// the session. Every request is validated here, since any session can
// forward to the extension.
func (t *TWAMM) Forwarded(s *dex.Session, originalLocker common.Address, data []byte) ([]byte, error) {
	req, err := decodeRequest(data)
	if err != nil {
		return nil, err
	}
	switch req.op {
	case opUpdateSaleRate:
		if err := t.checkOrderKey(req.key); err != nil {
			return nil, err
		}
		amount, err := t.updateSaleRate(s, originalLocker, req.salt, req.key, req.delta)
		if err != nil {
			return nil, err
		}
		return appendSigned(nil, amount), nil
	case opCollectProceeds:
		if err := t.checkOrderKey(req.key); err != nil {
			return nil, err
		}
		proceeds, err := t.collectProceeds(s, originalLocker, req.salt, req.key)
		if err != nil {
			return nil, err
		}
		word := proceeds.Bytes32()
		return word[:], nil
	case opExecute:
		if err := t.checkPool(req.key.Pool); err != nil {
			return nil, err
		}
		_, err := s.Lock(func(inner *dex.Session, _ []byte) ([]byte, error) {
			return nil, t.ExecuteVirtualOrders(inner, req.key.Pool)
		}, nil)
		return nil, err
	default:
		return nil, fmt.Errorf("%w: unknown request %d", dex.ErrInvalidEncoding, req.op)
	}
}

func (t *TWAMM) forward(s *dex.Session, req *request) ([]byte, error) {
	return s.Forward(t.address, req.encode())
}

func proceedsResult(result []byte) (*uint256.Int, error) {
	if len(result) != 32 {
		return nil, fmt.Errorf("%w: proceeds of %d bytes", dex.ErrInvalidEncoding, len(result))
	}
	return new(uint256.Int).SetBytes32(result), nil
}
