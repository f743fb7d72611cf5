// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

// =========================================================================
// Hook Permission Tests
// =========================================================================

func TestEncodeDecodeHookPermissions(t *testing.T) {
	tests := []struct {
		name        string
		permissions HookPermissions
	}{
		{
			name:        "no permissions",
			permissions: HookPermissions{},
		},
		{
			name: "beforeSwap only",
			permissions: HookPermissions{
				BeforeSwap: true,
			},
		},
		{
			name: "afterSwap only",
			permissions: HookPermissions{
				AfterSwap: true,
			},
		},
		{
			name: "swap hooks",
			permissions: HookPermissions{
				BeforeSwap: true,
				AfterSwap:  true,
			},
		},
		{
			name: "all hooks",
			permissions: HookPermissions{
				BeforeInitialize:      true,
				AfterInitialize:       true,
				BeforeModifyLiquidity: true,
				AfterModifyLiquidity:  true,
				BeforeSwap:            true,
				AfterSwap:             true,
				BeforeCollectFees:     true,
				AfterCollectFees:      true,
				BeforeDonate:          true,
				AfterDonate:           true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := EncodeHookPermissions(tt.permissions)
			require.Equal(t, tt.permissions, DecodeHookPermissions(flags))
		})
	}
}

func TestHookFlagsString(t *testing.T) {
	require.Equal(t, "none", HookFlags(0).String())
	require.Equal(t, "beforeSwap|afterSwap", (HookBeforeSwap | HookAfterSwap).String())
}

func TestGetHookPermissionsFromAddress(t *testing.T) {
	permissions := HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	}
	flags := EncodeHookPermissions(permissions)

	// Create address with flags in first 2 bytes
	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(flags))

	decoded := GetHookPermissionsFromAddress(addr)
	require.True(t, decoded.BeforeSwap)
	require.True(t, decoded.AfterSwap)
	require.False(t, decoded.BeforeInitialize)
}

func TestHasPermission(t *testing.T) {
	flags := EncodeHookPermissions(HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	})

	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(flags))

	require.True(t, HasPermission(addr, HookBeforeSwap))
	require.True(t, HasPermission(addr, HookAfterSwap))
	require.False(t, HasPermission(addr, HookBeforeInitialize))
}

func TestValidateHookAddress(t *testing.T) {
	permissions := HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	}
	flags := EncodeHookPermissions(permissions)

	var validAddr common.Address
	binary.BigEndian.PutUint16(validAddr[0:2], uint16(flags))
	require.NoError(t, ValidateHookAddress(validAddr, permissions))

	// wrong permissions encoded
	var invalidAddr common.Address
	binary.BigEndian.PutUint16(invalidAddr[0:2], uint16(HookBeforeInitialize))
	require.ErrorIs(t, ValidateHookAddress(invalidAddr, permissions), ErrHookInvalidAddress)
}

func TestGenerateHookAddress(t *testing.T) {
	deployer := common.HexToAddress("0x1234567890123456789012345678901234567890")
	var salt [32]byte
	copy(salt[:], []byte("test-salt"))

	permissions := HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	}
	addr := GenerateHookAddress(deployer, salt, permissions)
	require.Equal(t, permissions, GetHookPermissionsFromAddress(addr))

	// deterministic per deployer and salt
	require.Equal(t, addr, GenerateHookAddress(deployer, salt, permissions))
	require.NotEqual(t, addr, GenerateHookAddress(deployer, [32]byte{1}, permissions))
}

// =========================================================================
// Hook Registry Tests
// =========================================================================

// recordingExtension implements the swap, liquidity and donate hooks and
// records every call it receives. Sessions forwarded to it run forward.
type recordingExtension struct {
	calls   []string
	err     error
	forward func(s *Session) error
}

func (r *recordingExtension) Forwarded(s *Session, _ common.Address, _ []byte) ([]byte, error) {
	if r.forward == nil {
		return nil, nil
	}
	return nil, r.forward(s)
}

func (r *recordingExtension) BeforeDonate(s *Session, key PoolKey, amount0, amount1 *big.Int) error {
	r.calls = append(r.calls, "beforeDonate")
	return r.err
}

func (r *recordingExtension) AfterDonate(s *Session, key PoolKey, amount0, amount1 *big.Int) error {
	r.calls = append(r.calls, "afterDonate")
	return nil
}

func (r *recordingExtension) BeforeSwap(s *Session, key PoolKey, params SwapParams) error {
	r.calls = append(r.calls, "beforeSwap")
	return r.err
}

func (r *recordingExtension) AfterSwap(s *Session, key PoolKey, params SwapParams, delta BalanceDelta) error {
	r.calls = append(r.calls, "afterSwap")
	return r.err
}

func (r *recordingExtension) BeforeModifyLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams) error {
	r.calls = append(r.calls, "beforeModifyLiquidity")
	return nil
}

func swapHookAddress() (common.Address, HookFlags) {
	permissions := HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	}
	return GenerateHookAddress(alice, [32]byte{7}, permissions), EncodeHookPermissions(permissions)
}

func TestHookRegistryRegister(t *testing.T) {
	registry := NewHookRegistry()
	addr, flags := swapHookAddress()

	require.NoError(t, registry.RegisterExtension(addr, &recordingExtension{}, flags))

	registeredFlags, ok := registry.GetHookFlags(addr)
	require.True(t, ok)
	require.Equal(t, flags, registeredFlags)

	require.True(t, registry.IsHookEnabled(addr, HookBeforeSwap))
	require.True(t, registry.IsHookEnabled(addr, HookAfterSwap))
	require.False(t, registry.IsHookEnabled(addr, HookBeforeInitialize))
}

func TestHookRegistryRegisterInvalidAddress(t *testing.T) {
	registry := NewHookRegistry()

	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(HookBeforeSwap))

	err := registry.RegisterExtension(addr, &recordingExtension{}, HookAfterSwap)
	require.ErrorIs(t, err, ErrHookInvalidAddress)
}

func TestHookRegistryRejectsMissingHooks(t *testing.T) {
	registry := NewHookRegistry()
	permissions := HookPermissions{BeforeSwap: true, AfterCollectFees: true}
	addr := GenerateHookAddress(alice, [32]byte{}, permissions)

	err := registry.RegisterExtension(addr, &recordingExtension{}, EncodeHookPermissions(permissions))
	require.ErrorIs(t, err, ErrHookNotImplemented)
	require.Contains(t, err.Error(), "afterCollectFees")

	_, ok := registry.GetHookFlags(addr)
	require.False(t, ok)
}

func TestHookRegistryRegistersForwardee(t *testing.T) {
	registry := NewHookRegistry()
	addr, flags := swapHookAddress()
	ext := &recordingExtension{}
	require.NoError(t, registry.RegisterExtension(addr, ext, flags))

	require.True(t, registry.IsExtension(addr))
	fw, ok := registry.forwardee(addr)
	require.True(t, ok)
	require.Equal(t, Forwardee(ext), fw)

	// a forwardee alone is registered code but not an extension
	require.NoError(t, registry.RegisterForwardee(router, &callee{}))
	require.True(t, registry.IsRegistered(router))
	require.False(t, registry.IsExtension(router))

	require.ErrorIs(t, registry.RegisterExtension(addr, ext, flags), ErrAlreadyRegistered)
	require.ErrorIs(t, registry.RegisterForwardee(addr, ext), ErrAlreadyRegistered)
}

func TestRegisterExtensionHooksDisabled(t *testing.T) {
	pm := newTestManager(t)
	pm.config.EnableHooks = false

	addr, flags := swapHookAddress()
	require.ErrorIs(t, pm.RegisterExtension(addr, &recordingExtension{}, flags), ErrHooksDisabled)
}

// =========================================================================
// Dispatch Tests
// =========================================================================

func hookedPool(t *testing.T, ext *recordingExtension) (*PoolManager, PoolKey) {
	t.Helper()
	pm := newTestManager(t)
	fund(t, pm, alice, tokenA, tokenB)

	addr, flags := swapHookAddress()
	require.NoError(t, pm.RegisterExtension(addr, ext, flags))

	key := testPoolKey()
	key.Hooks = addr
	initPool(t, pm, key, 0)
	addLiquidity(t, pm, alice, key, -600, 600, e18(1))
	return pm, key
}

func TestSwapCallsHooks(t *testing.T) {
	ext := &recordingExtension{}
	pm, key := hookedPool(t, ext)

	_, err := swap(t, pm, alice, key, SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)})
	require.NoError(t, err)
	// modify liquidity hooks are implemented but not enabled by the address
	require.Equal(t, []string{"beforeSwap", "afterSwap"}, ext.calls)
}

func TestHookErrorRevertsOperation(t *testing.T) {
	ext := &recordingExtension{}
	pm, key := hookedPool(t, ext)
	before, err := pm.GetPool(key)
	require.NoError(t, err)

	errHook := errors.New("rejected by extension")
	ext.err = errHook
	_, err = swap(t, pm, alice, key, SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)})
	require.ErrorIs(t, err, errHook)

	after, err := pm.GetPool(key)
	require.NoError(t, err)
	require.Zero(t, before.SqrtPriceX96.Cmp(after.SqrtPriceX96))
}

func TestHookNotImplementedIsSkipped(t *testing.T) {
	ext := &recordingExtension{err: ErrHookNotImplemented}
	pm, key := hookedPool(t, ext)

	_, err := swap(t, pm, alice, key, SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)})
	require.NoError(t, err)
	require.Equal(t, []string{"beforeSwap", "afterSwap"}, ext.calls)
}

func TestHooksSkippedForOwnExtension(t *testing.T) {
	ext := &recordingExtension{}
	pm, key := hookedPool(t, ext)
	fund(t, pm, key.Hooks, tokenA, tokenB)
	ext.forward = func(s *Session) error {
		if _, err := pm.Swap(s, key, SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)}); err != nil {
			return err
		}
		settle(t, pm, s, tokenA, tokenB)
		return nil
	}

	_, err := pm.Lock(alice, func(s *Session, _ []byte) ([]byte, error) {
		return s.Forward(key.Hooks, nil)
	}, nil)
	require.NoError(t, err)
	require.Empty(t, ext.calls)

	// the extension cannot open a transaction of its own
	_, err = swap(t, pm, key.Hooks, key, SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestDonateCallsHooks(t *testing.T) {
	pm := newTestManager(t)
	fund(t, pm, alice, tokenA, tokenB)
	permissions := HookPermissions{BeforeDonate: true, AfterDonate: true}
	addr := GenerateHookAddress(alice, [32]byte{9}, permissions)
	ext := &recordingExtension{}
	require.NoError(t, pm.RegisterExtension(addr, ext, EncodeHookPermissions(permissions)))

	key := testPoolKey()
	key.Hooks = addr
	initPool(t, pm, key, 0)
	addLiquidity(t, pm, alice, key, -600, 600, e18(1))

	donate := func() error {
		_, err := pm.Lock(alice, func(s *Session, _ []byte) ([]byte, error) {
			if _, err := pm.Donate(s, key, big.NewInt(100), big.NewInt(100)); err != nil {
				return nil, err
			}
			settle(t, pm, s, tokenA, tokenB)
			return nil, nil
		}, nil)
		return err
	}
	require.NoError(t, donate())
	require.Equal(t, []string{"beforeDonate", "afterDonate"}, ext.calls)

	errHook := errors.New("rejected by extension")
	ext.err = errHook
	before, err := pm.GetPool(key)
	require.NoError(t, err)
	require.ErrorIs(t, donate(), errHook)
	after, err := pm.GetPool(key)
	require.NoError(t, err)
	require.Zero(t, before.FeeGrowth0X128.Cmp(after.FeeGrowth0X128))
}

// =========================================================================
// Benchmark Tests
// =========================================================================

func BenchmarkEncodeHookPermissions(b *testing.B) {
	permissions := HookPermissions{
		BeforeSwap:            true,
		AfterSwap:             true,
		BeforeModifyLiquidity: true,
		AfterModifyLiquidity:  true,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = EncodeHookPermissions(permissions)
	}
}

func BenchmarkDecodeHookPermissions(b *testing.B) {
	flags := HookFlags(0x00FF)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = DecodeHookPermissions(flags)
	}
}

func BenchmarkHasPermission(b *testing.B) {
	var addr common.Address
	binary.BigEndian.PutUint16(addr[0:2], uint16(HookBeforeSwap|HookAfterSwap))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = HasPermission(addr, HookBeforeSwap)
	}
}

func BenchmarkGenerateHookAddress(b *testing.B) {
	deployer := common.HexToAddress("0x1234567890123456789012345678901234567890")
	var salt [32]byte
	permissions := HookPermissions{
		BeforeSwap: true,
		AfterSwap:  true,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = GenerateHookAddress(deployer, salt, permissions)
	}
}
