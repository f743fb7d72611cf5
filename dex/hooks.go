// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Hook flags (bitmap for hook capabilities)
type HookFlags uint16

const (
	HookBeforeInitialize HookFlags = 1 << iota
	HookAfterInitialize
	HookBeforeModifyLiquidity
	HookAfterModifyLiquidity
	HookBeforeSwap
	HookAfterSwap
	HookBeforeCollectFees
	HookAfterCollectFees
	HookBeforeDonate
	HookAfterDonate

	hookFlagCount = iota
)

var hookNames = [hookFlagCount]string{
	"beforeInitialize",
	"afterInitialize",
	"beforeModifyLiquidity",
	"afterModifyLiquidity",
	"beforeSwap",
	"afterSwap",
	"beforeCollectFees",
	"afterCollectFees",
	"beforeDonate",
	"afterDonate",
}

func (f HookFlags) String() string {
	var names []string
	for i := 0; i < hookFlagCount; i++ {
		if f&(1<<i) != 0 {
			names = append(names, hookNames[i])
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Hook interfaces. An extension implements the interface of every hook its
// address enables.
type (
	BeforeInitializeHook interface {
		BeforeInitialize(caller common.Address, key PoolKey, sqrtPriceX96 *big.Int) error
	}
	AfterInitializeHook interface {
		AfterInitialize(caller common.Address, key PoolKey, sqrtPriceX96 *big.Int, tick int24) error
	}
	BeforeModifyLiquidityHook interface {
		BeforeModifyLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams) error
	}
	AfterModifyLiquidityHook interface {
		AfterModifyLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams, delta BalanceDelta) error
	}
	BeforeSwapHook interface {
		BeforeSwap(s *Session, key PoolKey, params SwapParams) error
	}
	AfterSwapHook interface {
		AfterSwap(s *Session, key PoolKey, params SwapParams, delta BalanceDelta) error
	}
	BeforeCollectFeesHook interface {
		BeforeCollectFees(s *Session, key PoolKey, tickLower, tickUpper int24, salt [32]byte) error
	}
	AfterCollectFeesHook interface {
		AfterCollectFees(s *Session, key PoolKey, tickLower, tickUpper int24, salt [32]byte, fees BalanceDelta) error
	}
	BeforeDonateHook interface {
		BeforeDonate(s *Session, key PoolKey, amount0, amount1 *big.Int) error
	}
	AfterDonateHook interface {
		AfterDonate(s *Session, key PoolKey, amount0, amount1 *big.Int) error
	}
)

// Hook errors
var (
	ErrHookNotRegistered  = errors.New("hook not registered")
	ErrHookInvalidAddress = errors.New("hook address doesn't match capabilities")
	// ErrHookNotImplemented is returned by registration when an extension
	// lacks a claimed hook. Returned by a hook at call time, it is treated
	// as a no-op.
	ErrHookNotImplemented = errors.New("hook not implemented")
	ErrHooksDisabled      = errors.New("hooks are disabled")
	ErrAlreadyRegistered  = errors.New("address already registered")
	ErrNoForwardee        = errors.New("no forwardee registered at address")
)

// HookPermissions contains the flags derived from a hook address
// Following Uniswap v4 pattern where hook address encodes capabilities
type HookPermissions struct {
	BeforeInitialize      bool
	AfterInitialize       bool
	BeforeModifyLiquidity bool
	AfterModifyLiquidity  bool
	BeforeSwap            bool
	AfterSwap             bool
	BeforeCollectFees     bool
	AfterCollectFees      bool
	BeforeDonate          bool
	AfterDonate           bool
}

// ValidateHookAddress validates that a hook address encodes the claimed permissions
// Following Uniswap v4, the leading bits of the address encode hook capabilities
func ValidateHookAddress(addr common.Address, permissions HookPermissions) error {
	encoded := EncodeHookPermissions(permissions)

	// First 2 bytes of address should match permission flags
	addrFlags := binary.BigEndian.Uint16(addr[0:2])

	if addrFlags != uint16(encoded) {
		return ErrHookInvalidAddress
	}

	return nil
}

// EncodeHookPermissions encodes permissions into a HookFlags bitmap
func EncodeHookPermissions(p HookPermissions) HookFlags {
	var flags HookFlags

	if p.BeforeInitialize {
		flags |= HookBeforeInitialize
	}
	if p.AfterInitialize {
		flags |= HookAfterInitialize
	}
	if p.BeforeModifyLiquidity {
		flags |= HookBeforeModifyLiquidity
	}
	if p.AfterModifyLiquidity {
		flags |= HookAfterModifyLiquidity
	}
	if p.BeforeSwap {
		flags |= HookBeforeSwap
	}
	if p.AfterSwap {
		flags |= HookAfterSwap
	}
	if p.BeforeCollectFees {
		flags |= HookBeforeCollectFees
	}
	if p.AfterCollectFees {
		flags |= HookAfterCollectFees
	}
	if p.BeforeDonate {
		flags |= HookBeforeDonate
	}
	if p.AfterDonate {
		flags |= HookAfterDonate
	}

	return flags
}

// DecodeHookPermissions decodes a HookFlags bitmap into permissions
func DecodeHookPermissions(flags HookFlags) HookPermissions {
	return HookPermissions{
		BeforeInitialize:      flags&HookBeforeInitialize != 0,
		AfterInitialize:       flags&HookAfterInitialize != 0,
		BeforeModifyLiquidity: flags&HookBeforeModifyLiquidity != 0,
		AfterModifyLiquidity:  flags&HookAfterModifyLiquidity != 0,
		BeforeSwap:            flags&HookBeforeSwap != 0,
		AfterSwap:             flags&HookAfterSwap != 0,
		BeforeCollectFees:     flags&HookBeforeCollectFees != 0,
		AfterCollectFees:      flags&HookAfterCollectFees != 0,
		BeforeDonate:          flags&HookBeforeDonate != 0,
		AfterDonate:           flags&HookAfterDonate != 0,
	}
}

// GetHookPermissionsFromAddress extracts permissions from hook address
func GetHookPermissionsFromAddress(addr common.Address) HookPermissions {
	return DecodeHookPermissions(addressFlags(addr))
}

// HasPermission checks if an address has a specific hook permission
func HasPermission(addr common.Address, flag HookFlags) bool {
	return addressFlags(addr)&flag != 0
}

func addressFlags(addr common.Address) HookFlags {
	return HookFlags(binary.BigEndian.Uint16(addr[0:2]))
}

// GenerateHookAddress generates a valid hook address for given permissions
// Uses CREATE2-style address derivation
func GenerateHookAddress(deployer common.Address, salt [32]byte, permissions HookPermissions) common.Address {
	flags := EncodeHookPermissions(permissions)

	h := blake3.New()
	h.Write([]byte{0xff}) // CREATE2 prefix
	h.Write(deployer.Bytes())
	h.Write(salt[:])

	var hash [32]byte
	h.Digest().Read(hash[:])

	// Set permission flags in first 2 bytes
	var addr common.Address
	copy(addr[:], hash[12:32])
	binary.BigEndian.PutUint16(addr[0:2], uint16(flags))

	return addr
}

// =========================================================================
// Registry
// =========================================================================

type registeredExtension struct {
	flags HookFlags
	impl  any
}

// HookRegistry manages extension registrations and validations. It also
// holds the code that runs when a session forwards to an address.
type HookRegistry struct {
	extensions map[common.Address]registeredExtension
	forwardees map[common.Address]Forwardee
}

// NewHookRegistry creates a new hook registry
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		extensions: make(map[common.Address]registeredExtension),
		forwardees: make(map[common.Address]Forwardee),
	}
}

// RegisterExtension registers ext at addr. The flags must match the address
// encoding and ext must implement the interface of every flagged hook. An
// ext implementing Forwardee is also registered as the forwardee of addr.
func (hr *HookRegistry) RegisterExtension(addr common.Address, ext any, flags HookFlags) error {
	if hr.IsRegistered(addr) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr.Hex())
	}
	if addressFlags(addr) != flags {
		return ErrHookInvalidAddress
	}
	if missing := missingHooks(ext, flags); missing != 0 {
		return fmt.Errorf("%w: %s at %s", ErrHookNotImplemented, missing, addr.Hex())
	}
	hr.extensions[addr] = registeredExtension{flags: flags, impl: ext}
	if fw, ok := ext.(Forwardee); ok {
		hr.forwardees[addr] = fw
	}
	return nil
}

// RegisterForwardee registers fw as the code running at addr.
func (hr *HookRegistry) RegisterForwardee(addr common.Address, fw Forwardee) error {
	if hr.IsRegistered(addr) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr.Hex())
	}
	hr.forwardees[addr] = fw
	return nil
}

// IsRegistered reports whether code is registered at addr.
func (hr *HookRegistry) IsRegistered(addr common.Address) bool {
	_, ext := hr.extensions[addr]
	_, fw := hr.forwardees[addr]
	return ext || fw
}

// IsExtension reports whether addr is a registered extension.
func (hr *HookRegistry) IsExtension(addr common.Address) bool {
	_, ok := hr.extensions[addr]
	return ok
}

func (hr *HookRegistry) forwardee(addr common.Address) (Forwardee, bool) {
	fw, ok := hr.forwardees[addr]
	return fw, ok
}

// GetHookFlags returns the flags for a registered extension
func (hr *HookRegistry) GetHookFlags(addr common.Address) (HookFlags, bool) {
	ext, ok := hr.extensions[addr]
	return ext.flags, ok
}

// IsHookEnabled checks if a specific hook type is enabled for a registered extension
func (hr *HookRegistry) IsHookEnabled(addr common.Address, flag HookFlags) bool {
	ext, ok := hr.extensions[addr]
	return ok && ext.flags&flag != 0
}

func (hr *HookRegistry) lookup(addr common.Address) (registeredExtension, bool) {
	ext, ok := hr.extensions[addr]
	return ext, ok
}

func missingHooks(ext any, flags HookFlags) HookFlags {
	var missing HookFlags
	check := func(flag HookFlags, ok bool) {
		if flags&flag != 0 && !ok {
			missing |= flag
		}
	}
	_, ok := ext.(BeforeInitializeHook)
	check(HookBeforeInitialize, ok)
	_, ok = ext.(AfterInitializeHook)
	check(HookAfterInitialize, ok)
	_, ok = ext.(BeforeModifyLiquidityHook)
	check(HookBeforeModifyLiquidity, ok)
	_, ok = ext.(AfterModifyLiquidityHook)
	check(HookAfterModifyLiquidity, ok)
	_, ok = ext.(BeforeSwapHook)
	check(HookBeforeSwap, ok)
	_, ok = ext.(AfterSwapHook)
	check(HookAfterSwap, ok)
	_, ok = ext.(BeforeCollectFeesHook)
	check(HookBeforeCollectFees, ok)
	_, ok = ext.(AfterCollectFeesHook)
	check(HookAfterCollectFees, ok)
	_, ok = ext.(BeforeDonateHook)
	check(HookBeforeDonate, ok)
	_, ok = ext.(AfterDonateHook)
	check(HookAfterDonate, ok)
	return missing
}

// =========================================================================
// Dispatch
// =========================================================================

// RegisterExtension registers an extension with the pool manager's registry.
// Registration deploys code and cannot happen inside a transaction.
func (pm *PoolManager) RegisterExtension(addr common.Address, ext any, flags HookFlags) error {
	if !pm.config.EnableHooks {
		return ErrHooksDisabled
	}
	if err := pm.checkDeployment(addr); err != nil {
		return err
	}
	defer pm.mu.Unlock()
	if err := pm.hooks.RegisterExtension(addr, ext, flags); err != nil {
		return err
	}
	pm.log.Info("extension registered", "address", addr, "hooks", flags)
	return nil
}

// RegisterForwardee registers fw as the code that runs when a session
// forwards to addr. Registration cannot happen inside a transaction.
func (pm *PoolManager) RegisterForwardee(addr common.Address, fw Forwardee) error {
	if err := pm.checkDeployment(addr); err != nil {
		return err
	}
	defer pm.mu.Unlock()
	if err := pm.hooks.RegisterForwardee(addr, fw); err != nil {
		return err
	}
	pm.log.Info("forwardee registered", "address", addr)
	return nil
}

// checkDeployment acquires the transaction lock for a registration at addr.
// The caller releases it when checkDeployment succeeds.
func (pm *PoolManager) checkDeployment(addr common.Address) error {
	if addr == (common.Address{}) || addr == pm.address || addr == pm.config.ProtocolFeeController {
		return fmt.Errorf("%w: cannot register code at %s", ErrUnauthorized, addr.Hex())
	}
	if !pm.mu.TryLock() {
		return ErrReentrant
	}
	return nil
}

// extension returns the extension of key if it enables flag. Calls made by
// the extension itself do not trigger its hooks.
func (pm *PoolManager) extension(s *Session, key PoolKey, flag HookFlags) (any, bool) {
	if key.Hooks == (common.Address{}) {
		return nil, false
	}
	if s != nil && s.actor == key.Hooks {
		return nil, false
	}
	ext, ok := pm.hooks.lookup(key.Hooks)
	if !ok || ext.flags&flag == 0 {
		return nil, false
	}
	return ext.impl, true
}

// hookResult maps a hook's return value to the operation's error.
func (pm *PoolManager) hookResult(key PoolKey, flag HookFlags, err error) error {
	if errors.Is(err, ErrHookNotImplemented) {
		pm.log.Warn("extension hook not implemented, skipping",
			"extension", key.Hooks,
			"hook", flag,
		)
		return nil
	}
	return err
}

func (pm *PoolManager) callBeforeInitialize(caller common.Address, key PoolKey, sqrtPriceX96 *big.Int) error {
	ext, ok := pm.extension(nil, key, HookBeforeInitialize)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookBeforeInitialize, ext.(BeforeInitializeHook).BeforeInitialize(caller, key, sqrtPriceX96))
}

func (pm *PoolManager) callAfterInitialize(caller common.Address, key PoolKey, sqrtPriceX96 *big.Int, tick int24) error {
	ext, ok := pm.extension(nil, key, HookAfterInitialize)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookAfterInitialize, ext.(AfterInitializeHook).AfterInitialize(caller, key, sqrtPriceX96, tick))
}

func (pm *PoolManager) callBeforeModifyLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams) error {
	ext, ok := pm.extension(s, key, HookBeforeModifyLiquidity)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookBeforeModifyLiquidity, ext.(BeforeModifyLiquidityHook).BeforeModifyLiquidity(s, key, params))
}

func (pm *PoolManager) callAfterModifyLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams, delta BalanceDelta) error {
	ext, ok := pm.extension(s, key, HookAfterModifyLiquidity)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookAfterModifyLiquidity, ext.(AfterModifyLiquidityHook).AfterModifyLiquidity(s, key, params, delta))
}

func (pm *PoolManager) callBeforeSwap(s *Session, key PoolKey, params SwapParams) error {
	ext, ok := pm.extension(s, key, HookBeforeSwap)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookBeforeSwap, ext.(BeforeSwapHook).BeforeSwap(s, key, params))
}

func (pm *PoolManager) callAfterSwap(s *Session, key PoolKey, params SwapParams, delta BalanceDelta) error {
	ext, ok := pm.extension(s, key, HookAfterSwap)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookAfterSwap, ext.(AfterSwapHook).AfterSwap(s, key, params, delta))
}

func (pm *PoolManager) callBeforeCollectFees(s *Session, key PoolKey, tickLower, tickUpper int24, salt [32]byte) error {
	ext, ok := pm.extension(s, key, HookBeforeCollectFees)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookBeforeCollectFees, ext.(BeforeCollectFeesHook).BeforeCollectFees(s, key, tickLower, tickUpper, salt))
}

func (pm *PoolManager) callBeforeDonate(s *Session, key PoolKey, amount0, amount1 *big.Int) error {
	ext, ok := pm.extension(s, key, HookBeforeDonate)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookBeforeDonate, ext.(BeforeDonateHook).BeforeDonate(s, key, amount0, amount1))
}

func (pm *PoolManager) callAfterDonate(s *Session, key PoolKey, amount0, amount1 *big.Int) error {
	ext, ok := pm.extension(s, key, HookAfterDonate)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookAfterDonate, ext.(AfterDonateHook).AfterDonate(s, key, amount0, amount1))
}

func (pm *PoolManager) callAfterCollectFees(s *Session, key PoolKey, tickLower, tickUpper int24, salt [32]byte, fees BalanceDelta) error {
	ext, ok := pm.extension(s, key, HookAfterCollectFees)
	if !ok {
		return nil
	}
	return pm.hookResult(key, HookAfterCollectFees, ext.(AfterCollectFeesHook).AfterCollectFees(s, key, tickLower, tickUpper, salt, fees))
}
