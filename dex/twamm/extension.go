// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package twamm implements time-weighted average market maker orders as an
// extension of the pool manager. Orders sell a token at a constant rate
// between two times; the sales of all orders of a pool are executed as
// virtual orders against the pool whenever the pool is touched.
package twamm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/lxamm/dex"
	"github.com/luxfi/lxamm/state"
)

// Permissions are the hooks the extension address must enable.
var Permissions = dex.HookPermissions{
	AfterInitialize:       true,
	BeforeModifyLiquidity: true,
	BeforeSwap:            true,
	BeforeCollectFees:     true,
	BeforeDonate:          true,
}

// HookAddress derives the address a TWAMM deployed by deployer with salt
// lives at.
func HookAddress(deployer common.Address, salt [32]byte) common.Address {
	return dex.GenerateHookAddress(deployer, salt, Permissions)
}

// TWAMM is the virtual order extension. Pools opt in by setting their
// PoolKey.Hooks to the extension address.
type TWAMM struct {
	pm      *dex.PoolManager
	address common.Address
	log     log.Logger
}

// New creates the extension at address and registers it with pm. A nil
// logger defaults to the pool manager's logger.
func New(pm *dex.PoolManager, address common.Address, logger log.Logger) (*TWAMM, error) {
	if err := dex.ValidateHookAddress(address, Permissions); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pm.Logger()
	}
	t := &TWAMM{
		pm:      pm,
		address: address,
		log:     logger,
	}
	if err := pm.RegisterExtension(address, t, dex.EncodeHookPermissions(Permissions)); err != nil {
		return nil, err
	}
	return t, nil
}

// Address returns the extension address.
func (t *TWAMM) Address() common.Address { return t.address }

func (t *TWAMM) state() *state.StateDB { return t.pm.State() }

// checkPool verifies that key is an initialized pool of this extension.
func (t *TWAMM) checkPool(key dex.PoolKey) error {
	if key.Hooks != t.address {
		return fmt.Errorf("%w: hooks=%s", ErrNotTWAMMPool, key.Hooks)
	}
	if !t.initialized(key.ID()) {
		return ErrPoolNotInitialized
	}
	return nil
}

// =========================================================================
// Hooks
// =========================================================================

// AfterInitialize starts virtual order execution of a new pool at the
// current time.
func (t *TWAMM) AfterInitialize(_ common.Address, key dex.PoolKey, _ *big.Int, _ int32) error {
	now := t.state().BlockTime()
	if now > MaxTime {
		return fmt.Errorf("%w: block time %d", ErrTimeOverflow, now)
	}
	t.setPoolState(key.ID(), &PoolState{
		LastExecutionTime: now,
		SaleRate0:         new(uint256.Int),
		SaleRate1:         new(uint256.Int),
		RewardRate0:       new(uint256.Int),
		RewardRate1:       new(uint256.Int),
	})
	t.log.Info("twamm pool initialized",
		"pool", common.Hash(key.ID()),
		"time", now,
	)
	return nil
}

// BeforeModifyLiquidity executes virtual orders up to now.
func (t *TWAMM) BeforeModifyLiquidity(s *dex.Session, key dex.PoolKey, _ dex.ModifyLiquidityParams) error {
	return t.LockAndExecuteVirtualOrders(s, key)
}

// BeforeSwap executes virtual orders up to now.
func (t *TWAMM) BeforeSwap(s *dex.Session, key dex.PoolKey, _ dex.SwapParams) error {
	return t.LockAndExecuteVirtualOrders(s, key)
}

// BeforeCollectFees executes virtual orders up to now, so that positions
// collect the fees of every sale before the collection.
func (t *TWAMM) BeforeCollectFees(s *dex.Session, key dex.PoolKey, _, _ int32, _ [32]byte) error {
	return t.LockAndExecuteVirtualOrders(s, key)
}

// BeforeDonate executes virtual orders up to now, so that a donation is
// shared only by the liquidity in range after the sales.
func (t *TWAMM) BeforeDonate(s *dex.Session, key dex.PoolKey, _, _ *big.Int) error {
	return t.LockAndExecuteVirtualOrders(s, key)
}
