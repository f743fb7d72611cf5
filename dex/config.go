// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
)

// ConfigKey is the key used in json config files to specify the pool manager config.
const ConfigKey = "dexConfig"

var ErrInvalidConfig = errors.New("invalid dex config")

// Config configures a PoolManager.
type Config struct {
	Address               common.Address `json:"address,omitempty"`
	ProtocolFeeController common.Address `json:"protocolFeeController,omitempty"`
	MaxPools              uint64         `json:"maxPools,omitempty"`
	EnableHooks           bool           `json:"enableHooks,omitempty"`
}

// DefaultConfig returns the configuration of the canonical pool manager.
func DefaultConfig() Config {
	return Config{
		Address:     common.HexToAddress(LXPoolAddress),
		EnableHooks: true,
	}
}

func (c *Config) Key() string {
	return ConfigKey
}

func (c *Config) Equal(other *Config) bool {
	if other == nil {
		return false
	}
	return c.Address == other.Address &&
		c.ProtocolFeeController == other.ProtocolFeeController &&
		c.MaxPools == other.MaxPools &&
		c.EnableHooks == other.EnableHooks
}

// Verify checks the config for values the pool manager cannot run with.
func (c *Config) Verify() error {
	if c.Address == (common.Address{}) {
		return fmt.Errorf("%w: pool manager address is zero", ErrInvalidConfig)
	}
	if c.ProtocolFeeController == c.Address {
		return fmt.Errorf("%w: protocol fee controller cannot be the pool manager", ErrInvalidConfig)
	}
	return nil
}
