// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the pool manager and TWAMM configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/spf13/viper"

	"github.com/luxfi/lxamm/dex"
	"github.com/luxfi/lxamm/dex/twamm"
)

// EnvPrefix prefixes environment overrides, e.g. LXAMM_DEX_MAX_POOLS.
const EnvPrefix = "LXAMM"

// Config is the file representation of the AMM configuration.
type Config struct {
	Dex   DexConfig   `mapstructure:"dex"`
	TWAMM TWAMMConfig `mapstructure:"twamm"`
}

// DexConfig configures the pool manager.
type DexConfig struct {
	Address               string `mapstructure:"address"`
	ProtocolFeeController string `mapstructure:"protocol_fee_controller"`
	MaxPools              uint64 `mapstructure:"max_pools"`
	EnableHooks           bool   `mapstructure:"enable_hooks"`
}

// TWAMMConfig configures the TWAMM extension. Its address is derived from
// the deployer and salt so that it encodes the extension's hooks.
type TWAMMConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Deployer string `mapstructure:"deployer"`
	Salt     string `mapstructure:"salt"`
}

func setDefaults(v *viper.Viper) {
	def := dex.DefaultConfig()
	v.SetDefault("dex.address", def.Address.Hex())
	v.SetDefault("dex.protocol_fee_controller", "")
	v.SetDefault("dex.max_pools", def.MaxPools)
	v.SetDefault("dex.enable_hooks", def.EnableHooks)

	v.SetDefault("twamm.enabled", false)
	v.SetDefault("twamm.deployer", "")
	v.SetDefault("twamm.salt", "")
}

// Load reads the configuration from defaults, the file at path and
// LXAMM_ environment variables, in increasing priority. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Verify(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Verify checks addresses and the derived pool manager config.
func (c *Config) Verify() error {
	dexConfig, err := c.DexConfig()
	if err != nil {
		return err
	}
	if err := dexConfig.Verify(); err != nil {
		return err
	}
	if c.TWAMM.Enabled {
		if !dexConfig.EnableHooks {
			return fmt.Errorf("%w: twamm requires dex.enable_hooks", dex.ErrInvalidConfig)
		}
		if _, err := c.TWAMMAddress(); err != nil {
			return err
		}
	}
	return nil
}

// DexConfig converts the file representation into a dex.Config.
func (c *Config) DexConfig() (dex.Config, error) {
	address, err := parseAddress("dex.address", c.Dex.Address)
	if err != nil {
		return dex.Config{}, err
	}
	var controller common.Address
	if c.Dex.ProtocolFeeController != "" {
		if controller, err = parseAddress("dex.protocol_fee_controller", c.Dex.ProtocolFeeController); err != nil {
			return dex.Config{}, err
		}
	}
	return dex.Config{
		Address:               address,
		ProtocolFeeController: controller,
		MaxPools:              c.Dex.MaxPools,
		EnableHooks:           c.Dex.EnableHooks,
	}, nil
}

// TWAMMAddress returns the address of the configured TWAMM extension.
func (c *Config) TWAMMAddress() (common.Address, error) {
	deployer, err := parseAddress("twamm.deployer", c.TWAMM.Deployer)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(c.TWAMM.Salt, "0x"))
	if err != nil || len(raw) > 32 {
		return common.Address{}, fmt.Errorf("%w: twamm.salt must be at most 32 hex bytes", dex.ErrInvalidConfig)
	}
	var salt [32]byte
	copy(salt[32-len(raw):], raw)
	return twamm.HookAddress(deployer, salt), nil
}

func parseAddress(key, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address: %q", dex.ErrInvalidConfig, key, value)
	}
	return common.HexToAddress(value), nil
}
