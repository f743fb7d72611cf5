// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"errors"

	"github.com/luxfi/lxamm/dex"
)

var invariantErrors = []error{
	ErrInvalidTime,
	ErrTimeOverflow,
	ErrSaleRateOverflow,
	ErrSaleRateDeltaTooLarge,
	ErrRewardRateOverflow,
	ErrUnvisitedBoundary,
}

var businessErrors = []error{
	ErrNotTWAMMPool,
	ErrPoolNotInitialized,
	ErrOrderEnded,
	ErrInsufficientSaleRate,
}

// IsInvariantViolation reports whether err is a broken TWAMM or core
// invariant.
func IsInvariantViolation(err error) bool {
	return isAny(err, invariantErrors) || dex.IsInvariantViolation(err)
}

// IsBusinessError reports whether err is an expected rejection by the TWAMM
// or the core.
func IsBusinessError(err error) bool {
	return isAny(err, businessErrors) || dex.IsBusinessError(err)
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
