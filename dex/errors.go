// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"errors"

	"github.com/luxfi/lxamm/state"
)

// invariantErrors are raised when an accounting bound or a core invariant
// would be broken. They indicate a bug in the caller or in the core.
var invariantErrors = []error{
	ErrNonZeroDelta,
	ErrDeltaOverflow,
	ErrDebtOverflow,
	ErrPaymentOverflow,
	ErrSavedBalanceOverflow,
	ErrLiquidityOverflow,
	ErrInvalidSqrtPrice,
	ErrTickOutOfRange,
	ErrReentrant,
	ErrSessionNotActive,
	state.ErrBalanceOverflow,
}

// businessErrors are expected rejections of a well-formed request.
var businessErrors = []error{
	ErrPoolNotInitialized,
	ErrPoolAlreadyInitialized,
	ErrTooManyPools,
	ErrInvalidTickRange,
	ErrInvalidTickSpacing,
	ErrInsufficientLiquidity,
	ErrInvalidPriceLimit,
	ErrInvalidFee,
	ErrCurrencyNotSorted,
	ErrUnauthorized,
	ErrNotLocker,
	ErrNoLiquidity,
	ErrInvalidAmount,
	ErrInsufficientOutput,
	ErrInsufficientSavedBalance,
	ErrHookNotRegistered,
	ErrHookInvalidAddress,
	ErrHookNotImplemented,
	ErrHooksDisabled,
	state.ErrInsufficientBalance,
}

// IsInvariantViolation reports whether err is, or wraps, a broken invariant.
func IsInvariantViolation(err error) bool {
	return isAny(err, invariantErrors)
}

// IsBusinessError reports whether err is, or wraps, an expected rejection.
func IsBusinessError(err error) bool {
	return isAny(err, businessErrors)
}

func isAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
