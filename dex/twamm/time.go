// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package twamm

import (
	"math"
	"math/bits"
)

const (
	// MinStepSizeLog is log2 of the finest spacing between valid times.
	MinStepSizeLog = 8
	// MinStepSize is the spacing of valid times closer than 2^9 seconds,
	// and of every time that is not in the future.
	MinStepSize = 1 << MinStepSizeLog

	// MaxTime is the last representable order time.
	MaxTime = math.MaxUint32

	// MaxNumValidTimes bounds the number of valid times after any current
	// time: two below 2^9 seconds and two per octave up to 2^32.
	MaxNumValidTimes = 2 + 2*(32-(MinStepSizeLog+1))
)

// ComputeStepSize returns the spacing valid times must respect at time,
// seen from currentTime. Times further away are coarser: a time 2^k to
// 2^(k+1) seconds ahead must be a multiple of 2^(k-1).
func ComputeStepSize(currentTime, time uint64) uint64 {
	if time <= currentTime {
		return MinStepSize
	}
	log2 := bits.Len64(time-currentTime) - 1
	if log2-1 <= MinStepSizeLog {
		return MinStepSize
	}
	return 1 << (log2 - 1)
}

// IsTimeValid reports whether time can be used as an order start or end
// time at currentTime.
func IsTimeValid(currentTime, time uint64) bool {
	return time <= MaxTime && time%ComputeStepSize(currentTime, time) == 0
}

// NextValidTime returns the smallest valid time strictly after time. It
// reports false when that time does not fit in 32 bits.
func NextValidTime(currentTime, time uint64) (uint64, bool) {
	if time >= MaxTime {
		return 0, false
	}
	step := ComputeStepSize(currentTime, time)
	next := (time/step + 1) * step
	for {
		if next > MaxTime {
			return 0, false
		}
		step = ComputeStepSize(currentTime, next)
		if next%step == 0 {
			return next, true
		}
		// crossed into a coarser band
		next = (next/step + 1) * step
	}
}
