// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package arith provides overflow-checked arithmetic over the
// block-index and byte-offset types used throughout the secure block
// device. Every addition on a caller-controlled offset or a physical
// block index must go through here; nothing in this package panics.
package arith

import (
	"math"

	"github.com/luxfi/sbd/sbderr"
)

// AddU32 returns a+b, failing with sbderr.IllegalParam on overflow.
func AddU32(op string, a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return a + b, nil
}

// MulU32 returns a*b, failing with sbderr.IllegalParam on overflow.
func MulU32(op string, a, b uint32) (uint32, error) {
	if b != 0 && a > math.MaxUint32/b {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return a * b, nil
}

// AddU64 returns a+b, failing with sbderr.IllegalParam on overflow.
func AddU64(op string, a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return a + b, nil
}

// SubU64 returns a-b, failing with sbderr.IllegalParam on underflow.
func SubU64(op string, a, b uint64) (uint64, error) {
	if a < b {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return a - b, nil
}

// MinU64 returns the smaller of a and b.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// AddOff checks that a (a non-negative size) plus b (a signed offset,
// which may be negative) is representable without overflow and without
// going negative. It mirrors the original C library's os_add_off_size,
// fixing the ordering bug noted in spec.md §9(a): the magnitude check
// on a negative offset happens before any addition is attempted.
func AddOff(op string, a uint64, b int64) (uint64, error) {
	if b < 0 {
		mag := uint64(-b)
		if b == math.MinInt64 {
			mag = uint64(math.MaxInt64) + 1
		}
		if mag > a {
			return 0, sbderr.New(op, sbderr.IllegalParam)
		}
		return a - mag, nil
	}
	return AddU64(op, a, uint64(b))
}

// CeilDiv returns ⌈a/b⌉ for b > 0.
func CeilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
