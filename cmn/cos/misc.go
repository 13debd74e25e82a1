// Package cos provides common low-level types and utilities for all swarm packages
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"time"
	"unsafe"
)

// MLCG32 is a multiplicative linear congruential generator seed (hashing)
const MLCG32 = 1103515245

func Plural(num int) (s string) {
	if num != 1 {
		s = "s"
	}
	return
}

// on-the-fly conversion (no allocation)
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func NonZero[T int | int32 | int64 | uint32 | uint64 | time.Duration](a, b T) T {
	if a != 0 {
		return a
	}
	return b
}
