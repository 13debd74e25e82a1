//go:build debug

// Package provides debug utilities
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
	"strings"

	"github.com/NVIDIA/swarm/cmn/nlog"
)

func ON() bool { return true }

func Infof(format string, a ...any) {
	nlog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+format, a...))
}

func Func(f func()) { f() }

func Assert(cond bool, a ...any) {
	if !cond {
		msg := "DEBUG PANIC"
		if len(a) > 0 {
			msg += ": " + strings.TrimSuffix(fmt.Sprintln(a...), "\n")
		}
		nlog.Flush(true)
		panic(msg)
	}
}

func AssertFunc(f func() bool, a ...any) { Assert(f(), a...) }

func AssertNoErr(err error) {
	if err != nil {
		nlog.Flush(true)
		panic(err)
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		Assert(false, fmt.Sprintf(format, a...))
	}
}

func init() {
	if _, ok := os.LookupEnv("SWARM_DEBUG_QUIET"); !ok {
		fmt.Fprintln(os.Stderr, "Warning: swarm was built with -tags=debug - expect assertions and verbose logging")
	}
}
