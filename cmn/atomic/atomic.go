// Package atomic provides simple wrappers around numerics to enforce atomic access
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import (
	ratomic "sync/atomic"
)

type (
	Bool   struct{ v ratomic.Bool }
	Int32  struct{ v ratomic.Int32 }
	Int64  struct{ v ratomic.Int64 }
	Uint32 struct{ v ratomic.Uint32 }
	Uint64 struct{ v ratomic.Uint64 }
)

//
// Bool
//

func NewBool(b bool) *Bool { a := &Bool{}; a.Store(b); return a }

func (a *Bool) Load() bool             { return a.v.Load() }
func (a *Bool) Store(b bool)           { a.v.Store(b) }
func (a *Bool) Swap(b bool) bool       { return a.v.Swap(b) }
func (a *Bool) CAS(old, new bool) bool { return a.v.CompareAndSwap(old, new) }

//
// Int32
//

func NewInt32(n int32) *Int32 { a := &Int32{}; a.Store(n); return a }

func (a *Int32) Load() int32               { return a.v.Load() }
func (a *Int32) Store(n int32)             { a.v.Store(n) }
func (a *Int32) Add(n int32) int32         { return a.v.Add(n) }
func (a *Int32) Inc() int32                { return a.v.Add(1) }
func (a *Int32) Dec() int32                { return a.v.Add(-1) }
func (a *Int32) CAS(old, new int32) bool   { return a.v.CompareAndSwap(old, new) }
func (a *Int32) Swap(n int32) int32        { return a.v.Swap(n) }

//
// Int64
//

func NewInt64(n int64) *Int64 { a := &Int64{}; a.Store(n); return a }

func (a *Int64) Load() int64               { return a.v.Load() }
func (a *Int64) Store(n int64)             { a.v.Store(n) }
func (a *Int64) Add(n int64) int64         { return a.v.Add(n) }
func (a *Int64) Inc() int64                { return a.v.Add(1) }
func (a *Int64) Dec() int64                { return a.v.Add(-1) }
func (a *Int64) CAS(old, new int64) bool   { return a.v.CompareAndSwap(old, new) }
func (a *Int64) Swap(n int64) int64        { return a.v.Swap(n) }

//
// Uint32
//

func NewUint32(n uint32) *Uint32 { a := &Uint32{}; a.Store(n); return a }

func (a *Uint32) Load() uint32             { return a.v.Load() }
func (a *Uint32) Store(n uint32)           { a.v.Store(n) }
func (a *Uint32) Add(n uint32) uint32      { return a.v.Add(n) }
func (a *Uint32) Inc() uint32              { return a.v.Add(1) }
func (a *Uint32) CAS(old, new uint32) bool { return a.v.CompareAndSwap(old, new) }

//
// Uint64
//

func NewUint64(n uint64) *Uint64 { a := &Uint64{}; a.Store(n); return a }

func (a *Uint64) Load() uint64             { return a.v.Load() }
func (a *Uint64) Store(n uint64)           { a.v.Store(n) }
func (a *Uint64) Add(n uint64) uint64      { return a.v.Add(n) }
func (a *Uint64) Inc() uint64              { return a.v.Add(1) }
func (a *Uint64) CAS(old, new uint64) bool { return a.v.CompareAndSwap(old, new) }
