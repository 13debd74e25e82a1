// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/NVIDIA/swarm/cmn/debug"
)

// ErrTracker keeps, per node, exponential moving averages of three error
// classes: generic errors, I/O timeouts, and connection timeouts. The
// averages advance on one-second boundaries; skipped seconds decay in
// closed form rather than one tick at a time.
type (
	ewma struct {
		avg   float64
		count int64
		last  int64 // unix seconds of the last increment
	}
	nodeErrs struct {
		errors      ewma
		ioTimeouts  ewma
		connTimeouts ewma
	}
	ErrTracker struct {
		mu      sync.Mutex
		nodes   map[netip.AddrPort]*nodeErrs
		updated func(netip.AddrPort) // fires when a second boundary changed an average
		clock   func() int64         // unix seconds; swappable in tests
		window  int64                // seconds
		weight  float64              // 2 / (window + 1)
	}
)

func NewErrTracker(window time.Duration, updated func(netip.AddrPort)) *ErrTracker {
	w := int64(window / time.Second)
	debug.Assert(w > 0, w)
	return &ErrTracker{
		nodes:   make(map[netip.AddrPort]*nodeErrs, 8),
		updated: updated,
		clock:   func() int64 { return time.Now().Unix() },
		window:  w,
		weight:  2 / (float64(w) + 1),
	}
}

// SetClock substitutes a deterministic clock (tests).
func (t *ErrTracker) SetClock(clock func() int64) { t.clock = clock }

func (t *ErrTracker) Error(addr netip.AddrPort)       { t.inc(addr, func(n *nodeErrs) *ewma { return &n.errors }) }
func (t *ErrTracker) IoTimeout(addr netip.AddrPort)   { t.inc(addr, func(n *nodeErrs) *ewma { return &n.ioTimeouts }) }
func (t *ErrTracker) ConnTimeout(addr netip.AddrPort) { t.inc(addr, func(n *nodeErrs) *ewma { return &n.connTimeouts }) }

func (t *ErrTracker) inc(addr netip.AddrPort, sel func(*nodeErrs) *ewma) {
	now := t.clock()
	t.mu.Lock()
	n, ok := t.nodes[addr]
	if !ok {
		n = &nodeErrs{}
		t.nodes[addr] = n
	}
	changed := sel(n).inc(now, t.window, t.weight)
	t.mu.Unlock()
	if changed && t.updated != nil {
		t.updated(addr)
	}
}

// inc folds the count accumulated over the last whole second into the
// average, decays over any skipped seconds, then counts the new event.
// Reports whether the average changed.
func (e *ewma) inc(now, window int64, w float64) (changed bool) {
	if now > e.last && e.last > 0 {
		prev := e.avg
		gap := now - e.last
		if gap > window {
			e.avg = 0
		} else {
			e.avg = float64(e.count)*w + e.avg*(1-w)
			if gap > 1 {
				// closed form for the zero-count seconds in between
				e.avg *= math.Pow(1-w, float64(gap-1))
			}
		}
		e.count = 0
		changed = e.avg != prev
	}
	e.count++
	e.last = now
	return
}

// read-only decayed view at time now
func (e *ewma) perSec(now, window int64, w float64) float64 {
	if e.last == 0 {
		return 0
	}
	gap := now - e.last
	if gap > window {
		return 0
	}
	avg := e.avg
	if gap > 0 {
		avg = float64(e.count)*w + avg*(1-w)
		if gap > 1 {
			avg *= math.Pow(1-w, float64(gap-1))
		}
	}
	return avg
}

// PerSec returns (errors, ioTimeouts, connTimeouts) rates for the node.
func (t *ErrTracker) PerSec(addr netip.AddrPort) (errs, ioTos, connTos float64) {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[addr]
	if !ok {
		return 0, 0, 0
	}
	return n.errors.perSec(now, t.window, t.weight),
		n.ioTimeouts.perSec(now, t.window, t.weight),
		n.connTimeouts.perSec(now, t.window, t.weight)
}

// Rate is the node's aggregate error rate: the sum over the three averages.
func (t *ErrTracker) Rate(addr netip.AddrPort) float64 {
	a, b, c := t.PerSec(addr)
	return a + b + c
}

func (t *ErrTracker) Remove(addr netip.AddrPort) {
	t.mu.Lock()
	delete(t.nodes, addr)
	t.mu.Unlock()
}
