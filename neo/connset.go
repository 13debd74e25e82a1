// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/cmn/cos"
	"github.com/NVIDIA/swarm/cmn/nlog"
)

// ConnSet is the client's node registry: one Conn per registered address,
// each address in exactly one of the live (selectable) or disabled sets.
// A disabled node receives no new request assignments but keeps existing
// requests draining on its open socket.
type ConnSet struct {
	mu       sync.Mutex
	live     map[netip.AddrPort]*Conn
	disabled map[netip.AddrPort]*Conn
	notify   ConnNotifier
	tracker  *ErrTracker

	name string
	key  auth.Key
}

func NewConnSet(name string, key auth.Key, tracker *ErrTracker) *ConnSet {
	return &ConnSet{
		live:     make(map[netip.AddrPort]*Conn, 8),
		disabled: make(map[netip.AddrPort]*Conn, 8),
		tracker:  tracker,
		name:     name,
		key:      key,
	}
}

// event fans every connect-attempt outcome out to the installed notifier
func (cs *ConnSet) event(addr netip.AddrPort, ev ConnEvent, err error) {
	cs.mu.Lock()
	notify := cs.notify
	cs.mu.Unlock()
	if notify != nil {
		notify(addr, ev, err)
	}
}

// SetConnNotifier installs cb and returns the previously installed notifier
// so the caller can chain (delegate first, then act).
func (cs *ConnSet) SetConnNotifier(cb ConnNotifier) (prev ConnNotifier) {
	cs.mu.Lock()
	prev, cs.notify = cs.notify, cb
	cs.mu.Unlock()
	return
}

func (cs *ConnSet) Add(addr netip.AddrPort) error {
	cs.mu.Lock()
	if _, ok := cs.live[addr]; ok {
		cs.mu.Unlock()
		return fmt.Errorf("node %s already registered", addr)
	}
	if _, ok := cs.disabled[addr]; ok {
		cs.mu.Unlock()
		return fmt.Errorf("node %s already registered (disabled)", addr)
	}
	c := newConn(addr, cs.name, cs.key, cs.event, cs.tracker)
	cs.live[addr] = c
	cs.mu.Unlock()
	c.start()
	return nil
}

func (cs *ConnSet) Remove(addr netip.AddrPort) error {
	cs.mu.Lock()
	c, ok := cs.live[addr]
	if ok {
		delete(cs.live, addr)
	} else if c, ok = cs.disabled[addr]; ok {
		delete(cs.disabled, addr)
	}
	cs.mu.Unlock()
	if !ok {
		return cos.NewErrNotFound("node %s", addr)
	}
	c.stop()
	if cs.tracker != nil {
		cs.tracker.Remove(addr)
	}
	nlog.Infoln("removed node", addr)
	return nil
}

func (cs *ConnSet) Disable(addr netip.AddrPort) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.live[addr]
	if !ok {
		if _, ok = cs.disabled[addr]; ok {
			return nil // already disabled
		}
		return cos.NewErrNotFound("node %s", addr)
	}
	delete(cs.live, addr)
	cs.disabled[addr] = c
	return nil
}

func (cs *ConnSet) Enable(addr netip.AddrPort) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.disabled[addr]
	if !ok {
		if _, ok = cs.live[addr]; ok {
			return nil
		}
		return cos.NewErrNotFound("node %s", addr)
	}
	delete(cs.disabled, addr)
	cs.live[addr] = c
	return nil
}

// Get resolves an address in either set.
func (cs *ConnSet) Get(addr netip.AddrPort) (*Conn, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if c, ok := cs.live[addr]; ok {
		return c, true
	}
	c, ok := cs.disabled[addr]
	return c, ok
}

// Enabled snapshots the selectable connections.
func (cs *ConnSet) Enabled() []*Conn {
	cs.mu.Lock()
	out := make([]*Conn, 0, len(cs.live))
	for _, c := range cs.live {
		out = append(out, c)
	}
	cs.mu.Unlock()
	return out
}

func (cs *ConnSet) NumRegistered() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.live) + len(cs.disabled)
}

func (cs *ConnSet) NumConnected() (n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range cs.live {
		if c.IsConnected() {
			n++
		}
	}
	for _, c := range cs.disabled {
		if c.IsConnected() {
			n++
		}
	}
	return
}

// Rearm propagates rotated credentials to all connections parked on an
// authentication failure.
func (cs *ConnSet) Rearm(name string, key auth.Key) {
	cs.mu.Lock()
	cs.name, cs.key = name, key
	conns := make([]*Conn, 0, len(cs.live)+len(cs.disabled))
	for _, c := range cs.live {
		conns = append(conns, c)
	}
	for _, c := range cs.disabled {
		conns = append(conns, c)
	}
	cs.mu.Unlock()
	for _, c := range conns {
		c.Rearm(name, key)
	}
}

func (cs *ConnSet) Stop() {
	cs.mu.Lock()
	conns := make([]*Conn, 0, len(cs.live)+len(cs.disabled))
	for _, c := range cs.live {
		conns = append(conns, c)
	}
	for _, c := range cs.disabled {
		conns = append(conns, c)
	}
	cs.mu.Unlock()
	for _, c := range conns {
		c.stop()
	}
}

// waitCond blocks the calling goroutine until pred holds, re-evaluating on
// every connection event: transient notifier first delegates to whatever was
// installed, then wakes the waiter.
func (cs *ConnSet) waitCond(pred func() bool, stop <-chan struct{}) bool {
	wake := make(chan struct{}, 1)
	prev := cs.SetConnNotifier(nil)
	cs.SetConnNotifier(func(addr netip.AddrPort, ev ConnEvent, err error) {
		if prev != nil {
			prev(addr, ev, err)
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cs.SetConnNotifier(prev)

	for !pred() {
		select {
		case <-wake:
		case <-stop:
			return false
		}
	}
	return true
}
