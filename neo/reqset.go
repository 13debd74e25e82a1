// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/NVIDIA/swarm/cmn/atomic"
	"github.com/NVIDIA/swarm/cmn/debug"
	"github.com/NVIDIA/swarm/cmn/mono"
	"github.com/NVIDIA/swarm/stats"
)

// ControlAction is what a user can do to an in-flight request that exposes
// a controller.
type ControlAction uint8

const (
	ActSuspend ControlAction = iota
	ActResume
	ActStop
)

// Controller is implemented by requests that support in-flight control
// (see BatchController).
type Controller interface {
	Control(ControlAction) error
}

var ErrNoController = errors.New("request has no controller")

type (
	// Request is one client-side in-flight request: its id, type tag,
	// correlation context, notifier, optional controller, and the RoCs
	// fanned out on its behalf.
	Request struct {
		rs         *RequestSet
		typ        string
		ctx        Context
		notify     Notifier
		controller Controller

		// request-global shared working data (request-specific struct)
		Working any

		mu   sync.Mutex
		rocs []*RoC

		id       ReqID
		started  int64 // micros
		finished atomic.Bool
	}

	// RequestSet tracks every in-flight request of a client, allocates
	// ids from a monotonically increasing generator (never reused while
	// in flight), and enforces the max_requests bound.
	RequestSet struct {
		mu     sync.Mutex
		reqs   map[ReqID]*Request
		nextID atomic.Uint64

		Timers *TimerSet
		stats  *stats.Requests

		maxRequests int
	}
)

func NewRequestSet(maxRequests int, st *stats.Requests) *RequestSet {
	rs := &RequestSet{
		reqs:        make(map[ReqID]*Request, 64),
		stats:       st,
		maxRequests: maxRequests,
	}
	rs.Timers = NewTimerSet(func(id ReqID) {
		rs.Abort(id, NewErr(IoTimedOut, fmt.Errorf("request %d timed out", id)))
	})
	return rs
}

// Assign allocates a ReqID and registers the request. Fails with
// RequestQueueFull beyond max_requests.
func (rs *RequestSet) Assign(typ string, ctx Context, notify Notifier, controller Controller) (*Request, error) {
	rs.mu.Lock()
	if len(rs.reqs) >= rs.maxRequests {
		rs.mu.Unlock()
		return nil, NewErr(RequestQueueFull, fmt.Errorf("%d requests in flight", rs.maxRequests))
	}
	req := &Request{
		rs:         rs,
		typ:        typ,
		ctx:        ctx,
		notify:     notify,
		controller: controller,
		id:         ReqID(rs.nextID.Inc()),
		started:    mono.NanoTime() / 1000,
	}
	rs.reqs[req.id] = req
	rs.mu.Unlock()
	return req, nil
}

func (rs *RequestSet) Get(id ReqID) (*Request, bool) {
	rs.mu.Lock()
	req, ok := rs.reqs[id]
	rs.mu.Unlock()
	return req, ok
}

func (rs *RequestSet) NumInFlight() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.reqs)
}

// Control dispatches a user action to the request's controller.
func (rs *RequestSet) Control(id ReqID, action ControlAction) error {
	req, ok := rs.Get(id)
	if !ok {
		return fmt.Errorf("request %d not in flight", id)
	}
	if req.controller == nil {
		return ErrNoController
	}
	return req.controller.Control(action)
}

// Abort tears down all RoCs of the request and emits the terminal
// notification; used by timeouts and fatal status codes.
func (rs *RequestSet) Abort(id ReqID, err error) {
	req, ok := rs.Get(id)
	if !ok {
		return
	}
	req.mu.Lock()
	rocs := append([]*RoC(nil), req.rocs...)
	req.mu.Unlock()
	ferr := NewErr(FatalError, err)
	for _, r := range rocs {
		r.Abort(ferr)
	}
	req.Finish(Notification{Type: NotifError, Err: err})
	if verbose {
		debug.Infof("aborted request %d: %v", uint64(id), err)
	}
}

func (rs *RequestSet) Stop() {
	rs.Timers.Stop()
	rs.mu.Lock()
	reqs := make([]*Request, 0, len(rs.reqs))
	for _, req := range rs.reqs {
		reqs = append(reqs, req)
	}
	rs.mu.Unlock()
	for _, req := range reqs {
		rs.Abort(req.id, errStopped)
	}
}

/////////////
// Request //
/////////////

func (req *Request) ID() ReqID        { return req.id }
func (req *Request) Type() string     { return req.typ }
func (req *Request) Context() Context { return req.ctx }

// NewRoC creates and attaches one per-connection fiber for this request.
func (req *Request) NewRoC(c *Conn) *RoC {
	r := newRoC(req.id, c, req.ctx)
	r.notify = req.Notify
	c.attach(r)
	req.mu.Lock()
	req.rocs = append(req.rocs, r)
	req.mu.Unlock()
	return r
}

// Notify delivers a non-terminal notification; suppressed once finished.
func (req *Request) Notify(n Notification) {
	if req.finished.Load() || req.notify == nil {
		return
	}
	n.ID, n.Ctx = req.id, req.ctx
	req.notify(n)
}

// Finish delivers the terminal notification exactly once: records the
// duration sample, clears any timeout, releases the RoCs, and removes the
// request from the set. Nothing is delivered for this id thereafter.
func (req *Request) Finish(n Notification) {
	if !req.finished.CAS(false, true) {
		return
	}
	rs := req.rs
	rs.Timers.ClearRequestTimeout(req.id)
	if rs.stats != nil {
		rs.stats.RequestFinished(req.typ, req.started)
	}

	req.mu.Lock()
	rocs := req.rocs
	req.rocs = nil
	req.mu.Unlock()
	for _, r := range rocs {
		r.conn.detach(r.id)
		r.Abort(errStopped) // release any straggler wait
	}

	rs.mu.Lock()
	delete(rs.reqs, req.id)
	rs.mu.Unlock()

	if req.notify != nil {
		if n.Type != NotifError {
			n.Type = NotifFinished
		}
		n.ID, n.Ctx = req.id, req.ctx
		req.notify(n)
	}
}
