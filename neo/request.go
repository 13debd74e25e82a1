// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"fmt"
	"sort"

	"github.com/NVIDIA/swarm/cmn/atomic"
	"github.com/NVIDIA/swarm/cmn/cos"
	"github.com/OneOfOne/xxhash"
)

// DisconnectAction decides what a per-node fiber does when the connection
// drops while its handler is running.
type DisconnectAction uint8

const (
	DiscRetry DisconnectAction = iota // wait for reconnect, re-initialize, re-run
	DiscAbort                         // give this node up
)

type (
	// Connector decides what to do on disconnect before the handler has
	// started; returning false exits the per-node fiber without notifying
	// (commonly: the user asked for Stop during the reconnect wait).
	Connector func(r *RoC) bool

	// Initializer builds and sends the initial payload and validates the
	// node's status response.
	Initializer func(r *RoC) error

	// HandlerFn is the request body.
	HandlerFn func(r *RoC) error

	// DisconnectedHandler decides what to do when the handler was already
	// running and the connection dropped.
	DisconnectedHandler func(r *RoC, err error) DisconnectAction

	// Policies parameterize the request skeletons; zero fields get the
	// defaults below.
	Policies struct {
		Connect      Connector
		Initialize   Initializer
		Handle       HandlerFn
		Disconnected DisconnectedHandler
	}
)

// DefaultConnector waits for the connection to come (back) up; gives up on
// stop or abort.
func DefaultConnector(r *RoC) bool {
	for {
		code, err := r.WaitForReconnect()
		if err != nil {
			return false
		}
		switch code {
		case ConnUp, Reconnected:
			return true
		case SigStop:
			return false
		case SigResume:
			continue
		default:
			continue
		}
	}
}

// DefaultDisconnected retries (the skeleton has already emitted
// node-disconnected by the time it is called).
func DefaultDisconnected(r *RoC, err error) DisconnectAction {
	return DiscRetry
}

func (p *Policies) fill() {
	if p.Connect == nil {
		p.Connect = DefaultConnector
	}
	if p.Disconnected == nil {
		p.Disconnected = DefaultDisconnected
	}
}

func isDisconnected(err error) bool {
	switch KindOf(err) {
	case NodeDisconnected, ProtocolError:
		return true
	}
	return false
}

//////////////////////
// all-nodes fan-out //
//////////////////////

// RunAllNodes fans the request out to every enabled node: per node
// connect() -> initialize() -> handle(). The terminal notification is
// emitted exactly once, by the last per-node fiber to exit.
func RunAllNodes(req *Request, conns []*Conn, p Policies) {
	p.fill()
	if len(conns) == 0 {
		req.Finish(Notification{Type: NotifError, Err: NewErr(NoResponsibleNode, fmt.Errorf("no nodes registered"))})
		return
	}
	var (
		pending = atomic.NewInt32(int32(len(conns)))
		errs    = &cos.Errs{}
	)
	for _, c := range conns {
		go runNode(req, c, p, pending, errs)
	}
}

func runNode(req *Request, c *Conn, p Policies, pending *atomic.Int32, errs *cos.Errs) {
	r := req.NewRoC(c)
	defer func() {
		c.detach(r.id)
		if pending.Dec() == 0 {
			n := Notification{Type: NotifFinished}
			if _, err := errs.JoinErr(); err != nil {
				n = Notification{Type: NotifError, Err: err}
			}
			req.Finish(n)
		}
	}()

	if !c.IsConnected() && !p.Connect(r) {
		return
	}
	for {
		err := p.Initialize(r)
		if err == nil {
			err = p.Handle(r)
		}
		if err == nil {
			return
		}
		if !isDisconnected(err) {
			errs.Add(err)
			req.Notify(Notification{Type: NotifError, Node: c.addr, Err: err})
			return
		}
		req.Notify(Notification{Type: NotifNodeDisconnected, Node: c.addr, Err: err})
		if p.Disconnected(r, err) == DiscAbort {
			errs.Add(err)
			return
		}
		if !p.Connect(r) {
			return
		}
	}
}

///////////////////////////
// single-node selection //
///////////////////////////

// hrwOrder ranks the connections for a request key, highest random weight
// first (rendezvous hashing).
func hrwOrder(key []byte, conns []*Conn) []*Conn {
	digest := xxhash.Checksum64S(key, cos.MLCG32)
	type scored struct {
		c *Conn
		w uint64
	}
	ranked := make([]scored, len(conns))
	for i, c := range conns {
		ranked[i] = scored{c, xxhash.Checksum64S(cos.UnsafeB(c.addr.String()), digest)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].w > ranked[j].w })
	out := make([]*Conn, len(ranked))
	for i, s := range ranked {
		out[i] = s.c
	}
	return out
}

// RunSingleNode targets the node responsible for key and fails over down
// the HRW order when it cannot be reached.
func RunSingleNode(req *Request, conns []*Conn, key []byte, p Policies) {
	p.fill()
	if len(conns) == 0 {
		req.Finish(Notification{Type: NotifError, Err: NewErr(NoResponsibleNode, fmt.Errorf("no nodes registered"))})
		return
	}
	go func() {
		var lastErr error
		for _, c := range hrwOrder(key, conns) {
			r := req.NewRoC(c)
			if !c.IsConnected() && !p.Connect(r) {
				c.detach(r.id)
				continue // failover
			}
			err := p.Initialize(r)
			if err == nil {
				err = p.Handle(r)
			}
			c.detach(r.id)
			if err == nil {
				req.Finish(Notification{Type: NotifFinished, Node: c.addr})
				return
			}
			lastErr = err
			if isDisconnected(err) {
				req.Notify(Notification{Type: NotifNodeDisconnected, Node: c.addr, Err: err})
				continue // failover to the next-best node
			}
			req.Finish(Notification{Type: NotifError, Node: c.addr, Err: err})
			return
		}
		if lastErr == nil {
			lastErr = NewErr(NoResponsibleNode, fmt.Errorf("all nodes unreachable"))
		}
		req.Finish(Notification{Type: NotifError, Err: lastErr})
	}()
}
