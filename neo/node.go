// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"net"
	"sync"
	"time"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/cmn/cos"
	"github.com/NVIDIA/swarm/cmn/nlog"
	"github.com/NVIDIA/swarm/wire"
	"golang.org/x/sync/errgroup"
)

type (
	// ServerHandler runs one node-side request fiber: body is the initial
	// payload past the (code, version) prefix.
	ServerHandler func(r *RoC, body []byte, principal string) error

	handlerKey struct {
		code    RequestCode
		version uint8
	}

	// Node accepts neo connections, authenticates each against its
	// credentials, and runs handler fibers keyed by (request code,
	// version).
	Node struct {
		creds auth.Credentials
		lis   net.Listener

		mu       sync.Mutex
		handlers map[handlerKey]ServerHandler
		conns    map[*Conn]struct{}

		g      errgroup.Group
		stopCh cos.StopCh

		maxPayload uint32
		connLimit  int // 0 = unbounded
		hsTimeout  time.Duration
	}
)

// interface guard
var _ cos.Runner = (*Node)(nil)

func NewNode(creds auth.Credentials, maxPayload uint32, connLimit int) *Node {
	maxPayload = cos.NonZero(maxPayload, uint32(wire.DfltMaxPayload))
	n := &Node{
		creds:      creds,
		handlers:   make(map[handlerKey]ServerHandler, 8),
		conns:      make(map[*Conn]struct{}, 8),
		maxPayload: maxPayload,
		connLimit:  connLimit,
		hsTimeout:  dfltHsTimeout,
	}
	n.stopCh.Init()
	return n
}

func (*Node) Name() string { return "neo-node" }

func (n *Node) RegisterHandler(code RequestCode, version uint8, h ServerHandler) {
	n.mu.Lock()
	n.handlers[handlerKey{code, version}] = h
	n.mu.Unlock()
}

func (n *Node) Listen(addr string) (err error) {
	n.lis, err = net.Listen("tcp", addr)
	return
}

func (n *Node) Addr() net.Addr { return n.lis.Addr() }

// Run accepts until stopped.
func (n *Node) Run() error {
	nlog.Infoln(n.Name(), "listening on", n.lis.Addr())
	for {
		nc, err := n.lis.Accept()
		if err != nil {
			select {
			case <-n.stopCh.Listen():
				return nil
			default:
			}
			return err
		}
		if n.connLimit > 0 && n.numConns() >= n.connLimit {
			nlog.Warningln(n.Name(), "connection limit reached, rejecting", nc.RemoteAddr())
			nc.Close()
			continue
		}
		n.g.Go(func() error {
			n.serveConn(nc)
			return nil
		})
	}
}

func (n *Node) Stop(err error) {
	nlog.Infoln("stopping", n.Name(), "err:", err)
	n.stopCh.Close()
	if n.lis != nil {
		n.lis.Close()
	}
	n.mu.Lock()
	conns := make([]*Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()
	for _, c := range conns {
		c.stop()
	}
	n.g.Wait()
}

func (n *Node) numConns() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

func (n *Node) serveConn(nc net.Conn) {
	nc.SetDeadline(time.Now().Add(n.hsTimeout))
	fr := wire.NewFramer(nc, nc, n.maxPayload)
	principal, err := auth.NodeHandshake(fr, n.creds, n.maxPayload, ProtoMinor)
	if err != nil {
		// no further message on any handshake failure
		nc.Close()
		nlog.Warningln(n.Name(), "handshake with", nc.RemoteAddr(), "failed:", err)
		return
	}
	nc.SetDeadline(time.Time{})

	c := newAccepted(nc, fr, principal, n)
	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()
	nlog.Infoln(n.Name(), "accepted", nc.RemoteAddr(), "principal", principal)

	c.serve()

	n.mu.Lock()
	delete(n.conns, c)
	n.mu.Unlock()
}

// dispatch spawns the handler fiber for the first frame of a fresh ReqID.
// The initial payload is | code:u8 | version:u8 | body |.
func (n *Node) dispatch(c *Conn, id ReqID, payload []byte) {
	p := wire.NewParser(payload)
	code, err := p.Uint8()
	if err == nil {
		var version uint8
		if version, err = p.Uint8(); err == nil {
			n.spawn(c, id, RequestCode(code), version, p.Tail())
			return
		}
	}
	// a too-short frame here is most likely a control message that crossed
	// the end of its stream; the RoC is gone, so drop it
	nlog.Warningln(c.String(), "dropping short initial frame for request", uint64(id), err)
}

func (n *Node) spawn(c *Conn, id ReqID, code RequestCode, version uint8, body []byte) {
	h, status := n.lookup(code, version)
	r := newRoC(id, c, Context{})
	c.attach(r)
	if h == nil {
		go func() {
			defer c.detach(id)
			if err := r.Send([]byte{status}); err != nil {
				nlog.Warningln(c.lid, "failed to report status", status, "for request", uint64(id))
			}
		}()
		return
	}
	go func() {
		defer c.detach(id)
		if err := h(r, body, c.principal); err != nil {
			if KindOf(err) == ProtocolError {
				return // connection already shut down
			}
			nlog.Warningln(c.lid, "request", uint64(id), "handler failed:", err)
		}
	}()
}

func (n *Node) lookup(code RequestCode, version uint8) (ServerHandler, uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if h, ok := n.handlers[handlerKey{code, version}]; ok {
		return h, StatusNone
	}
	// distinguish unknown code from unknown version
	for k := range n.handlers {
		if k.code == code {
			return nil, StatusVersionNotSupported
		}
	}
	return nil, StatusRequestNotSupported
}
