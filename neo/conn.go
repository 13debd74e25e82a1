// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/cmn/atomic"
	"github.com/NVIDIA/swarm/cmn/cos"
	"github.com/NVIDIA/swarm/cmn/debug"
	"github.com/NVIDIA/swarm/cmn/nlog"
	"github.com/NVIDIA/swarm/wire"
)

// connection states
const (
	stDown int32 = iota
	stUp
	stAuthRejected
	stStopped
)

const (
	dfltHsTimeout = 10 * time.Second
	mboxCap       = 8
	wrChCap       = 64
)

// wreq claim states
const (
	wrPending int32 = iota
	wrSent          // the writer owns it: the frame goes on the wire
	wrWithdrawn     // the submitter pulled it back: never written
)

type (
	// ConnEvent is delivered to the connection notifier on every
	// connect-attempt outcome.
	ConnEvent uint8

	ConnNotifier func(addr netip.AddrPort, ev ConnEvent, err error)

	// one queued outbound frame; exactly one of the writer (wrSent) and
	// the submitter (wrWithdrawn) claims it via CAS, so an interrupted or
	// abandoned send is never emitted late and "sent" is never a guess
	wreq struct {
		done    chan error
		payload []byte
		id      ReqID
		state   atomic.Int32
	}

	// Conn owns one TCP socket to a peer, a reader goroutine that
	// demultiplexes inbound frames into per-RoC mailboxes, and a writer
	// goroutine that serializes outbound frames. Client-side connections
	// reconnect with backoff; accepted (node-side) connections do not.
	Conn struct {
		addr netip.AddrPort
		lid  string

		// client-side handshake identity (unused on accepted conns)
		name string
		key  auth.Key

		mu        sync.Mutex
		nc        net.Conn
		fr        *wire.Framer
		alive     chan struct{} // closed on disconnect
		ready     chan struct{} // closed on (re)connect
		rocs      map[ReqID]*RoC
		downErr   error // why the last epoch ended
		principal string
		maxRx     uint32 // peer-advertised max payload
		minor     uint16

		state  atomic.Int32
		epoch  atomic.Int64
		wrCh   chan *wreq
		stopCh cos.StopCh
		rearm  chan struct{} // closed to retry after auth rejection
		wg     sync.WaitGroup

		notify  ConnNotifier
		tracker *ErrTracker
		srv     *Node // non-nil on accepted connections

		hsTimeout time.Duration

		stats ConnStats
	}

	// ConnStats: frame and byte counters, both directions.
	ConnStats struct {
		SentFrames atomic.Int64
		RcvdFrames atomic.Int64
		SentBytes  atomic.Int64
		RcvdBytes  atomic.Int64
	}
)

const (
	ConnEstablished ConnEvent = iota
	ConnAuthFailed
	ConnSockErr
	ConnShutdown
)

func (ev ConnEvent) String() string {
	switch ev {
	case ConnEstablished:
		return "established"
	case ConnAuthFailed:
		return "auth-failed"
	case ConnSockErr:
		return "socket-error"
	case ConnShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("conn-event(%d)", uint8(ev))
}

func newConn(addr netip.AddrPort, name string, key auth.Key, notify ConnNotifier, tracker *ErrTracker) *Conn {
	c := &Conn{
		addr:      addr,
		lid:       "c-" + addr.String(),
		name:      name,
		key:       key,
		rocs:      make(map[ReqID]*RoC, 8),
		wrCh:      make(chan *wreq, wrChCap),
		notify:    notify,
		tracker:   tracker,
		hsTimeout: dfltHsTimeout,
	}
	c.stopCh.Init()
	c.alive = make(chan struct{})
	close(c.alive) // starts disconnected
	c.ready = make(chan struct{})
	c.state.Store(stDown)
	return c
}

// newAccepted wraps a node-side socket that already passed the handshake.
func newAccepted(nc net.Conn, fr *wire.Framer, principal string, srv *Node) *Conn {
	c := &Conn{
		lid:       "s-" + nc.RemoteAddr().String(),
		nc:        nc,
		fr:        fr,
		principal: principal,
		rocs:      make(map[ReqID]*RoC, 8),
		wrCh:      make(chan *wreq, wrChCap),
		srv:       srv,
	}
	c.stopCh.Init()
	c.alive = make(chan struct{})
	c.ready = make(chan struct{})
	close(c.ready)
	c.state.Store(stUp)
	return c
}

func (c *Conn) String() string     { return c.lid }
func (c *Conn) Principal() string  { return c.principal }
func (c *Conn) Stats() *ConnStats  { return &c.stats }
func (c *Conn) IsConnected() bool  { return c.state.Load() == stUp }
func (c *Conn) Addr() netip.AddrPort { return c.addr }

//
// lifecycle
//

func (c *Conn) start() {
	c.wg.Add(1)
	go c.run()
}

// serve drives an accepted connection (no reconnect)
func (c *Conn) serve() {
	alive := c.alive
	c.wg.Add(1)
	go c.writer(c.fr, alive, c.epoch.Load())
	err := c.readLoop(c.fr)
	c.teardown(c.epoch.Load(), err)
	c.wg.Wait()
}

func (c *Conn) stop() {
	c.state.Store(stStopped)
	c.stopCh.Close()
	c.mu.Lock()
	if c.nc != nil {
		c.nc.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Rearm re-enables reconnection after an authentication failure (e.g. upon
// credentials rotation).
func (c *Conn) Rearm(name string, key auth.Key) {
	c.mu.Lock()
	c.name, c.key = name, key
	rearm := c.rearm
	c.rearm = nil
	c.mu.Unlock()
	if rearm != nil {
		close(rearm)
	}
}

// client-side maintain loop: dial, authenticate, read until failure, back off
func (c *Conn) run() {
	defer c.wg.Done()
	rt := newBackoff()
	for {
		select {
		case <-c.stopCh.Listen():
			return
		default:
		}

		nc, err := net.DialTimeout("tcp", c.addr.String(), c.hsTimeout)
		if err != nil {
			c.connFailed(err)
			if !rt.sleep(&c.stopCh) {
				return
			}
			continue
		}

		nc.SetDeadline(time.Now().Add(c.hsTimeout))
		fr := wire.NewFramer(nc, nc, wire.DfltMaxPayload)
		maxRx, minor, err := auth.ClientHandshake(fr, c.name, c.key)
		if err != nil {
			nc.Close()
			if err == auth.ErrAuthFailed {
				if !c.authRejected(err) {
					return
				}
				rt.reset()
				continue
			}
			c.connFailed(NewErr(ConnTimedOut, err))
			if !rt.sleep(&c.stopCh) {
				return
			}
			continue
		}
		nc.SetDeadline(time.Time{})
		fr.SetMaxPayload(maxRx)

		// up
		epoch := c.epoch.Inc()
		c.mu.Lock()
		c.nc, c.fr = nc, fr
		c.maxRx, c.minor = maxRx, minor
		c.downErr = nil
		c.alive = make(chan struct{})
		ready := c.ready
		c.mu.Unlock()
		c.state.Store(stUp)
		close(ready)

		nlog.Infoln(c.lid, "connected, principal", c.name, "max-payload", maxRx)
		if c.notify != nil {
			c.notify(c.addr, ConnEstablished, nil)
		}
		rt.reset()

		c.mu.Lock()
		alive := c.alive
		c.mu.Unlock()
		c.wg.Add(1)
		go c.writer(fr, alive, epoch)

		err = c.readLoop(fr)
		c.teardown(epoch, err)

		if c.state.Load() == stStopped {
			return
		}
		if !rt.sleep(&c.stopCh) {
			return
		}
	}
}

func (c *Conn) connFailed(err error) {
	if c.tracker != nil {
		if KindOf(err) == ConnTimedOut || cos.IsErrTimeout(err) {
			c.tracker.ConnTimeout(c.addr)
		} else {
			c.tracker.Error(c.addr)
		}
	}
	if c.notify != nil {
		c.notify(c.addr, ConnSockErr, err)
	}
	nlog.Warningln(c.lid, "connect failed:", err)
}

// authentication failure disables reconnection until Rearm; returns false
// when stopped while parked
func (c *Conn) authRejected(err error) bool {
	nlog.Errorln(c.lid, "authentication failed")
	c.state.Store(stAuthRejected)
	c.mu.Lock()
	c.rearm = make(chan struct{})
	rearm := c.rearm
	c.mu.Unlock()
	if c.notify != nil {
		c.notify(c.addr, ConnAuthFailed, err)
	}
	select {
	case <-rearm:
		c.state.Store(stDown)
		return true
	case <-c.stopCh.Listen():
		return false
	}
}

// teardown ends one connected epoch: idempotent per epoch, fails all RoC
// waits via the alive channel, renews ready for WaitForReconnect
func (c *Conn) teardown(epoch int64, err error) {
	if !c.epoch.CAS(epoch, epoch+1) {
		return
	}
	if c.state.Load() != stStopped {
		c.state.Store(stDown)
	}
	c.mu.Lock()
	if c.downErr == nil {
		if err == nil {
			err = errDisconnected
		}
		c.downErr = err
	}
	if c.nc != nil {
		c.nc.Close()
	}
	alive := c.alive
	c.ready = make(chan struct{})
	c.mu.Unlock()
	close(alive)

	if c.tracker != nil {
		c.tracker.Error(c.addr)
	}
	if c.notify != nil {
		ev := ConnSockErr
		if c.state.Load() == stStopped {
			ev = ConnShutdown
		}
		c.notify(c.addr, ev, err)
	}
	nlog.Warningln(c.lid, "disconnected:", err)
}

// ShutdownProtocolError closes the connection, marks it for reconnection,
// and fails all in-flight RoCs with ProtocolError.
func (c *Conn) ShutdownProtocolError(reason string) {
	err := NewErr(ProtocolError, fmt.Errorf("%s: %s", c.lid, reason))
	nlog.Errorln(err)
	c.mu.Lock()
	c.downErr = err
	c.mu.Unlock()
	c.teardown(c.epoch.Load(), err)
}

// downError classifies why the current/last epoch ended
func (c *Conn) downError() error {
	c.mu.Lock()
	err := c.downErr
	c.mu.Unlock()
	if err == nil {
		err = errDisconnected
	}
	if KindOf(err) == NoError {
		err = NewErr(NodeDisconnected, err)
	}
	return err
}

//
// read/write loops
//

func (c *Conn) readLoop(fr *wire.Framer) error {
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			if _, ok := err.(*wire.ErrFrameTooLong); ok {
				return NewErr(ProtocolError, err)
			}
			if cos.IsEOF(err) {
				return NewErr(NodeDisconnected, err)
			}
			return err
		}
		c.stats.RcvdFrames.Inc()
		c.stats.RcvdBytes.Add(int64(wire.HdrSize + len(frame.Payload)))

		if frame.ReqID == wire.ControlID {
			return NewErr(ProtocolError, fmt.Errorf("unexpected control frame past handshake"))
		}
		id := ReqID(frame.ReqID)
		c.mu.Lock()
		r, ok := c.rocs[id]
		c.mu.Unlock()
		switch {
		case ok:
			if !c.deliver(r, frame.Payload) {
				return errStopped
			}
		case c.srv != nil:
			c.srv.dispatch(c, id, frame.Payload)
		default:
			// stale reply for an aborted/finished request
			if verbose {
				nlog.Infoln(c.lid, "dropping frame for unknown request", id)
			}
		}
	}
}

// deliver blocks when the mailbox is full (per-RoC backpressure stalls this
// connection by design of the in-order fabric)
func (c *Conn) deliver(r *RoC, payload []byte) bool {
	select {
	case r.mbox <- payload:
		return true
	default:
	}
	select {
	case r.mbox <- payload:
		return true
	case <-r.fail.ch:
		return true // aborted; drop
	case <-c.stopCh.Listen():
		return false
	}
}

func (c *Conn) writer(fr *wire.Framer, alive chan struct{}, epoch int64) {
	defer c.wg.Done()
	for {
		select {
		case w := <-c.wrCh:
			if !w.state.CAS(wrPending, wrSent) {
				w.done <- errStopped // withdrawn; never written
				continue
			}
			err := fr.WriteFrame(uint64(w.id), w.payload)
			if err == nil {
				c.stats.SentFrames.Inc()
				c.stats.SentBytes.Add(int64(wire.HdrSize + len(w.payload)))
			}
			w.done <- err
			if err != nil {
				c.teardown(epoch, err)
				return
			}
		case <-alive:
			return
		case <-c.stopCh.Listen():
			return
		}
	}
}

// submit enqueues one outbound frame and blocks until the writer flushed it
func (c *Conn) submit(r *RoC, payload []byte) error {
	w, err := c.post(r, payload)
	if err != nil {
		return err
	}
	return c.await(r, w)
}

func (c *Conn) post(r *RoC, payload []byte) (*wreq, error) {
	c.mu.Lock()
	alive := c.alive
	up := c.state.Load() == stUp
	c.mu.Unlock()
	if !up {
		return nil, c.downError()
	}
	w := &wreq{id: r.id, payload: payload, done: make(chan error, 1)}
	select {
	case c.wrCh <- w:
		return w, nil
	case <-alive:
		return nil, c.downError()
	case <-r.fail.ch:
		return nil, r.fail.err
	case <-c.stopCh.Listen():
		return nil, errStopped
	}
}

func (c *Conn) await(r *RoC, w *wreq) error {
	c.mu.Lock()
	alive := c.alive
	c.mu.Unlock()
	select {
	case err := <-w.done:
		if err != nil {
			return c.downError()
		}
		return nil
	case <-alive:
		w.withdraw()
		return c.downError()
	case <-r.fail.ch:
		w.withdraw()
		return r.fail.err
	case <-c.stopCh.Listen():
		w.withdraw()
		return errStopped
	}
}

// withdraw pulls a queued frame back; false means the writer claimed it
// first and done reports the write's outcome.
func (w *wreq) withdraw() bool { return w.state.CAS(wrPending, wrWithdrawn) }

//
// RoC attachment
//

func (c *Conn) attach(r *RoC) {
	c.mu.Lock()
	_, dup := c.rocs[r.id]
	debug.Assert(!dup, "duplicate RoC id ", uint64(r.id))
	c.rocs[r.id] = r
	c.mu.Unlock()
}

func (c *Conn) detach(id ReqID) {
	c.mu.Lock()
	delete(c.rocs, id)
	c.mu.Unlock()
}

func (c *Conn) aliveCh() chan struct{} {
	c.mu.Lock()
	alive := c.alive
	c.mu.Unlock()
	return alive
}

func (c *Conn) readyCh() (chan struct{}, bool) {
	c.mu.Lock()
	ready := c.ready
	up := c.state.Load() == stUp
	c.mu.Unlock()
	return ready, up
}

/////////////
// backoff //
/////////////

// exponential with jitter
type backoff struct {
	next time.Duration
	max  time.Duration
}

func newBackoff() *backoff {
	return &backoff{next: 100 * time.Millisecond, max: 5 * time.Second}
}

func (b *backoff) reset() { b.next = 100 * time.Millisecond }

// returns false when stopped
func (b *backoff) sleep(stop *cos.StopCh) bool {
	d := b.next
	// +/- 25% jitter
	d += time.Duration(rand.Int63n(int64(d)/2)) - d/4
	b.next = min(b.next+b.next>>1, b.max)
	select {
	case <-time.After(d):
		return true
	case <-stop.Listen():
		return false
	}
}
