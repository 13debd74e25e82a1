// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"os"
	"runtime"
	"sync"

	"github.com/NVIDIA/swarm/cmn/debug"
)

var verbose = os.Getenv("SWARM_NEO_VERBOSE") != ""

// RoC is the per-(request, connection) unit: one goroutine running the
// request handler, a bounded mailbox for inbound frames, a capacity-one
// signal channel for user resume codes, and the event dispatcher methods
// below. The handler goroutine is the only receiver on both channels, except
// that Signal takes back an undelivered code in order to replace it.
type RoC struct {
	conn   *Conn
	ctx    Context
	notify Notifier // owning request's notifier; nil on node-side fibers

	// per-side working blob (request-specific)
	Working any

	mbox chan []byte
	sig  chan ResumeCode

	fail struct {
		err  error
		ch   chan struct{}
		once sync.Once
	}

	id      ReqID
	counter uint
}

func newRoC(id ReqID, conn *Conn, ctx Context) *RoC {
	r := &RoC{
		id:   id,
		conn: conn,
		ctx:  ctx,
		mbox: make(chan []byte, mboxCap),
		sig:  make(chan ResumeCode, 1),
	}
	r.fail.ch = make(chan struct{})
	return r
}

func (r *RoC) ID() ReqID        { return r.id }
func (r *RoC) Conn() *Conn      { return r.conn }
func (r *RoC) Context() Context { return r.ctx }

// Notify emits a non-terminal notification (succeeded, value, record, ...)
// through the owning request; no-op on node-side fibers.
func (r *RoC) Notify(n Notification) {
	if r.notify != nil {
		n.Node = r.conn.addr
		r.notify(n)
	}
}

// Abort fails every pending and future dispatcher call with err; idempotent,
// first error wins.
func (r *RoC) Abort(err error) {
	r.fail.once.Do(func() {
		r.fail.err = err
		close(r.fail.ch)
	})
}

func (r *RoC) aborted() (error, bool) {
	select {
	case <-r.fail.ch:
		return r.fail.err, true
	default:
		return nil, false
	}
}

// Signal resumes a fiber blocked in WaitForReconnect (or a request-specific
// wait) with a positive user code. A newer signal supersedes an undelivered
// older one, except that a stop wins over everything.
func (r *RoC) Signal(code ResumeCode) {
	debug.Assert(code > 0, int(code))
	for {
		select {
		case r.sig <- code:
			return
		default:
		}
		select {
		case prev := <-r.sig:
			if prev == SigStop {
				code = prev
			}
		default:
		}
	}
}

//
// event dispatcher
//

// Send blocks until the connection writer flushed one frame carrying
// payload; fails when the socket drops mid-send.
func (r *RoC) Send(payload []byte) error {
	if err, ok := r.aborted(); ok {
		return err
	}
	return r.conn.submit(r, payload)
}

// Receive blocks until one inbound message for this RoC arrives. Messages
// already queued are drained even if the connection has since dropped.
func (r *RoC) Receive() ([]byte, error) {
	select {
	case msg := <-r.mbox:
		return msg, nil
	default:
	}
	if err, ok := r.aborted(); ok {
		return nil, err
	}
	alive := r.conn.aliveCh()
	select {
	case msg := <-r.mbox:
		return msg, nil
	case <-alive:
		// a frame may have squeezed in just before teardown
		select {
		case msg := <-r.mbox:
			return msg, nil
		default:
		}
		return nil, r.conn.downError()
	case <-r.fail.ch:
		return nil, r.fail.err
	case <-r.conn.stopCh.Listen():
		return nil, errStopped
	}
}

// ReceiveOrResume blocks until either an inbound message (msg != nil) or a
// user signal (msg == nil, positive code) arrives.
func (r *RoC) ReceiveOrResume() (msg []byte, code ResumeCode, err error) {
	select {
	case msg = <-r.mbox:
		return msg, Received, nil
	case code = <-r.sig:
		return nil, code, nil
	default:
	}
	if ferr, ok := r.aborted(); ok {
		return nil, 0, ferr
	}
	alive := r.conn.aliveCh()
	select {
	case msg = <-r.mbox:
		return msg, Received, nil
	case code = <-r.sig:
		return nil, code, nil
	case <-alive:
		select {
		case msg = <-r.mbox:
			return msg, Received, nil
		default:
		}
		return nil, 0, r.conn.downError()
	case <-r.fail.ch:
		return nil, 0, r.fail.err
	case <-r.conn.stopCh.Listen():
		return nil, 0, errStopped
	}
}

// TryReceive is the non-blocking form.
func (r *RoC) TryReceive() (msg []byte, ok bool) {
	select {
	case msg = <-r.mbox:
		return msg, true
	default:
		return nil, false
	}
}

// SendReceive posts payload for sending but may be interrupted by an inbound
// message arriving first: then (msg, sent=false) is returned, the frame is
// withdrawn, and the caller decides whether to re-send.
func (r *RoC) SendReceive(payload []byte) (msg []byte, sent bool, err error) {
	if err, ok := r.aborted(); ok {
		return nil, false, err
	}
	select {
	case msg = <-r.mbox:
		return msg, false, nil
	default:
	}
	w, err := r.conn.post(r, payload)
	if err != nil {
		return nil, false, err
	}
	alive := r.conn.aliveCh()
	select {
	case werr := <-w.done:
		if werr != nil {
			return nil, false, r.conn.downError()
		}
		return nil, true, nil
	case msg = <-r.mbox:
		if w.withdraw() {
			return msg, false, nil
		}
		// the writer claimed the frame first: it is on the wire (or the
		// write failed, tearing the connection down) - done says which
		select {
		case werr := <-w.done:
			sent = werr == nil
		case <-alive:
		case <-r.fail.ch:
		}
		return msg, sent, nil
	case <-alive:
		w.withdraw()
		return nil, false, r.conn.downError()
	case <-r.fail.ch:
		w.withdraw()
		return nil, false, r.fail.err
	}
}

// PeriodicYieldReceive yields the processor every `threshold` calls and
// surfaces any pending inbound message.
func (r *RoC) PeriodicYieldReceive(threshold uint) (msg []byte, ok bool) {
	r.counter++
	if threshold > 0 && r.counter%threshold == 0 {
		runtime.Gosched()
	}
	return r.TryReceive()
}

// WaitForReconnect suspends until the socket is up (Reconnected), returns
// immediately with ConnUp when it already is, or returns a positive
// user-defined code delivered via Signal.
func (r *RoC) WaitForReconnect() (ResumeCode, error) {
	// user signal first: a stop requested before the wait must win
	select {
	case code := <-r.sig:
		return code, nil
	default:
	}
	if err, ok := r.aborted(); ok {
		return 0, err
	}
	ready, up := r.conn.readyCh()
	if up {
		return ConnUp, nil
	}
	select {
	case <-ready:
		return Reconnected, nil
	case code := <-r.sig:
		return code, nil
	case <-r.fail.ch:
		return 0, r.fail.err
	case <-r.conn.stopCh.Listen():
		return 0, errStopped
	}
}

// ShutdownProtocolError tears the whole connection down (not just this RoC).
func (r *RoC) ShutdownProtocolError(reason string) {
	r.conn.ShutdownProtocolError(reason)
}
