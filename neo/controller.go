// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"sync"
)

type (
	// SharedWorking is the client-side state a batch (streaming) request
	// shares across its RoCs: the user-facing suspend/stop flags. The
	// RoCs act on the flags between inbound records and translate them
	// into wire control messages.
	SharedWorking struct {
		mu        sync.Mutex
		rocs      []*RoC
		suspended bool
		stopped   bool
	}

	// BatchController is the user's handle on an in-flight batch request.
	BatchController struct {
		sw *SharedWorking
	}

	// StreamMsgs are the request-defined wire payloads of the client side
	// of a suspendable stream, plus the classifier for acks.
	StreamMsgs struct {
		Suspend []byte
		Resume  []byte
		Stop    []byte
		IsAck   func(msg []byte) bool
	}
)

func NewBatchController(sw *SharedWorking) *BatchController { return &BatchController{sw: sw} }

// interface guard
var _ Controller = (*BatchController)(nil)

func (bc *BatchController) Control(a ControlAction) error {
	switch a {
	case ActSuspend:
		bc.sw.Suspend()
	case ActResume:
		bc.sw.Resume()
	case ActStop:
		bc.sw.Stop()
	}
	return nil
}

///////////////////
// SharedWorking //
///////////////////

// Register adds a RoC to the resume/stop signal fan-out.
func (sw *SharedWorking) Register(r *RoC) {
	sw.mu.Lock()
	sw.rocs = append(sw.rocs, r)
	sw.mu.Unlock()
}

func (sw *SharedWorking) Suspend() {
	sw.mu.Lock()
	sw.suspended = true
	sw.mu.Unlock()
}

// Resume clears the flag and wakes RoCs parked in the connect phase.
func (sw *SharedWorking) Resume() {
	sw.mu.Lock()
	sw.suspended = false
	rocs := append([]*RoC(nil), sw.rocs...)
	sw.mu.Unlock()
	for _, r := range rocs {
		r.Signal(SigResume)
	}
}

// Stop is idempotent.
func (sw *SharedWorking) Stop() {
	sw.mu.Lock()
	if sw.stopped {
		sw.mu.Unlock()
		return
	}
	sw.stopped = true
	rocs := append([]*RoC(nil), sw.rocs...)
	sw.mu.Unlock()
	for _, r := range rocs {
		r.Signal(SigStop)
	}
}

func (sw *SharedWorking) Suspended() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.suspended
}

func (sw *SharedWorking) Stopped() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.stopped
}

// RunStream drives the client side of one suspendable stream on r:
// every inbound data message goes to onMsg (which reports the end of the
// stream), and flag changes are reconciled into wire control messages,
// each awaited for its Ack. The node never interleaves a data frame
// between receiving a control message and acking it, so the first ack
// classified by IsAck pairs with our most recent control message.
func (sw *SharedWorking) RunStream(r *RoC, msgs StreamMsgs, onMsg func(msg []byte) (done bool, err error)) error {
	var (
		nodeSuspended bool // what the node last acked
		stopSent      bool
	)
	for {
		switch {
		case sw.Stopped() && !stopSent:
			done, err := sw.sendCtl(r, msgs.Stop, msgs.IsAck, onMsg)
			if err != nil || done {
				return err
			}
			stopSent = true
		case !stopSent && sw.Suspended() != nodeSuspended:
			m := msgs.Suspend
			if nodeSuspended {
				m = msgs.Resume
			}
			done, err := sw.sendCtl(r, m, msgs.IsAck, onMsg)
			if err != nil || done {
				return err
			}
			nodeSuspended = !nodeSuspended
		default:
			msg, _, err := r.ReceiveOrResume()
			if err != nil {
				return err
			}
			if msg == nil {
				continue // a signal: reconcile the flags
			}
			done, err := onMsg(msg)
			if err != nil || done {
				return err
			}
		}
	}
}

// sendCtl sends one control message - re-sending when interrupted by an
// inbound record - then consumes records until the Ack arrives.
func (sw *SharedWorking) sendCtl(r *RoC, ctl []byte, isAck func([]byte) bool,
	onMsg func([]byte) (bool, error)) (done bool, err error) {
	for {
		msg, sent, err := r.SendReceive(ctl)
		if err != nil {
			return false, err
		}
		if msg != nil {
			if done, err = onMsg(msg); err != nil || done {
				return done, err
			}
		}
		if sent {
			break
		}
	}
	for {
		msg, err := r.Receive()
		if err != nil {
			return false, err
		}
		if isAck(msg) {
			return false, nil
		}
		if done, err = onMsg(msg); err != nil || done {
			return done, err
		}
	}
}
