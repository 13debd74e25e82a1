// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"errors"

	"github.com/NVIDIA/swarm/cmn/debug"
	"github.com/NVIDIA/swarm/cmn/nlog"
)

// Sending yields to the runtime every so many records so other fibers on
// the connection get CPU.
const yieldSendCount = 10

// CodeDataReady resumes a stream parked in the waiting-for-data state.
const CodeDataReady = UserCodeBase

// ErrChannelRemoved is returned by an iterator whose source channel was
// removed mid-stream.
var ErrChannelRemoved = errors.New("channel removed")

// Decision is the pure mapping from raw client control bytes to a stream
// action; Undefined is a protocol error.
type Decision uint8

const (
	DecUndefined Decision = iota
	DecSuspend
	DecResume
	DecExit
)

// IterStatus is what one iteration step produced.
type IterStatus uint8

const (
	IterRecord IterStatus = iota // rec is valid
	IterNoData                   // nothing available now; park until CodeDataReady
	IterEnd                      // source exhausted; send End and finish
)

// internal states; transitions happen in sending, waiting and control below
type streamState uint8

const (
	stateSending streamState = iota
	stateWaiting
	stateSuspended
	stateExit
)

type (
	// Iterator produces the stream, one record per call.
	Iterator func() (rec []byte, status IterStatus, err error)

	// Suspendable runs the node side of one flow-controlled, acknowledged,
	// resumable stream: records flow to the client, in-band Suspend/
	// Resume/Stop control messages flow back, and every control message
	// is acknowledged exactly once before any further data frame.
	Suspendable struct {
		roc     *RoC
		iterate Iterator
		decide  func(msg []byte) Decision

		// request-defined wire payloads
		record         func(rec []byte) []byte
		ack            []byte
		end            []byte
		channelRemoved []byte

		state streamState
	}

	SuspendableArgs struct {
		Iterate Iterator
		Decide  func(msg []byte) Decision
		Record  func(rec []byte) []byte
		Ack     []byte
		End     []byte
		ChannelRemoved []byte
	}
)

func NewSuspendable(r *RoC, args SuspendableArgs) *Suspendable {
	debug.Assert(args.Iterate != nil && args.Decide != nil && args.Record != nil)
	debug.Assert(len(args.Ack) > 0 && len(args.End) > 0)
	return &Suspendable{
		roc:            r,
		iterate:        args.Iterate,
		decide:         args.Decide,
		record:         args.Record,
		ack:            args.Ack,
		end:            args.End,
		channelRemoved: args.ChannelRemoved,
		state:          stateSending,
	}
}

// Run drives the state machine until the stream ends (End sent), the
// source channel is removed, or the connection fails.
func (s *Suspendable) Run() error {
	for {
		var err error
		switch s.state {
		case stateSending:
			err = s.sending()
		case stateWaiting:
			err = s.waiting()
		case stateSuspended:
			err = s.suspended()
		case stateExit:
			return s.roc.Send(s.end)
		}
		if err != nil {
			if err == ErrChannelRemoved {
				return s.removed()
			}
			return err
		}
	}
}

func (s *Suspendable) sending() error {
	for s.state == stateSending {
		if msg, ok := s.roc.PeriodicYieldReceive(yieldSendCount); ok {
			return s.control(msg)
		}
		rec, status, err := s.iterate()
		if err != nil {
			return err
		}
		switch status {
		case IterRecord:
			if err := s.roc.Send(s.record(rec)); err != nil {
				return err
			}
		case IterNoData:
			s.state = stateWaiting
		case IterEnd:
			s.state = stateExit
		}
	}
	return nil
}

func (s *Suspendable) waiting() error {
	for s.state == stateWaiting {
		msg, code, err := s.roc.ReceiveOrResume()
		if err != nil {
			return err
		}
		if msg != nil {
			return s.control(msg)
		}
		if code == CodeDataReady {
			s.state = stateSending
		}
	}
	return nil
}

func (s *Suspendable) suspended() error {
	for s.state == stateSuspended {
		// only a control message can move us; data-ready is remembered by
		// the source and re-reported by iterate() after the resume
		msg, _, err := s.roc.ReceiveOrResume()
		if err != nil {
			return err
		}
		if msg != nil {
			return s.control(msg)
		}
	}
	return nil
}

// control decides, acknowledges exactly once, and transitions. Between
// receiving the control message and sending its Ack no other data frame
// goes out on this RoC; a second control already queued at that point is
// a protocol violation.
func (s *Suspendable) control(msg []byte) error {
	dec := s.decide(msg)
	if dec == DecUndefined {
		s.roc.ShutdownProtocolError("undefined control message")
		return NewErr(ProtocolError, errors.New("undefined control message"))
	}
	if _, early := s.roc.TryReceive(); early {
		s.roc.ShutdownProtocolError("control message before ack of the previous one")
		return NewErr(ProtocolError, errors.New("unacknowledged control message"))
	}
	if err := s.roc.Send(s.ack); err != nil {
		return err
	}
	switch dec {
	case DecSuspend:
		s.state = stateSuspended
	case DecResume:
		s.state = stateSending
	case DecExit:
		s.state = stateExit
	}
	return nil
}

// removed: one ChannelRemoved message, then ignore everything the client
// still says on this RoC until it goes away
func (s *Suspendable) removed() error {
	if s.channelRemoved != nil {
		if err := s.roc.Send(s.channelRemoved); err != nil {
			return err
		}
	}
	nlog.Warningln(s.roc.conn.lid, "channel removed mid-stream, request", uint64(s.roc.id))
	for {
		if _, err := s.roc.Receive(); err != nil {
			return nil
		}
	}
}
