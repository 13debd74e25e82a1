// Package kvtest is the example key-value request set used by the neo
// end-to-end tests: Put and Get target a single responsible node, GetAll
// streams every record from every node through a suspendable stream.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package kvtest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/NVIDIA/swarm/neo"
	"github.com/NVIDIA/swarm/wire"
)

const (
	CodePut    neo.RequestCode = 1
	CodeGet    neo.RequestCode = 2
	CodeGetAll neo.RequestCode = 3

	Version uint8 = 0
)

// node -> client message types: first payload byte, clear of the global
// status code range
const (
	MsgOK             uint8 = 0x10
	MsgValue          uint8 = 0x11
	MsgEmpty          uint8 = 0x12
	MsgRecord         uint8 = 0x13
	MsgEnd            uint8 = 0x14
	MsgAck            uint8 = 0x15
	MsgChannelRemoved uint8 = 0x16
)

// client -> node stream control codes
const (
	CtlSuspend uint8 = 1
	CtlResume  uint8 = 2
	CtlStop    uint8 = 3
)

var errChannelRemoved = errors.New("channel removed mid-stream")

func keyBytes(key uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, key)
	return b
}

// checkStatus classifies a reply's first byte.
func checkStatus(msg []byte) (uint8, error) {
	if len(msg) == 0 {
		return 0, neo.NewErr(neo.ProtocolError, errors.New("empty reply"))
	}
	switch msg[0] {
	case neo.StatusVersionNotSupported, neo.StatusRequestNotSupported:
		return 0, neo.NewErr(neo.Unsupported, fmt.Errorf("status %d", msg[0]))
	}
	return msg[0], nil
}

func await(done <-chan neo.Notification) error {
	n := <-done
	return n.Err
}

// Put stores value under key on the responsible node; synchronous.
func Put(cl *neo.Client, key uint64, value []byte) error {
	if len(value) == 0 {
		return neo.NewErr(neo.EmptyValue, fmt.Errorf("put %x: empty value", key))
	}
	done := make(chan neo.Notification, 1)
	args := neo.RequestArgs{
		Type: "put",
		Notify: func(n neo.Notification) {
			if n.Type == neo.NotifFinished || n.Type == neo.NotifError {
				done <- n
			}
		},
		Policies: neo.Policies{
			Initialize: func(r *neo.RoC) error {
				payload := wire.NewBuilder(10 + len(value)).
					Uint8(uint8(CodePut)).Uint8(Version).
					Uint64(key).Tail(value).Payload()
				return r.Send(payload)
			},
			Handle: func(r *neo.RoC) error {
				msg, err := r.Receive()
				if err != nil {
					return err
				}
				st, err := checkStatus(msg)
				if err != nil {
					return err
				}
				if st != MsgOK {
					return neo.NewErr(neo.NodeError, fmt.Errorf("put: unexpected reply %#x", st))
				}
				r.Notify(neo.Notification{Type: neo.NotifSucceeded})
				return nil
			},
		},
	}
	if _, err := cl.AssignSingleNode(keyBytes(key), args); err != nil {
		return err
	}
	return await(done)
}

// Get fetches the value under key; ok is false when the key is missing.
func Get(cl *neo.Client, key uint64) (value []byte, ok bool, err error) {
	done := make(chan neo.Notification, 1)
	args := neo.RequestArgs{
		Type: "get",
		Notify: func(n neo.Notification) {
			if n.Type == neo.NotifFinished || n.Type == neo.NotifError {
				done <- n
			}
		},
		Policies: neo.Policies{
			Initialize: func(r *neo.RoC) error {
				payload := wire.NewBuilder(10).
					Uint8(uint8(CodeGet)).Uint8(Version).
					Uint64(key).Payload()
				return r.Send(payload)
			},
			Handle: func(r *neo.RoC) error {
				msg, rerr := r.Receive()
				if rerr != nil {
					return rerr
				}
				st, serr := checkStatus(msg)
				if serr != nil {
					return serr
				}
				switch st {
				case MsgValue:
					value, ok = append([]byte(nil), msg[1:]...), true
					r.Notify(neo.Notification{Type: neo.NotifValue, Data: value})
					return nil
				case MsgEmpty:
					return nil
				}
				return neo.NewErr(neo.NodeError, fmt.Errorf("get: unexpected reply %#x", st))
			},
		},
	}
	if _, err = cl.AssignSingleNode(keyBytes(key), args); err != nil {
		return nil, false, err
	}
	err = await(done)
	return value, ok, err
}

// GetAll streams every record from every node; onRecord may be called from
// multiple per-node fibers concurrently. The returned controller supports
// Suspend/Resume/Stop; the channel delivers the terminal notification.
func GetAll(cl *neo.Client, onRecord func(key uint64, value []byte)) (*neo.Request, *neo.BatchController, <-chan neo.Notification, error) {
	var (
		sw   = &neo.SharedWorking{}
		bc   = neo.NewBatchController(sw)
		done = make(chan neo.Notification, 1)
	)
	msgs := neo.StreamMsgs{
		Suspend: []byte{CtlSuspend},
		Resume:  []byte{CtlResume},
		Stop:    []byte{CtlStop},
		IsAck:   func(msg []byte) bool { return len(msg) == 1 && msg[0] == MsgAck },
	}
	args := neo.RequestArgs{
		Type:       "getall",
		Controller: bc,
		Working:    sw,
		Notify: func(n neo.Notification) {
			if n.Type == neo.NotifFinished || n.Type == neo.NotifError {
				select {
				case done <- n:
				default:
				}
			}
		},
		Policies: neo.Policies{
			Initialize: func(r *neo.RoC) error {
				payload := wire.NewBuilder(2).Uint8(uint8(CodeGetAll)).Uint8(Version).Payload()
				return r.Send(payload)
			},
			Handle: func(r *neo.RoC) error {
				sw.Register(r)
				return sw.RunStream(r, msgs, func(msg []byte) (bool, error) {
					st, err := checkStatus(msg)
					if err != nil {
						return false, err
					}
					switch st {
					case MsgRecord:
						p := wire.NewParser(msg[1:])
						key, err := p.Uint64()
						if err != nil {
							return false, err
						}
						value := append([]byte(nil), p.Tail()...)
						r.Notify(neo.Notification{Type: neo.NotifRecord, Data: value})
						onRecord(key, value)
						return false, nil
					case MsgEnd:
						return true, nil
					case MsgChannelRemoved:
						return false, neo.NewErr(neo.NodeError, errChannelRemoved)
					}
					return false, neo.NewErr(neo.ProtocolError, fmt.Errorf("getall: unexpected message %#x", st))
				})
			},
			Disconnected: func(r *neo.RoC, err error) neo.DisconnectAction {
				return neo.DiscAbort // a restarted node would replay from scratch
			},
		},
	}
	req, err := cl.AssignAllNodes(args)
	if err != nil {
		return nil, nil, nil, err
	}
	return req, bc, done, nil
}
