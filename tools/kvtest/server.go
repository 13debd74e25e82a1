// Package kvtest is the example key-value request set used by the neo
// end-to-end tests: Put and Get target a single responsible node, GetAll
// streams every record from every node through a suspendable stream.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package kvtest

import (
	"fmt"
	"time"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/cmn/atomic"
	"github.com/NVIDIA/swarm/neo"
	"github.com/NVIDIA/swarm/wire"
	"github.com/tidwall/buntdb"
)

// Server is one test node: an in-memory key-value engine behind the three
// kv request handlers.
type Server struct {
	DB   *buntdb.DB
	Node *neo.Node

	// per-record delay, to keep a stream going long enough for the
	// suspend/resume/stop scenarios
	RecordDelay time.Duration

	// when set, an in-flight GetAll reports channel-removed
	FailChannel atomic.Bool
}

func NewServer(creds auth.Credentials) (*Server, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	s := &Server{DB: db, Node: neo.NewNode(creds, 0, 0)}
	s.Node.RegisterHandler(CodePut, Version, s.handlePut)
	s.Node.RegisterHandler(CodeGet, Version, s.handleGet)
	s.Node.RegisterHandler(CodeGetAll, Version, s.handleGetAll)
	return s, nil
}

// Start listens and serves in the background.
func (s *Server) Start(addr string) error {
	if err := s.Node.Listen(addr); err != nil {
		return err
	}
	go s.Node.Run()
	return nil
}

func (s *Server) Stop() {
	s.Node.Stop(nil)
	s.DB.Close()
}

func (s *Server) Addr() string { return s.Node.Addr().String() }

func keyName(key uint64) string { return fmt.Sprintf("%016x", key) }

func (s *Server) handlePut(r *neo.RoC, body []byte, _ string) error {
	p := wire.NewParser(body)
	key, err := p.Uint64()
	if err != nil {
		return err
	}
	value := p.Tail()
	err = s.DB.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(keyName(key), string(value), nil)
		return err
	})
	if err != nil {
		return err
	}
	return r.Send([]byte{MsgOK})
}

func (s *Server) handleGet(r *neo.RoC, body []byte, _ string) error {
	p := wire.NewParser(body)
	key, err := p.Uint64()
	if err != nil {
		return err
	}
	if err := p.Finish(); err != nil {
		return err
	}
	var value string
	err = s.DB.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(keyName(key))
		value = v
		return err
	})
	if err == buntdb.ErrNotFound {
		return r.Send([]byte{MsgEmpty})
	}
	if err != nil {
		return err
	}
	reply := wire.NewBuilder(1 + len(value)).Uint8(MsgValue).Tail([]byte(value)).Payload()
	return r.Send(reply)
}

func (s *Server) handleGetAll(r *neo.RoC, body []byte, _ string) error {
	if len(body) != 0 {
		return neo.NewErr(neo.ProtocolError, fmt.Errorf("getall: %d unexpected body bytes", len(body)))
	}

	// snapshot, then stream: the engine's own iteration holds a read
	// transaction which must not span fiber suspension points
	var recs [][]byte
	err := s.DB.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(k, v string) bool {
			var key uint64
			fmt.Sscanf(k, "%016x", &key)
			rec := wire.NewBuilder(8 + len(v)).Uint64(key).Tail([]byte(v)).Payload()
			recs = append(recs, rec)
			return true
		})
	})
	if err != nil {
		return err
	}

	idx := 0
	susp := neo.NewSuspendable(r, neo.SuspendableArgs{
		Iterate: func() ([]byte, neo.IterStatus, error) {
			if s.FailChannel.Load() {
				return nil, 0, neo.ErrChannelRemoved
			}
			if idx >= len(recs) {
				return nil, neo.IterEnd, nil
			}
			if s.RecordDelay > 0 {
				time.Sleep(s.RecordDelay)
			}
			rec := recs[idx]
			idx++
			return rec, neo.IterRecord, nil
		},
		Decide: func(msg []byte) neo.Decision {
			if len(msg) != 1 {
				return neo.DecUndefined
			}
			switch msg[0] {
			case CtlSuspend:
				return neo.DecSuspend
			case CtlResume:
				return neo.DecResume
			case CtlStop:
				return neo.DecExit
			}
			return neo.DecUndefined
		},
		Record: func(rec []byte) []byte {
			return wire.NewBuilder(1 + len(rec)).Uint8(MsgRecord).Tail(rec).Payload()
		},
		Ack:            []byte{MsgAck},
		End:            []byte{MsgEnd},
		ChannelRemoved: []byte{MsgChannelRemoved},
	})
	return susp.Run()
}
