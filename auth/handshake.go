// Package auth implements neo connection-level authentication: credentials
// files and the HMAC-SHA256 challenge/response handshake.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/NVIDIA/swarm/cmn/debug"
	"github.com/NVIDIA/swarm/wire"
)

const nonceSize = 16

// ErrAuthFailed: bad name or bad proof. A node never tells the peer which -
// it just closes the socket.
var ErrAuthFailed = errors.New("authentication failed")

// The handshake runs over req_id 0 before any request-bearing frame:
//
//	C -> N: | name (u64-prefixed) | client nonce (16B) |
//	N -> C: | node nonce (16B) |
//	C -> N: | proof (32B) |       proof = HMAC-SHA256(key, name || cn || nn)
//	N -> C: | max payload (u32) | protocol minor version (u16) |
//
// I/O deadlines are the caller's business (see neo.Conn).

func proof(key Key, name string, clientNonce, nodeNonce []byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(name))
	mac.Write(clientNonce)
	mac.Write(nodeNonce)
	return mac.Sum(nil)
}

func readControl(fr *wire.Framer) ([]byte, error) {
	frame, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	if frame.ReqID != wire.ControlID {
		return nil, fmt.Errorf("handshake: unexpected frame req_id=%d", frame.ReqID)
	}
	return frame.Payload, nil
}

// ClientHandshake authenticates this side to the node and returns the
// node-advertised limits.
func ClientHandshake(fr *wire.Framer, name string, key Key) (maxPayload uint32, minor uint16, err error) {
	var clientNonce [nonceSize]byte
	if _, err = rand.Read(clientNonce[:]); err != nil {
		return
	}
	hello := wire.NewBuilder(len(name) + 8 + nonceSize).String(name).Value(clientNonce[:])
	if err = fr.WriteFrame(wire.ControlID, hello.Payload()); err != nil {
		return
	}

	payload, err := readControl(fr)
	if err != nil {
		return
	}
	p := wire.NewParser(payload)
	nodeNonce, err := p.Value(nonceSize)
	if err != nil {
		return
	}
	if err = p.Finish(); err != nil {
		return
	}

	if err = fr.WriteFrame(wire.ControlID, proof(key, name, clientNonce[:], nodeNonce)); err != nil {
		return
	}

	// a node that rejected the proof closes without replying; the resulting
	// read error is the only signal the client gets
	if payload, err = readControl(fr); err != nil {
		err = ErrAuthFailed
		return
	}
	p = wire.NewParser(payload)
	if maxPayload, err = p.Uint32(); err != nil {
		return
	}
	if minor, err = p.Uint16(); err != nil {
		return
	}
	err = p.Finish()
	return
}

// NodeHandshake authenticates an accepted connection and returns the
// principal it operates under. On any failure the caller closes the socket
// with no further message.
func NodeHandshake(fr *wire.Framer, creds Credentials, maxPayload uint32, minor uint16) (principal string, err error) {
	payload, err := readControl(fr)
	if err != nil {
		return
	}
	p := wire.NewParser(payload)
	nameB, err := p.Bytes()
	if err != nil {
		return
	}
	clientNonce, err := p.Value(nonceSize)
	if err != nil {
		return
	}
	if err = p.Finish(); err != nil {
		return
	}
	name := string(nameB)

	key, known := creds[name]
	// unknown name: keep going through the motions so the timing does not
	// leak which of name/proof was wrong; the proof compare below fails
	var nodeNonce [nonceSize]byte
	if _, err = rand.Read(nodeNonce[:]); err != nil {
		return
	}
	if err = fr.WriteFrame(wire.ControlID, nodeNonce[:]); err != nil {
		return
	}

	if payload, err = readControl(fr); err != nil {
		return
	}
	p = wire.NewParser(payload)
	got, err := p.Value(sha256.Size)
	if err != nil {
		return
	}
	if err = p.Finish(); err != nil {
		return
	}
	want := proof(key, name, clientNonce, nodeNonce[:])
	if !known || !hmac.Equal(got, want) {
		return "", ErrAuthFailed
	}

	debug.Assert(maxPayload > 0)
	ack := wire.NewBuilder(6).Uint32(maxPayload).Uint16(minor)
	if err = fr.WriteFrame(wire.ControlID, ack.Payload()); err != nil {
		return
	}
	return name, nil
}
