// Package auth implements neo connection-level authentication: credentials
// files and the HMAC-SHA256 challenge/response handshake.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package auth_test

import (
	"net"
	"testing"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/tools/tassert"
	"github.com/NVIDIA/swarm/wire"
)

func runHandshake(t *testing.T, clientName string, clientKey auth.Key, creds auth.Credentials) (
	maxPayload uint32, minor uint16, principal string, cerr, nerr error) {
	t.Helper()
	cc, nc := net.Pipe()
	defer cc.Close()
	defer nc.Close()

	nodeDone := make(chan struct{})
	go func() {
		defer close(nodeDone)
		fr := wire.NewFramer(nc, nc, wire.DfltMaxPayload)
		principal, nerr = auth.NodeHandshake(fr, creds, 8*1024, 1)
		if nerr != nil {
			nc.Close() // no further message
		}
	}()

	fr := wire.NewFramer(cc, cc, wire.DfltMaxPayload)
	maxPayload, minor, cerr = auth.ClientHandshake(fr, clientName, clientKey)
	<-nodeDone
	return
}

func TestHandshakeOK(t *testing.T) {
	var key auth.Key
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	creds := auth.Credentials{"client_1": key}

	maxPayload, minor, principal, cerr, nerr := runHandshake(t, "client_1", key, creds)
	tassert.CheckFatal(t, cerr)
	tassert.CheckFatal(t, nerr)
	tassert.Errorf(t, principal == "client_1", "principal: got %q", principal)
	tassert.Errorf(t, maxPayload == 8*1024, "max payload: got %d", maxPayload)
	tassert.Errorf(t, minor == 1, "minor: got %d", minor)
}

func TestHandshakeBadProof(t *testing.T) {
	var nodeKey, clientKey auth.Key
	copy(nodeKey[:], []byte("0123456789abcdef0123456789abcdef"))
	clientKey[0] = 0xff // differs

	_, _, _, cerr, nerr := runHandshake(t, "client_1", clientKey, auth.Credentials{"client_1": nodeKey})
	tassert.Fatalf(t, nerr == auth.ErrAuthFailed, "node: expecting ErrAuthFailed, got %v", nerr)
	tassert.Fatalf(t, cerr == auth.ErrAuthFailed, "client: expecting ErrAuthFailed, got %v", cerr)
}

func TestHandshakeUnknownName(t *testing.T) {
	var key auth.Key
	_, _, _, cerr, nerr := runHandshake(t, "stranger", key, auth.Credentials{"known": key})
	tassert.Fatalf(t, nerr == auth.ErrAuthFailed, "node: expecting ErrAuthFailed, got %v", nerr)
	tassert.Fatalf(t, cerr != nil, "client: expecting failure")
}
