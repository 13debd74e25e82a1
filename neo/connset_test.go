// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo_test

import (
	"net/netip"
	"testing"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/neo"
	"github.com/NVIDIA/swarm/tools/tassert"
)

func TestConnSetRegistry(t *testing.T) {
	var (
		cs = neo.NewConnSet("test", auth.Key{}, nil)
		a  = netip.MustParseAddrPort("127.0.0.1:1")
		b  = netip.MustParseAddrPort("127.0.0.1:2")
	)
	defer cs.Stop()

	tassert.CheckFatal(t, cs.Add(a))
	tassert.CheckFatal(t, cs.Add(b))
	tassert.Fatalf(t, cs.Add(a) != nil, "duplicate add must be rejected")
	tassert.Errorf(t, cs.NumRegistered() == 2, "registered: got %d", cs.NumRegistered())

	// disable removes from selection but keeps the node registered
	tassert.CheckFatal(t, cs.Disable(a))
	tassert.Errorf(t, cs.NumRegistered() == 2, "registered after disable: got %d", cs.NumRegistered())
	tassert.Errorf(t, len(cs.Enabled()) == 1, "enabled after disable: got %d", len(cs.Enabled()))
	tassert.Fatalf(t, cs.Add(a) != nil, "disabled node is still registered")

	tassert.CheckFatal(t, cs.Enable(a))
	tassert.Errorf(t, len(cs.Enabled()) == 2, "enabled after enable: got %d", len(cs.Enabled()))
	tassert.CheckFatal(t, cs.Enable(a)) // enabling an enabled node is a no-op

	tassert.CheckFatal(t, cs.Remove(a))
	tassert.Errorf(t, cs.NumRegistered() == 1, "registered after remove: got %d", cs.NumRegistered())
	tassert.Fatalf(t, cs.Remove(a) != nil, "removing an unregistered node must fail")
	tassert.Fatalf(t, cs.Disable(a) != nil, "disabling an unregistered node must fail")
}
