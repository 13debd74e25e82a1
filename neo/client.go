// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"net/netip"

	"github.com/NVIDIA/swarm/auth"
	"github.com/NVIDIA/swarm/cmn"
	"github.com/NVIDIA/swarm/cmn/cos"
	"github.com/NVIDIA/swarm/stats"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Client composes the request set, the connection set, the timeout
	// manager, the per-node error tracker, and request stats. It owns
	// none of the process-wide machinery (runtime, metrics registry) -
	// those are passed in by reference.
	Client struct {
		Config   *cmn.Config
		ConnSet  *ConnSet
		Requests *RequestSet
		Tracker  *ErrTracker
		Stats    *stats.Requests

		stopCh cos.StopCh
	}

	// RequestArgs parameterize one assignment.
	RequestArgs struct {
		Type       string
		Ctx        Context
		Notify     Notifier
		Controller Controller
		Working    any
		Policies   Policies
	}
)

func NewClient(config *cmn.Config, reg prometheus.Registerer) (*Client, error) {
	name, key, err := auth.LoadClient(config.CredentialsFile)
	if err != nil {
		return nil, err
	}
	nodes, err := cmn.LoadNodes(config.NodesFile)
	if err != nil {
		return nil, err
	}

	cl := &Client{Config: config}
	cl.stopCh.Init()
	cl.Tracker = NewErrTracker(config.ErrorWindow(), nil)
	cl.Stats = stats.New(reg)
	cl.ConnSet = NewConnSet(name, key, cl.Tracker)
	cl.Requests = NewRequestSet(int(config.MaxRequests), cl.Stats)

	for _, addr := range nodes {
		if config.NeoPort != 0 {
			addr = netip.AddrPortFrom(addr.Addr(), config.NeoPort)
		}
		if err := cl.ConnSet.Add(addr); err != nil {
			cl.ConnSet.Stop()
			return nil, err
		}
	}
	return cl, nil
}

func (cl *Client) Stop() {
	cl.stopCh.Close()
	cl.Requests.Stop()
	cl.ConnSet.Stop()
}

// assign registers the request and arms its timeout
func (cl *Client) assign(args *RequestArgs) (*Request, error) {
	req, err := cl.Requests.Assign(args.Type, args.Ctx, args.Notify, args.Controller)
	if err != nil {
		return nil, err
	}
	req.Working = args.Working
	if d := cl.Config.RequestTimeout(); d > 0 {
		cl.Requests.Timers.SetRequestTimeout(req.id, d)
	}
	return req, nil
}

// AssignAllNodes fans the request out to every enabled node.
func (cl *Client) AssignAllNodes(args RequestArgs) (*Request, error) {
	req, err := cl.assign(&args)
	if err != nil {
		return nil, err
	}
	RunAllNodes(req, cl.ConnSet.Enabled(), args.Policies)
	return req, nil
}

// AssignSingleNode targets the node responsible for key, with failover.
func (cl *Client) AssignSingleNode(key []byte, args RequestArgs) (*Request, error) {
	req, err := cl.assign(&args)
	if err != nil {
		return nil, err
	}
	RunSingleNode(req, cl.ConnSet.Enabled(), key, args.Policies)
	return req, nil
}

func (cl *Client) Control(id ReqID, action ControlAction) error {
	return cl.Requests.Control(id, action)
}

//
// task-blocking wrappers: suspend the calling goroutine until a predicate
// on the connection set holds; implemented by chaining a transient
// connection notifier (delegate first, then wake)
//

// WaitAllNodesConnected returns only when connected == registered.
func (cl *Client) WaitAllNodesConnected() bool {
	return cl.ConnSet.waitCond(func() bool {
		return cl.ConnSet.NumConnected() == cl.ConnSet.NumRegistered()
	}, cl.stopCh.Listen())
}

// WaitMinOneNodeConnected returns as soon as any node is connected.
func (cl *Client) WaitMinOneNodeConnected() bool {
	return cl.ConnSet.waitCond(func() bool {
		return cl.ConnSet.NumConnected() > 0
	}, cl.stopCh.Listen())
}
