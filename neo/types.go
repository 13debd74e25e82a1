// Package neo implements the multiplexed request-on-connection fabric:
// authenticated connections, per-request fibers, client request tracking,
// fan-out request skeletons, and the suspendable streaming protocol.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package neo

import (
	"errors"
	"fmt"
	"net/netip"
	"unsafe"

	"github.com/NVIDIA/swarm/cmn/debug"
)

// ReqID is unique within a client process for the lifetime of a request and
// stable across disconnects of the underlying transport.
type ReqID uint64

// RequestCode selects the node-side handler, together with a version byte.
type RequestCode uint8

// ResumeCode drives a blocked request fiber. Negative values are reserved
// for protocol events, zero means "connection already up", positive values
// are user-defined with 1 and 2 taken by the controller signals.
type ResumeCode int

const (
	Received    ResumeCode = -1
	Reconnected ResumeCode = -2
	ConnUp      ResumeCode = 0
	SigResume   ResumeCode = 1
	SigStop     ResumeCode = 2
	// request-specific codes (e.g. data-ready) use UserCodeBase and up
	UserCodeBase ResumeCode = 3
)

// global status codes: u8 first byte of a status payload
const (
	StatusNone                 uint8 = 0
	StatusVersionNotSupported  uint8 = 1
	StatusRequestNotSupported  uint8 = 2
)

// protocol minor version this build speaks
const ProtoMinor uint16 = 1

///////////////////
// error kinds   //
///////////////////

// ErrKind classifies the failures surfaced to request notifiers.
type ErrKind uint8

const (
	NoError ErrKind = iota
	NodeDisconnected
	NodeError
	Unsupported
	ConnTimedOut
	IoTimedOut
	ProtocolError
	AuthFailed
	RequestQueueFull
	BadChannelName
	EmptyValue
	NoResponsibleNode
	FatalError
)

func (k ErrKind) String() string {
	switch k {
	case NoError:
		return "none"
	case NodeDisconnected:
		return "node-disconnected"
	case NodeError:
		return "node-error"
	case Unsupported:
		return "unsupported"
	case ConnTimedOut:
		return "connection-timed-out"
	case IoTimedOut:
		return "io-timed-out"
	case ProtocolError:
		return "protocol-error"
	case AuthFailed:
		return "authentication-failed"
	case RequestQueueFull:
		return "request-queue-full"
	case BadChannelName:
		return "bad-channel-name"
	case EmptyValue:
		return "empty-value"
	case NoResponsibleNode:
		return "no-responsible-node"
	case FatalError:
		return "fatal-error"
	}
	return fmt.Sprintf("err-kind(%d)", uint8(k))
}

// Err pairs a kind with its cause for errors.Is/As plumbing.
type Err struct {
	Kind  ErrKind
	Cause error
}

func NewErr(kind ErrKind, cause error) *Err { return &Err{Kind: kind, Cause: cause} }

func (e *Err) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Err) Unwrap() error { return e.Cause }

// KindOf extracts the kind, NoError when err is nil or untyped.
func KindOf(err error) ErrKind {
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return NoError
}

var (
	errDisconnected = NewErr(NodeDisconnected, errors.New("connection dropped"))
	errStopped      = errors.New("stopped")
)

///////////////////
// notifications //
///////////////////

type NotifType uint8

const (
	NotifStarted NotifType = iota
	NotifSucceeded
	NotifValue
	NotifRecord
	NotifNodeDisconnected
	NotifError
	NotifFinished
)

func (t NotifType) String() string {
	switch t {
	case NotifStarted:
		return "started"
	case NotifSucceeded:
		return "succeeded"
	case NotifValue:
		return "value"
	case NotifRecord:
		return "record"
	case NotifNodeDisconnected:
		return "node-disconnected"
	case NotifError:
		return "error"
	case NotifFinished:
		return "finished"
	}
	return fmt.Sprintf("notif(%d)", uint8(t))
}

// Notification is delivered to the per-request notifier. The terminal
// notification (NotifFinished, or NotifError when the request failed) arrives
// exactly once and nothing follows it for the same id; all-nodes requests may
// also emit non-terminal per-node NotifError events before it.
type Notification struct {
	Type NotifType
	ID   ReqID
	Node netip.AddrPort // valid for per-node events
	Data []byte         // value/record payload, nil otherwise
	Err  error          // set for NotifError and NotifNodeDisconnected (kind via KindOf)
	Ctx  Context
}

type Notifier func(Notification)

/////////////
// Context //
/////////////

type ctxKind uint8

const (
	ctxNone ctxKind = iota
	ctxInteger
	ctxObject
	ctxPointer
)

// Context is the request-correlation union: exactly one of {integer, object,
// pointer} is active; accessing an inactive variant is a programming error.
type Context struct {
	obj  any
	ptr  unsafe.Pointer
	n    uint64
	kind ctxKind
}

func CtxInt(n uint64) Context              { return Context{kind: ctxInteger, n: n} }
func CtxObject(obj any) Context            { return Context{kind: ctxObject, obj: obj} }
func CtxPointer(p unsafe.Pointer) Context  { return Context{kind: ctxPointer, ptr: p} }

func (c Context) IsSet() bool { return c.kind != ctxNone }

func (c Context) Int() uint64 {
	debug.Assert(c.kind == ctxInteger, "context: integer not active")
	return c.n
}

func (c Context) Object() any {
	debug.Assert(c.kind == ctxObject, "context: object not active")
	return c.obj
}

func (c Context) Pointer() unsafe.Pointer {
	debug.Assert(c.kind == ctxPointer, "context: pointer not active")
	return c.ptr
}
