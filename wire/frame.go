// Package wire implements the neo length-prefixed frame codec and the typed
// payload parser/builder pair shared by clients and nodes.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/NVIDIA/swarm/cmn/debug"
)

// Frame layout: | len:u32 | req_id:u64 | payload |, little-endian, where
// `len` counts everything past itself (req_id + payload). The minimum
// frame is therefore the bare header.
const (
	lenSize = 4
	idSize  = 8
	HdrSize = lenSize + idSize
)

// req_id 0 is reserved for connection-control traffic (handshake et al.)
const ControlID uint64 = 0

const (
	DfltMaxPayload = 64 * 1024
	MaxPayload     = 16 * 1024 * 1024
)

type (
	// Frame is one decoded unit of the wire protocol.
	Frame struct {
		ReqID   uint64
		Payload []byte
	}
	// ErrFrameTooLong: declared payload exceeds the (negotiated) maximum;
	// the receiving side treats it as a protocol error and tears the
	// connection down.
	ErrFrameTooLong struct {
		declared uint32
		max      uint32
	}
)

func (e *ErrFrameTooLong) Error() string {
	return fmt.Sprintf("frame payload too long: %d bytes declared, %d max", e.declared, e.max)
}

//////////////
// Framer //
//////////////

// Framer reads and writes frames on one connection. Reading accumulates
// partial reads and surfaces only complete frames; writing emits the header
// and payload as a single buffer. Not safe for concurrent use - each
// direction is owned by exactly one goroutine (see neo.Conn).
type Framer struct {
	r          io.Reader
	w          io.Writer
	maxPayload uint32
	hdr        [HdrSize]byte
	wbuf       []byte
}

func NewFramer(r io.Reader, w io.Writer, maxPayload uint32) *Framer {
	if maxPayload == 0 {
		maxPayload = DfltMaxPayload
	}
	debug.Assert(maxPayload <= MaxPayload, maxPayload)
	return &Framer{r: r, w: w, maxPayload: maxPayload}
}

// SetMaxPayload applies the peer-advertised maximum (post-handshake).
func (f *Framer) SetMaxPayload(n uint32) { f.maxPayload = n }
func (f *Framer) MaxPayload() uint32     { return f.maxPayload }

// ReadFrame blocks until one complete frame arrives (or the underlying
// reader fails). The returned payload is freshly allocated and may be
// retained by the caller.
func (f *Framer) ReadFrame() (frame Frame, err error) {
	if _, err = io.ReadFull(f.r, f.hdr[:]); err != nil {
		return
	}
	length := binary.LittleEndian.Uint32(f.hdr[:lenSize])
	if length < idSize {
		err = fmt.Errorf("frame header: invalid length %d (< %d)", length, idSize)
		return
	}
	plen := length - idSize
	if plen > f.maxPayload {
		err = &ErrFrameTooLong{declared: plen, max: f.maxPayload}
		return
	}
	frame.ReqID = binary.LittleEndian.Uint64(f.hdr[lenSize:])
	if plen == 0 {
		return
	}
	frame.Payload = make([]byte, plen)
	if _, err = io.ReadFull(f.r, frame.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF // mid-frame
		}
	}
	return
}

// WriteFrame emits | len | req_id | payload | in one Write call.
func (f *Framer) WriteFrame(reqID uint64, payload []byte) (err error) {
	plen := len(payload)
	if uint32(plen) > f.maxPayload {
		return &ErrFrameTooLong{declared: uint32(plen), max: f.maxPayload}
	}
	need := HdrSize + plen
	if cap(f.wbuf) < need {
		f.wbuf = make([]byte, 0, max(need, 4*1024))
	}
	buf := f.wbuf[:0]
	buf = binary.LittleEndian.AppendUint32(buf, uint32(idSize+plen))
	buf = binary.LittleEndian.AppendUint64(buf, reqID)
	buf = append(buf, payload...)
	_, err = f.w.Write(buf)
	return
}
