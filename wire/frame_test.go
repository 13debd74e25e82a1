// Package wire implements the neo length-prefixed frame codec and the typed
// payload parser/builder pair shared by clients and nodes.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/NVIDIA/swarm/tools/tassert"
	"github.com/NVIDIA/swarm/wire"
)

// dribbler returns at most one byte per Read to exercise partial-read
// accumulation
type dribbler struct {
	r io.Reader
}

func (d *dribbler) Read(b []byte) (int, error) {
	if len(b) > 1 {
		b = b[:1]
	}
	return d.r.Read(b)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fr := wire.NewFramer(&buf, &buf, 0)

	payloads := [][]byte{
		[]byte("hello"),
		nil, // header-only frame
		bytes.Repeat([]byte{0xab}, 1024),
	}
	for i, p := range payloads {
		tassert.CheckFatal(t, fr.WriteFrame(uint64(i+1), p))
	}
	for i, p := range payloads {
		frame, err := fr.ReadFrame()
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, frame.ReqID == uint64(i+1), "req_id: got %d", frame.ReqID)
		tassert.Errorf(t, bytes.Equal(frame.Payload, p), "payload %d mismatch", i)
	}
}

func TestFramePartialReads(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewFramer(nil, &buf, 0)
	tassert.CheckFatal(t, w.WriteFrame(42, []byte("accumulated one byte at a time")))

	r := wire.NewFramer(&dribbler{&buf}, nil, 0)
	frame, err := r.ReadFrame()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, frame.ReqID == 42, "req_id: got %d", frame.ReqID)
	tassert.Errorf(t, string(frame.Payload) == "accumulated one byte at a time", "got %q", frame.Payload)
}

func TestFrameTooLong(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewFramer(nil, &buf, 1024)
	tassert.CheckFatal(t, w.WriteFrame(7, bytes.Repeat([]byte{1}, 512)))

	r := wire.NewFramer(&buf, nil, 16) // much smaller negotiated max
	_, err := r.ReadFrame()
	tassert.Fatalf(t, err != nil, "expecting rejection")
	_, ok := err.(*wire.ErrFrameTooLong)
	tassert.Errorf(t, ok, "expecting ErrFrameTooLong, got %T: %v", err, err)
}

func TestFrameOversizeWrite(t *testing.T) {
	fr := wire.NewFramer(nil, io.Discard, 16)
	err := fr.WriteFrame(7, bytes.Repeat([]byte{1}, 64))
	tassert.Fatalf(t, err != nil, "expecting oversize write rejection")
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewFramer(nil, &buf, 0)
	tassert.CheckFatal(t, w.WriteFrame(3, []byte("truncate me")))

	full := buf.Bytes()
	for _, cut := range []int{1, wire.HdrSize - 1, wire.HdrSize + 3} {
		r := wire.NewFramer(bytes.NewReader(full[:cut]), nil, 0)
		_, err := r.ReadFrame()
		tassert.Errorf(t, err != nil, "cut=%d: expecting error on truncated frame", cut)
	}
}
