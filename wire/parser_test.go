// Package wire implements the neo length-prefixed frame codec and the typed
// payload parser/builder pair shared by clients and nodes.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/NVIDIA/swarm/tools/tassert"
	"github.com/NVIDIA/swarm/wire"
)

func TestParserRoundTrip(t *testing.T) {
	payload := wire.NewBuilder(64).
		Uint8(0x17).
		Uint16(0xbeef).
		Uint32(0xdeadbeef).
		Uint64(0x1122334455667788).
		Bytes([]byte("hello")).
		Tail([]byte("rest of the payload")).
		Payload()

	p := wire.NewParser(payload)
	v8, err := p.Uint8()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, v8 == 0x17, "u8: got %#x", v8)
	v16, err := p.Uint16()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, v16 == 0xbeef, "u16: got %#x", v16)
	v32, err := p.Uint32()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, v32 == 0xdeadbeef, "u32: got %#x", v32)
	v64, err := p.Uint64()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, v64 == 0x1122334455667788, "u64: got %#x", v64)
	b, err := p.Bytes()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, string(b) == "hello", "bytes: got %q", b)
	tail := p.Tail()
	tassert.Errorf(t, string(tail) == "rest of the payload", "tail: got %q", tail)
	tassert.CheckFatal(t, p.Finish())
}

func TestParserTooShort(t *testing.T) {
	p := wire.NewParser([]byte{1, 2, 3})
	_, err := p.Uint64()
	tassert.Fatalf(t, err != nil, "expecting underrun error")
	tassert.Errorf(t, wire.IsParseErr(err), "expecting ParseErr, got %T", err)
	tassert.Errorf(t, strings.Contains(err.Error(), "5 bytes missing"), "got %q", err)
}

func TestParserTooLong(t *testing.T) {
	payload := wire.NewBuilder(8).Uint32(7).Payload()
	p := wire.NewParser(payload)
	_, err := p.Uint16()
	tassert.CheckFatal(t, err)
	err = p.Finish()
	tassert.Fatalf(t, err != nil, "expecting leftover error")
	tassert.Errorf(t, strings.Contains(err.Error(), "2 extra bytes"), "got %q", err)
}

func TestParserArrayOverrun(t *testing.T) {
	// declared length exceeds the remaining bytes
	payload := wire.NewBuilder(16).Uint64(1000).Value([]byte("short")).Payload()
	p := wire.NewParser(payload)
	_, err := p.Array(1)
	tassert.Fatalf(t, err != nil, "expecting array overrun error")
	tassert.Errorf(t, wire.IsParseErr(err), "expecting ParseErr, got %T", err)
}

func TestParserArrayCountOverflow(t *testing.T) {
	// a count chosen so that count*elemSize wraps u64 back into range
	payload := wire.NewBuilder(16).Uint64(math.MaxUint64/2 + 1).Value([]byte{1, 2, 3, 4}).Payload()
	p := wire.NewParser(payload)
	_, err := p.Array(2)
	tassert.Fatalf(t, err != nil, "expecting overflowing count to be rejected")
	tassert.Errorf(t, wire.IsParseErr(err), "expecting ParseErr, got %T", err)
}

func TestParserArrayElemSize(t *testing.T) {
	elems := []byte{1, 0, 2, 0, 3, 0} // three u16
	payload := wire.NewBuilder(16).Array(elems, 2).Payload()
	p := wire.NewParser(payload)
	raw, err := p.Array(2)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, bytes.Equal(raw, elems), "got %v", raw)
	tassert.CheckFatal(t, p.Finish())
}

func TestParserEmptyArray(t *testing.T) {
	payload := wire.NewBuilder(8).Bytes(nil).Payload()
	p := wire.NewParser(payload)
	b, err := p.Bytes()
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(b) == 0, "got %d bytes", len(b))
	tassert.CheckFatal(t, p.Finish())
}
