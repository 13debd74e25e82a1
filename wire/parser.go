// Package wire implements the neo length-prefixed frame codec and the typed
// payload parser/builder pair shared by clients and nodes.
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"fmt"
)

// Payload encoding: fields are concatenated without padding, little-endian.
// A dynamic array is | count:u64 | count * sizeof(elem) bytes |, except when
// the array is the entire (remaining) payload, in which case the count is
// omitted and the array consumes the rest - see Parser.Tail / Builder.Tail.

type (
	// ParseErr is any violation of the payload encoding; the connection
	// owner escalates it to a protocol error.
	ParseErr struct {
		msg string
	}

	// Parser extracts typed fields from a payload in declared order.
	Parser struct {
		b   []byte
		off int
	}

	// Builder is the write-side counterpart; appends fields in order.
	Builder struct {
		b []byte
	}
)

func (e *ParseErr) Error() string { return e.msg }

func IsParseErr(err error) bool {
	_, ok := err.(*ParseErr)
	return ok
}

func errTooShort(missing int) error {
	return &ParseErr{fmt.Sprintf("message too short: %d byte%s missing", missing, plural(missing))}
}

func errTooLong(extra int) error {
	return &ParseErr{fmt.Sprintf("message too long: %d extra byte%s", extra, plural(extra))}
}

func plural(n int) string {
	if n != 1 {
		return "s"
	}
	return ""
}

////////////
// Parser //
////////////

func NewParser(payload []byte) *Parser { return &Parser{b: payload} }

func (p *Parser) Remaining() int { return len(p.b) - p.off }

// Value slices n bytes in place and advances.
func (p *Parser) Value(n int) ([]byte, error) {
	if rem := p.Remaining(); rem < n {
		return nil, errTooShort(n - rem)
	}
	b := p.b[p.off : p.off+n]
	p.off += n
	return b, nil
}

func (p *Parser) Uint8() (uint8, error) {
	b, err := p.Value(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Parser) Uint16() (uint16, error) {
	b, err := p.Value(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (p *Parser) Uint32() (uint32, error) {
	b, err := p.Value(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *Parser) Uint64() (uint64, error) {
	b, err := p.Value(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Array reads a u64 element count followed by count*elemSize bytes.
func (p *Parser) Array(elemSize int) ([]byte, error) {
	count, err := p.Uint64()
	if err != nil {
		return nil, err
	}
	// guard the multiply: a count near 2^64/elemSize must not wrap past
	// the bounds check
	rem := uint64(p.Remaining())
	if count > rem/uint64(elemSize) {
		return nil, &ParseErr{fmt.Sprintf("array length %d (elem size %d) exceeds remaining %d bytes", count, elemSize, rem)}
	}
	return p.Value(int(count * uint64(elemSize)))
}

// Bytes is the byte-array shorthand (strings included).
func (p *Parser) Bytes() ([]byte, error) { return p.Array(1) }

// Tail consumes the remainder - the "whole payload is a single array" form.
func (p *Parser) Tail() []byte {
	b := p.b[p.off:]
	p.off = len(p.b)
	return b
}

// Finish fails if any bytes remain past the last declared field.
func (p *Parser) Finish() error {
	if rem := p.Remaining(); rem > 0 {
		return errTooLong(rem)
	}
	return nil
}

/////////////
// Builder //
/////////////

func NewBuilder(sizeHint int) *Builder { return &Builder{b: make([]byte, 0, sizeHint)} }

func (bld *Builder) Uint8(v uint8) *Builder {
	bld.b = append(bld.b, v)
	return bld
}

func (bld *Builder) Uint16(v uint16) *Builder {
	bld.b = binary.LittleEndian.AppendUint16(bld.b, v)
	return bld
}

func (bld *Builder) Uint32(v uint32) *Builder {
	bld.b = binary.LittleEndian.AppendUint32(bld.b, v)
	return bld
}

func (bld *Builder) Uint64(v uint64) *Builder {
	bld.b = binary.LittleEndian.AppendUint64(bld.b, v)
	return bld
}

func (bld *Builder) Value(v []byte) *Builder {
	bld.b = append(bld.b, v...)
	return bld
}

// Array writes a u64 element count followed by the raw element bytes.
func (bld *Builder) Array(raw []byte, elemSize int) *Builder {
	count := uint64(len(raw) / elemSize)
	bld.b = binary.LittleEndian.AppendUint64(bld.b, count)
	bld.b = append(bld.b, raw...)
	return bld
}

func (bld *Builder) Bytes(v []byte) *Builder { return bld.Array(v, 1) }

func (bld *Builder) String(s string) *Builder { return bld.Bytes([]byte(s)) }

// Tail appends the remainder-of-payload array form (no count).
func (bld *Builder) Tail(v []byte) *Builder { return bld.Value(v) }

func (bld *Builder) Payload() []byte { return bld.b }
