// Package frame implements the Tempo streaming frame header: a 9-byte
// fixed header (length:u24 | reserved:u8 | flags:u8 | streamId:u32) that
// prefixes every payload chunk of a client-stream, server-stream, or
// duplex-stream body.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package frame

import (
	"github.com/betwixt-labs/tempo/status"
)

// HeaderSize is the fixed on-wire size of a frame header.
const HeaderSize = 9

// Flags set on a frame header.
const (
	FlagEndStream Flags = 0x01
	FlagAck       Flags = 0x02
	FlagPriority  Flags = 0x20
)

type Flags uint8

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

const (
	maxLength   = 1<<24 - 1
	maxStreamID = 1<<31 - 1
)

// Header is the in-memory form of a frame header.
type Header struct {
	Length   uint32 // payload length, fits in 24 bits
	Reserved uint8
	Flags    Flags
	StreamID uint32 // in [1, 2^31-1]; MSB is always zero on the wire
}

// WriteHeader encodes h into buf[offset:offset+9]. buf must have at least
// offset+9 bytes. Fails with status.OutOfRange if any field is out of its
// wire bounds.
func WriteHeader(buf []byte, offset int, h Header) error {
	if h.Length > maxLength {
		return status.New(status.OutOfRange, "frame length %d exceeds u24 max", h.Length)
	}
	if h.StreamID == 0 || h.StreamID > maxStreamID {
		return status.New(status.OutOfRange, "frame streamId %d out of [1,2^31-1]", h.StreamID)
	}
	if len(buf) < offset+HeaderSize {
		return status.New(status.OutOfRange, "buffer too small for frame header")
	}
	b := buf[offset : offset+HeaderSize]
	b[0] = byte(h.Length >> 16)
	b[1] = byte(h.Length >> 8)
	b[2] = byte(h.Length)
	b[3] = h.Reserved
	b[4] = byte(h.Flags)
	// streamId: MSB reserved zero
	b[5] = byte(h.StreamID >> 24 & 0x7f)
	b[6] = byte(h.StreamID >> 16)
	b[7] = byte(h.StreamID >> 8)
	b[8] = byte(h.StreamID)
	return nil
}

// ReadHeader decodes buf[offset:offset+9] into a Header, masking off the
// streamId MSB. Fails with status.OutOfRange if buf is too short.
func ReadHeader(buf []byte, offset int) (Header, error) {
	if len(buf) < offset+HeaderSize {
		return Header{}, status.New(status.OutOfRange, "buffer too small for frame header")
	}
	b := buf[offset : offset+HeaderSize]
	h := Header{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Reserved: b[3],
		Flags:    Flags(b[4]),
		StreamID: uint32(b[5]&0x7f)<<24 | uint32(b[6])<<16 | uint32(b[7])<<8 | uint32(b[8]),
	}
	return h, nil
}

// NewStreamID picks a random stream id in [1, 2^31-1] for an outbound
// stream. It is a trace-correlation aid, not semantically required by
// the receiver.
func NewStreamID(rnd func(n uint32) uint32) uint32 {
	for {
		id := rnd(maxStreamID) + 1
		if id != 0 {
			return id
		}
	}
}
