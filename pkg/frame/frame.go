// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"errors"
	"fmt"
	"io"
)

// MaxPayload is the largest payload length this profile reads or writes.
// The extended-length escape values (126, 127) are never decoded; a header
// advertising more than MaxPayload is fatal for the connection.
const MaxPayload = 125

var (
	// ErrPayloadTooLarge is returned when a frame header declares a payload
	// length above MaxPayload.
	ErrPayloadTooLarge = errors.New("payload length exceeds 125 bytes")
)

// Opcode identifies the type of a WebSocket frame (RFC 6455 section 5.2).
type Opcode byte

const (
	Continuation Opcode = 0x0
	Text         Opcode = 0x1
	Binary       Opcode = 0x2
	Close        Opcode = 0x8
	Ping         Opcode = 0x9
	Pong         Opcode = 0xA
)

// IsControl reports whether the opcode identifies a control frame.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// String returns a string representation of the opcode.
func (o Opcode) String() string {
	switch o {
	case Continuation:
		return "continuation"
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	default:
		return fmt.Sprintf("reserved(0x%X)", byte(o))
	}
}

// Frame is a single protocol unit read from or written to a connection.
// Frames are transient: constructed, unmasked, consumed, never persisted.
type Frame struct {
	// Fin is the FIN bit from the header. This profile does not support
	// fragmentation, so it is recorded but otherwise assumed set.
	Fin bool

	// Opcode is the 4-bit frame type.
	Opcode Opcode

	// Masked reports whether the payload arrived masked (client frames must,
	// server frames must not).
	Masked bool

	// MaskKey is the 4-byte masking key; only meaningful when Masked is set.
	MaskKey [4]byte

	// Payload holds the payload bytes, already unmasked.
	Payload []byte
}

// Read reads exactly one frame from r. The payload is unmasked before the
// frame is returned.
//
// The length field is taken as the literal low 7 bits of the second header
// byte. Declared lengths above MaxPayload return ErrPayloadTooLarge; short
// reads surface as io.EOF or io.ErrUnexpectedEOF. Either way the caller is
// expected to tear down the connection.
func Read(r io.Reader) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Fin:    hdr[0]&0x80 != 0,
		Opcode: Opcode(hdr[0] & 0x0F),
		Masked: hdr[1]&0x80 != 0,
	}

	length := int(hdr[1] & 0x7F)
	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: declared %d", ErrPayloadTooLarge, length)
	}

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return Frame{}, err
		}
	}

	if length > 0 {
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
		f.Payload = payload
	}

	if f.Masked {
		f.Payload = Unmask(f.Payload, f.MaskKey)
	}

	return f, nil
}

// Write writes a single server frame to w: FIN set, opcode op, unmasked
// payload in the short-length encoding. Server frames are never masked.
func Write(w io.Writer, op Opcode, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, 2+len(payload))
	buf = append(buf, 0x80|byte(op), byte(len(payload)))
	buf = append(buf, payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Unmask XORs each payload byte with key[i mod 4] and returns the result as
// a new slice; the input is left untouched. The transform is its own inverse,
// so the same function masks client payloads in tests.
func Unmask(payload []byte, key [4]byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[i] = b ^ key[i%4]
	}
	return out
}
