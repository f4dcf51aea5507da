// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package echo

import (
	"context"
	"io"

	"github.com/wsecho/wsecho/pkg/frame"
	"github.com/wsecho/wsecho/pkg/handler"
)

// Parser implements the restricted echo protocol. One call to Parse consumes
// exactly one client frame and writes whatever reply the profile prescribes;
// the server loops over Parse until it returns an error.
type Parser struct{}

// Parse reads one frame from r, unmasks it, and dispatches on the opcode:
//
//   - close: echo a close frame with the same payload, then return io.EOF to
//     end the loop cleanly.
//   - ping: reply with a pong carrying the identical payload.
//   - text, binary: reply with an unmasked server frame of the same opcode
//     and payload (pure echo).
//   - anything else (continuation, pong, reserved): dropped without a reply.
//
// Read errors, including a declared payload length above the profile limit,
// propagate to the caller and terminate the connection.
func (p *Parser) Parse(ctx context.Context, r io.Reader, w io.Writer, h handler.Handler, hctx *handler.Context) error {
	f, err := frame.Read(r)
	if err != nil {
		return err
	}

	switch f.Opcode {
	case frame.Close:
		if err := frame.Write(w, frame.Close, f.Payload); err != nil {
			return err
		}
		if err := h.OnClose(ctx, hctx, f.Payload); err != nil {
			return err
		}
		return io.EOF

	case frame.Ping:
		if err := frame.Write(w, frame.Pong, f.Payload); err != nil {
			return err
		}
		return h.OnPing(ctx, hctx, f.Payload)

	case frame.Text, frame.Binary:
		if err := frame.Write(w, f.Opcode, f.Payload); err != nil {
			return err
		}
		return h.OnMessage(ctx, hctx, f.Opcode == frame.Binary, f.Payload)

	default:
		// Continuation, pong and reserved opcodes are ignored.
		return nil
	}
}
