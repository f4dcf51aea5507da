// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package echo implements the per-connection frame loop of the wsecho
// endpoint.
//
// # State Machine
//
// A connection that survives the handshake has a single state, "open". It
// leaves that state for "closed" on exactly three conditions:
//
//   - a parsed close opcode (the close frame is echoed first),
//   - a short or malformed read, including a declared payload length above
//     the 125-byte profile limit,
//   - any unrecoverable read or write error.
//
// There are no other states, no retries, and no reconnection.
//
// # Dispatch
//
//	close (0x8)        echo close with the same payload, terminate
//	ping (0x9)         reply pong (0xA) with the identical payload
//	text (0x1)         echo the frame unmasked, same opcode and payload
//	binary (0x2)       echo the frame unmasked, same opcode and payload
//	everything else    silently ignored, loop continues
//
// Handler callbacks fire after the reply for each dispatched frame, giving
// observers a view of completed actions only.
package echo
