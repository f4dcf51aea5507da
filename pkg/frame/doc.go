// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the restricted RFC 6455 frame codec used by wsecho.
//
// # Wire Layout
//
// Every frame this profile understands fits the 2-byte minimum header:
//
//	Byte 0: FIN (top bit) | opcode (low 4 bits)
//	Byte 1: MASK (top bit) | payload length (low 7 bits, literal)
//	[4-byte masking key, client frames only]
//	[payload, at most 125 bytes]
//
// # Profile Limits
//
// The codec deliberately stops short of full RFC 6455:
//
//   - No fragmentation. FIN is recorded but assumed set.
//   - No extended payload lengths. The low 7 bits of byte 1 are the length;
//     a declared length above 125 is fatal rather than the start of a 16- or
//     64-bit length field.
//   - No per-message compression and no reserved-bit handling.
//
// These limits are the intended behavioral envelope of the endpoint, not
// gaps to be filled in.
//
// # Masking
//
// Client-to-server payloads arrive XOR-masked with a 4-byte key. Read returns
// frames with the payload already unmasked; Unmask is exposed as a pure
// function so the transform stays independently testable. Server frames are
// written unmasked, as the RFC requires.
package frame
