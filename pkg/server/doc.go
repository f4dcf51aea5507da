// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server implements the TCP listener and connection lifecycle for
// the wsecho endpoint.
//
// # Overview
//
// The server binds one process-wide listening socket, accepts connections
// indefinitely, and dispatches each accepted connection to its own
// goroutine. The listening socket is an explicit handle owned by the Server
// with a start/stop lifecycle, not ambient global state.
//
// # Connection Flow
//
//  1. Client connects
//  2. Server accepts and spawns a handler goroutine
//  3. Handshake negotiation (silent abort closes the connection)
//  4. Handler.OnConnect
//  5. Frame loop: one Parser.Parse call per client frame
//  6. Handler.OnDisconnect, connection closed
//
// # Concurrency Model
//
// One goroutine per accepted connection, unbounded in count: there is no
// pool, no admission control, and no backpressure. No shared mutable state
// exists between connections, so no locking discipline applies to handlers.
// A stalled peer holds its goroutine until the process is torn down. This is
// acceptable for a demo/test tool, not a production service.
//
// # Shutdown
//
// When the context is cancelled the server stops accepting, closes the
// listener, and waits up to ShutdownTimeout for in-flight connections to
// drain. Connections still open afterwards are abandoned (fire-and-forget)
// and Listen returns ErrShutdownTimeout.
//
// # Error Handling
//
//   - Bind failure: returned from Listen, fatal to the process
//   - Handshake failure: connection closed silently, logged at debug
//   - Frame loop errors: isolated to the owning connection
package server
