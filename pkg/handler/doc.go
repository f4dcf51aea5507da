// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the callback interface the frame loop drives.
//
// The echo endpoint itself has no authorization or business logic; handlers
// exist for observation. The server creates one Context per connection after
// a successful handshake and passes it to every callback, and guarantees
// OnDisconnect fires exactly once per connection, on every exit path.
//
// NoopHandler accepts everything silently. A logging implementation lives in
// examples/logging, and cmd/wsecho wraps handlers with Prometheus
// instrumentation.
package handler
