// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
)

// Context contains connection metadata established during the handshake.
// It is passed to every Handler method for the lifetime of the connection.
type Context struct {
	// SessionID is a unique identifier for this connection.
	SessionID string

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// Subprotocol is the subprotocol chosen during the handshake, empty when
	// the client requested none.
	Subprotocol string
}

// Handler defines notification callbacks for connection and frame events.
// The frame loop invokes each callback after the corresponding reply has
// been written, so a callback always observes a completed protocol action.
//
// OnConnect may return an error to reject a connection right after the
// handshake; an error from any other callback also tears the connection
// down. OnDisconnect runs on every exit path.
type Handler interface {
	// OnConnect is called once the handshake has succeeded and the
	// connection has been promoted to frame mode.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnMessage is called after a text or binary frame has been echoed.
	// binary distinguishes the two opcodes; payload is the unmasked bytes.
	OnMessage(ctx context.Context, hctx *Context, binary bool, payload []byte) error

	// OnPing is called after a ping has been answered with a pong.
	OnPing(ctx context.Context, hctx *Context, payload []byte) error

	// OnClose is called after a close frame has been echoed, immediately
	// before the connection terminates.
	OnClose(ctx context.Context, hctx *Context, payload []byte) error

	// OnDisconnect is called when the connection ends, whether by close
	// handshake, peer disconnect, or error.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that does nothing.
// Useful for testing or when no callbacks are needed.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnMessage(ctx context.Context, hctx *Context, binary bool, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnPing(ctx context.Context, hctx *Context, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnClose(ctx context.Context, hctx *Context, payload []byte) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
