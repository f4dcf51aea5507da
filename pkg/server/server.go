// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	wserrors "github.com/wsecho/wsecho/pkg/errors"
	"github.com/wsecho/wsecho/pkg/handler"
	"github.com/wsecho/wsecho/pkg/handshake"
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// Parser consumes exactly one client frame per call and writes the reply.
// It returns io.EOF to end the loop cleanly after a completed close
// handshake and any other error to terminate the connection.
type Parser interface {
	Parse(ctx context.Context, r io.Reader, w io.Writer, h handler.Handler, hctx *handler.Context) error
}

// Config holds the echo server configuration.
type Config struct {
	// Host is the listen host (default 127.0.0.1)
	Host string

	// Port is the listen port (default 9105)
	Port string

	// ShutdownTimeout is the maximum time to wait for active connections to
	// drain during graceful shutdown. Connections still open afterwards are
	// abandoned rather than joined.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts TCP connections, performs the WebSocket handshake on each,
// and runs the frame loop on an independent goroutine per connection so that
// slow or stalled peers never block others.
type Server struct {
	config  Config
	parser  Parser
	handler handler.Handler
	wg      sync.WaitGroup
	mu      sync.Mutex
	ln      net.Listener
}

// New creates a new server with the given configuration, parser, and handler.
func New(cfg Config, p Parser, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "9105"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Server{
		config:  cfg,
		parser:  p,
		handler: h,
	}
}

// Addr returns the bound listen address, or nil before Listen has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listen binds the listening socket and blocks until the context is
// cancelled. A bind failure is returned immediately and is fatal; everything
// after a successful bind is isolated per connection.
func (s *Server) Listen(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = listener
	s.mu.Unlock()

	s.config.Logger.Info("websocket echo server started", slog.String("address", listener.Addr().String()))

	// Accept loop
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					// Expected error during shutdown
					return
				default:
					s.config.Logger.Error("failed to accept connection", slog.String("error", err.Error()))
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.handleConn(ctx, conn); err != nil && !errors.Is(err, io.EOF) {
					s.config.Logger.Debug("connection handler error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	// Wait for accept loop to finish
	<-acceptDone

	// Wait for active connections to drain with timeout. Handlers blocked on
	// a stalled peer are not forcibly joined.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, abandoning remaining connections")
		return ErrShutdownTimeout
	}
}

// handleConn owns a single client connection for its lifetime:
// 1. Negotiate the WebSocket handshake (silent abort on failure)
// 2. Notify the handler of the new session
// 3. Run the frame loop until close or error
// 4. Notify disconnect and release the connection on every exit path
func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()

	subprotocol, err := handshake.Upgrade(conn)
	if err != nil {
		// Non-WebSocket and malformed requests are dropped without a
		// response.
		return wserrors.New("handshake", "", remoteAddr, err)
	}

	hctx := &handler.Context{
		SessionID:   uuid.New().String(),
		RemoteAddr:  remoteAddr,
		Subprotocol: subprotocol,
	}

	if err := s.handler.OnConnect(ctx, hctx); err != nil {
		return wserrors.New("connect", hctx.SessionID, remoteAddr, err)
	}

	s.config.Logger.Debug("connection established",
		slog.String("session", hctx.SessionID),
		slog.String("remote", remoteAddr),
		slog.String("subprotocol", subprotocol))

	var loopErr error
	for {
		select {
		case <-ctx.Done():
			loopErr = ctx.Err()
		default:
		}
		if loopErr != nil {
			break
		}

		if err := s.parser.Parse(ctx, conn, conn, s.handler, hctx); err != nil {
			if !errors.Is(err, io.EOF) {
				loopErr = wserrors.New("frame loop", hctx.SessionID, remoteAddr, err)
			}
			break
		}
	}

	// Notify disconnect
	if err := s.handler.OnDisconnect(context.Background(), hctx); err != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
	}

	s.config.Logger.Debug("connection closed",
		slog.String("session", hctx.SessionID))

	return loopErr
}
