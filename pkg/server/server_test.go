// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsecho/wsecho/pkg/echo"
	"github.com/wsecho/wsecho/pkg/frame"
	"github.com/wsecho/wsecho/pkg/handler"
)

type mockParser struct {
	parseErr    error
	parseCalled int
}

func (m *mockParser) Parse(ctx context.Context, r io.Reader, w io.Writer, h handler.Handler, hctx *handler.Context) error {
	m.parseCalled++

	if m.parseErr != nil {
		return m.parseErr
	}

	// Read and echo back
	buf := make([]byte, 1024)
	n, err := r.Read(buf)
	if err != nil {
		return err
	}
	_, err = w.Write(buf[:n])
	return err
}

type mockHandler struct {
	handler.NoopHandler

	connected    chan struct{}
	disconnected chan struct{}
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		connected:    make(chan struct{}, 8),
		disconnected: make(chan struct{}, 8),
	}
}

func (m *mockHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	m.connected <- struct{}{}
	return nil
}

func (m *mockHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	m.disconnected <- struct{}{}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// startServer runs a server on an ephemeral port and returns its address,
// a cancel func, and the channel carrying Listen's result.
func startServer(t *testing.T, p Parser, h handler.Handler) (string, context.CancelFunc, chan error) {
	t.Helper()

	srv := New(Config{
		Host:            "127.0.0.1",
		Port:            "0",
		ShutdownTimeout: 5 * time.Second,
		Logger:          testLogger(),
	}, p, h)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(ctx)
	}()

	// Wait for the listener to bind.
	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not bind in time")
		}
		select {
		case err := <-errCh:
			t.Fatalf("server exited early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	return srv.Addr().String(), cancel, errCh
}

func upgradeRequest(extra ...string) string {
	lines := []string{
		"GET /echo HTTP/1.1",
		"Host: localhost",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Version: 13",
	}
	lines = append(lines, extra...)
	return strings.Join(lines, "\r\n") + "\r\n\r\n"
}

// readResponse reads until the blank line ending the handshake response.
func readResponse(t *testing.T, conn net.Conn) string {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp []byte
	buf := make([]byte, 1)
	for !bytes.HasSuffix(resp, []byte("\r\n\r\n")) {
		if _, err := conn.Read(buf); err != nil {
			t.Fatalf("reading handshake response: %v (got %q)", err, resp)
		}
		resp = append(resp, buf[0])
	}
	return string(resp)
}

// clientFrame builds a masked client frame.
func clientFrame(op frame.Opcode, payload []byte) []byte {
	key := [4]byte{0xA1, 0xB2, 0xC3, 0xD4}
	buf := []byte{0x80 | byte(op), 0x80 | byte(len(payload))}
	buf = append(buf, key[:]...)
	buf = append(buf, frame.Unmask(payload, key)...)
	return buf
}

func readServerFrame(t *testing.T, conn net.Conn) (frame.Opcode, []byte) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := frame.Read(conn)
	if err != nil {
		t.Fatalf("reading server frame: %v", err)
	}
	if f.Masked {
		t.Error("server frame has the mask bit set")
	}
	if !f.Fin {
		t.Error("server frame has FIN clear")
	}
	return f.Opcode, f.Payload
}

func TestServer_ListenAndShutdown(t *testing.T) {
	_, cancel, errCh := startServer(t, &mockParser{}, newMockHandler())

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Listen() shutdown error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("Listen() did not return after cancel")
	}
}

func TestServer_BindFailure(t *testing.T) {
	srv := New(Config{
		Host:   "127.0.0.1",
		Port:   "999999",
		Logger: testLogger(),
	}, &mockParser{}, &handler.NoopHandler{})

	if err := srv.Listen(context.Background()); err == nil {
		t.Error("Listen() succeeded on an invalid port")
	}
}

func TestServer_HandshakeAndEcho(t *testing.T) {
	h := newMockHandler()
	addr, cancel, _ := startServer(t, &echo.Parser{}, h)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(upgradeRequest("Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ=="))); err != nil {
		t.Fatalf("writing upgrade request: %v", err)
	}

	resp := readResponse(t, conn)
	if !strings.Contains(resp, "101 Switching Protocols") {
		t.Fatalf("unexpected handshake response:\n%s", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("wrong accept token in response:\n%s", resp)
	}

	select {
	case <-h.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnConnect not invoked")
	}

	// Text echo
	if _, err := conn.Write(clientFrame(frame.Text, []byte("hello"))); err != nil {
		t.Fatalf("writing text frame: %v", err)
	}
	if op, payload := readServerFrame(t, conn); op != frame.Text || string(payload) != "hello" {
		t.Errorf("echo = %v %q, want text %q", op, payload, "hello")
	}

	// Ping -> pong
	if _, err := conn.Write(clientFrame(frame.Ping, []byte{0x01, 0x02})); err != nil {
		t.Fatalf("writing ping frame: %v", err)
	}
	if op, payload := readServerFrame(t, conn); op != frame.Pong || !bytes.Equal(payload, []byte{0x01, 0x02}) {
		t.Errorf("ping reply = %v %#v, want pong [1 2]", op, payload)
	}

	// Close handshake
	if _, err := conn.Write(clientFrame(frame.Close, []byte{0x03, 0xE8})); err != nil {
		t.Fatalf("writing close frame: %v", err)
	}
	if op, payload := readServerFrame(t, conn); op != frame.Close || !bytes.Equal(payload, []byte{0x03, 0xE8}) {
		t.Errorf("close echo = %v %#v, want close [3 232]", op, payload)
	}

	// No further frames are accepted after the close handshake.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := frame.Read(conn); !errors.Is(err, io.EOF) {
		t.Errorf("read after close = %v, want io.EOF", err)
	}

	select {
	case <-h.disconnected:
	case <-time.After(5 * time.Second):
		t.Error("OnDisconnect not invoked")
	}
}

func TestServer_SubprotocolEcho(t *testing.T) {
	addr, cancel, _ := startServer(t, &echo.Parser{}, &handler.NoopHandler{})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := upgradeRequest(
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Protocol: chat, superchat")
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("writing upgrade request: %v", err)
	}

	resp := readResponse(t, conn)
	if !strings.Contains(resp, "Sec-WebSocket-Protocol: chat\r\n") {
		t.Errorf("response missing chosen subprotocol:\n%s", resp)
	}
	if strings.Contains(resp, "superchat") {
		t.Errorf("response leaked non-chosen subprotocol:\n%s", resp)
	}
}

func TestServer_NoKeyAbort(t *testing.T) {
	h := newMockHandler()
	addr, cancel, _ := startServer(t, &echo.Parser{}, h)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(upgradeRequest())); err != nil {
		t.Fatalf("writing upgrade request: %v", err)
	}

	// The connection is closed with zero bytes written.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n != 0 {
		t.Errorf("server wrote %d bytes (%q) on silent abort", n, buf[:n])
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("read = %v, want io.EOF", err)
	}

	select {
	case <-h.connected:
		t.Error("OnConnect invoked for an aborted handshake")
	default:
	}
}

func TestServer_OversizedLengthClosesConnection(t *testing.T) {
	addr, cancel, _ := startServer(t, &echo.Parser{}, &handler.NoopHandler{})
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(upgradeRequest("Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ=="))); err != nil {
		t.Fatalf("writing upgrade request: %v", err)
	}
	readResponse(t, conn)

	// Declared length 126 is fatal: no reply frame, connection closed.
	if _, err := conn.Write([]byte{0x81, 0x80 | 126}); err != nil {
		t.Fatalf("writing oversized header: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n != 0 {
		t.Errorf("server replied %q to an oversized frame", buf[:n])
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("read = %v, want io.EOF", err)
	}
}

func TestServer_GorillaClient(t *testing.T) {
	addr, cancel, _ := startServer(t, &echo.Parser{}, &handler.NoopHandler{})
	defer cancel()

	dialer := websocket.Dialer{
		Subprotocols:     []string{"chat", "superchat"},
		HandshakeTimeout: 5 * time.Second,
	}
	c, _, err := dialer.Dial("ws://"+addr+"/echo", nil)
	if err != nil {
		t.Fatalf("gorilla dial: %v", err)
	}
	defer c.Close()

	if got := c.Subprotocol(); got != "chat" {
		t.Errorf("negotiated subprotocol = %q, want %q", got, "chat")
	}

	// Text echo
	if err := c.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, payload, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read text echo: %v", err)
	}
	if mt != websocket.TextMessage || string(payload) != "hello" {
		t.Errorf("echo = %d %q, want text %q", mt, payload, "hello")
	}

	// Binary echo
	if err := c.WriteMessage(websocket.BinaryMessage, []byte{0xDE, 0xAD}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	mt, payload, err = c.ReadMessage()
	if err != nil {
		t.Fatalf("read binary echo: %v", err)
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(payload, []byte{0xDE, 0xAD}) {
		t.Errorf("echo = %d %#v, want binary [222 173]", mt, payload)
	}

	// Ping -> pong; the pong handler fires during the next read.
	pong := make(chan string, 1)
	c.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	if err := c.WriteControl(websocket.PingMessage, []byte{0x01, 0x02}, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte("after-ping")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if _, payload, err = c.ReadMessage(); err != nil || string(payload) != "after-ping" {
		t.Fatalf("read after ping = %q, %v", payload, err)
	}
	select {
	case data := <-pong:
		if data != "\x01\x02" {
			t.Errorf("pong payload = %q, want %q", data, "\x01\x02")
		}
	default:
		t.Error("no pong received before the following echo")
	}

	// Close handshake: the echoed close frame surfaces as a CloseError.
	deadline := time.Now().Add(time.Second)
	if err := c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
		t.Fatalf("write close: %v", err)
	}
	_, _, err = c.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read after close = %v, want CloseError", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.CloseNormalClosure)
	}
}

func TestServer_ParserErrorIsolated(t *testing.T) {
	// A failing connection must not take down the listener.
	h := newMockHandler()
	addr, cancel, errCh := startServer(t, &mockParser{parseErr: errors.New("boom")}, h)
	defer cancel()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte(upgradeRequest("Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==")))
	readResponse(t, conn)
	conn.Close()

	select {
	case <-h.disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnDisconnect not invoked after parser error")
	}

	// Listener still accepts.
	conn2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("second dial: %v", err)
	}
	conn2.Close()

	select {
	case err := <-errCh:
		t.Fatalf("server exited: %v", err)
	default:
	}
}
