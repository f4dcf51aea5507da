// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handshake implements the WebSocket opening handshake (RFC 6455
// section 4) for the restricted wsecho profile.
//
// The negotiator reads the client's upgrade request in one bounded read and
// parses it by line splitting only; no HTTP machinery beyond that is used.
// A request without an Upgrade: websocket token or a Sec-WebSocket-Key is
// aborted silently: nothing is written and the caller closes the connection.
// There is no partial or error HTTP response path.
package handshake

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// GUID is the fixed accept-token derivation constant from RFC 6455
// section 1.3.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// requestLimit bounds the single read of the upgrade request. The full
// request is assumed to arrive within it.
const requestLimit = 2048

var (
	// ErrNotWebSocket is returned when the request carries no
	// Upgrade: websocket token.
	ErrNotWebSocket = errors.New("not a websocket upgrade request")

	// ErrMissingKey is returned when the request has no Sec-WebSocket-Key
	// header.
	ErrMissingKey = errors.New("missing Sec-WebSocket-Key header")
)

// Request is the ephemeral parsed view of a client's opening handshake. It
// exists only for the duration of the negotiation and is discarded once the
// response has been written.
type Request struct {
	// Upgrade reports whether the request asked to upgrade to websocket.
	Upgrade bool

	// Key is the opaque Sec-WebSocket-Key value, empty when absent.
	Key string

	// Subprotocols lists the requested subprotocols in order, surrounding
	// whitespace trimmed.
	Subprotocols []string
}

// Parse splits raw request bytes into CRLF-separated lines and extracts the
// headers this profile cares about. Header names match case-insensitively.
func Parse(raw []byte) Request {
	var req Request
	for _, line := range strings.Split(string(raw), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case strings.EqualFold(name, "Upgrade"):
			if strings.Contains(strings.ToLower(value), "websocket") {
				req.Upgrade = true
			}
		case strings.EqualFold(name, "Sec-WebSocket-Key"):
			req.Key = value
		case strings.EqualFold(name, "Sec-WebSocket-Protocol"):
			for _, p := range strings.Split(value, ",") {
				req.Subprotocols = append(req.Subprotocols, strings.TrimSpace(p))
			}
		}
	}
	return req
}

// AcceptKey derives the Sec-WebSocket-Accept token for a client key:
// base64(SHA-1(key + GUID)), per RFC 6455 section 4.2.2.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Response renders the 101 Switching Protocols response. The subprotocol
// header is emitted only when one was chosen.
func Response(accept, subprotocol string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Accept: %s\r\n", accept)
	if subprotocol != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", subprotocol)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Upgrade performs the opening handshake on a freshly accepted connection.
//
// On success the 101 response has been written and the chosen subprotocol
// (possibly empty) is returned. When a Sec-WebSocket-Protocol header is
// present the first comma-separated token is chosen with no validation
// against a supported list. On failure nothing has been written and the
// caller closes the connection without a response.
func Upgrade(conn io.ReadWriter) (string, error) {
	buf := make([]byte, requestLimit)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to read handshake request: %w", err)
	}

	req := Parse(buf[:n])
	if !req.Upgrade {
		return "", ErrNotWebSocket
	}
	if req.Key == "" {
		return "", ErrMissingKey
	}

	var chosen string
	if len(req.Subprotocols) > 0 {
		chosen = req.Subprotocols[0]
	}

	if _, err := conn.Write(Response(AcceptKey(req.Key), chosen)); err != nil {
		return "", fmt.Errorf("failed to write handshake response: %w", err)
	}
	return chosen, nil
}
