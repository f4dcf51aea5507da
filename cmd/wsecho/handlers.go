// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/wsecho/wsecho/pkg/frame"
	"github.com/wsecho/wsecho/pkg/handler"
	"github.com/wsecho/wsecho/pkg/metrics"
)

// InstrumentedHandler wraps a handler with Prometheus instrumentation.
type InstrumentedHandler struct {
	handler handler.Handler
	metrics *metrics.Metrics
}

var _ handler.Handler = (*InstrumentedHandler)(nil)

// OnConnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveConnections.Inc()
	h.metrics.HandshakesTotal.WithLabelValues("accepted").Inc()

	return h.handler.OnConnect(ctx, hctx)
}

// OnMessage implements handler.Handler with metrics. Every echoed data frame
// counts once in each direction.
func (h *InstrumentedHandler) OnMessage(ctx context.Context, hctx *handler.Context, binary bool, payload []byte) error {
	opcode := frame.Text
	if binary {
		opcode = frame.Binary
	}
	h.metrics.FramesTotal.WithLabelValues(opcode.String(), "in").Inc()
	h.metrics.FramesTotal.WithLabelValues(opcode.String(), "out").Inc()
	h.metrics.PayloadBytes.WithLabelValues("in").Observe(float64(len(payload)))
	h.metrics.PayloadBytes.WithLabelValues("out").Observe(float64(len(payload)))

	return h.handler.OnMessage(ctx, hctx, binary, payload)
}

// OnPing implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnPing(ctx context.Context, hctx *handler.Context, payload []byte) error {
	h.metrics.FramesTotal.WithLabelValues(frame.Ping.String(), "in").Inc()
	h.metrics.FramesTotal.WithLabelValues(frame.Pong.String(), "out").Inc()

	return h.handler.OnPing(ctx, hctx, payload)
}

// OnClose implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnClose(ctx context.Context, hctx *handler.Context, payload []byte) error {
	h.metrics.FramesTotal.WithLabelValues(frame.Close.String(), "in").Inc()
	h.metrics.FramesTotal.WithLabelValues(frame.Close.String(), "out").Inc()

	return h.handler.OnClose(ctx, hctx, payload)
}

// OnDisconnect implements handler.Handler with metrics.
func (h *InstrumentedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	h.metrics.ActiveConnections.Dec()
	h.metrics.ConnectionsTotal.WithLabelValues("completed").Inc()

	return h.handler.OnDisconnect(ctx, hctx)
}
