// Package frontend implements the front role: the process clients reach
// over TCP and that the intermediary reaches over HTTP/WebSocket. It
// exposes /control (the Controller Bridge) and /connect (the Data Channel
// Endpoint) and owns the TCP acceptor and the PendingRendezvous table.
package frontend

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/hirbodbehnam/wstunnel/internal/metrics"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
	"github.com/hirbodbehnam/wstunnel/internal/tunnelerr"
)

// ControllerHandler upgrades /control requests into the Controller Bridge.
type ControllerHandler struct {
	Controller *tunnel.ControllerHandle
	Metrics    *metrics.Metrics // optional
	Log        *slog.Logger
}

// NewControllerHandler creates a handler bound to the process-wide
// ControllerHandle.
func NewControllerHandler(c *tunnel.ControllerHandle, log *slog.Logger) *ControllerHandler {
	return &ControllerHandler{Controller: c, Log: log}
}

// ServeHTTP implements spec §4.2's front side: bind the slot or reject with
// 409, send "ack", then run the reader/writer halves until either finishes.
func (h *ControllerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	queue, ok := h.Controller.Bind()
	if !ok {
		err := tunnelerr.ErrControllerBound
		h.Log.Warn("rejected second controller", "remote_addr", r.RemoteAddr, "error", err)
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
		}
		http.Error(w, "controller already bound", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Controller.Unbind()
		h.Log.Error("failed to accept controller websocket", "error", err)
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues(errKind(tunnelerr.ErrTransport)).Inc()
		}
		return
	}

	ctx := r.Context()
	if err := conn.Write(ctx, websocket.MessageText, []byte("ack")); err != nil {
		h.Controller.Unbind()
		conn.CloseNow()
		h.Log.Warn("failed to send ack to controller", "error", err)
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues(errKind(tunnelerr.ErrTransport)).Inc()
		}
		return
	}

	if h.Metrics != nil {
		h.Metrics.ControllerBound.Set(1)
	}
	h.Log.Info("controller bound", "remote_addr", r.RemoteAddr)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
			// Inbound frames from the controller carry no payload we act on;
			// only its Close terminates the session.
		}
	}()

	h.writerLoop(ctx, conn, queue, readerDone)

	h.Controller.Unbind()
	if h.Metrics != nil {
		h.Metrics.ControllerBound.Set(0)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	h.Log.Warn("commander died")
}

// writerLoop drains queue and serializes each command as a text frame,
// until the reader signals the socket died or the queue is unbound.
func (h *ControllerHandler) writerLoop(ctx context.Context, conn *websocket.Conn, queue <-chan tunnel.ControllerCommand, readerDone <-chan struct{}) {
	for {
		select {
		case <-readerDone:
			return
		case cmd, ok := <-queue:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(cmd.Encode())); err != nil {
				h.Log.Debug("controller write failed", "error", err)
				return
			}
		}
	}
}
