package frontend

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/hirbodbehnam/wstunnel/internal/metrics"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
	"github.com/hirbodbehnam/wstunnel/internal/tunnelerr"
)

// ConnectHandler upgrades /connect requests: the back's opening frame
// carries the ConnectionID of the session it is completing.
type ConnectHandler struct {
	Pending *tunnel.PendingRendezvous
	Stats   *tunnel.Stats
	Metrics *metrics.Metrics // optional
	Log     *slog.Logger
}

// NewConnectHandler creates a handler bound to the process-wide rendezvous
// table.
func NewConnectHandler(pending *tunnel.PendingRendezvous, stats *tunnel.Stats, log *slog.Logger) *ConnectHandler {
	return &ConnectHandler{Pending: pending, Stats: stats, Log: log}
}

// claimPipe reads the opening id frame off conn and claims its pending
// pipe, classifying every failure with a tunnelerr sentinel so callers
// (and tests) can distinguish them with errors.Is rather than string
// matching the log line.
func claimPipe(pending *tunnel.PendingRendezvous, msgType websocket.MessageType, data []byte, readErr error) (*tunnel.ConnectionPipe, tunnel.ConnectionID, error) {
	if readErr != nil || msgType != websocket.MessageText {
		return nil, tunnel.ConnectionID{}, tunnelerr.ErrProtocol
	}
	id, err := tunnel.ParseConnectionID(string(data))
	if err != nil {
		return nil, tunnel.ConnectionID{}, tunnelerr.ErrProtocol
	}
	pipe, ok := pending.Claim(id)
	if !ok {
		return nil, id, tunnelerr.ErrRendezvousMiss
	}
	return pipe, id, nil
}

// ServeHTTP implements spec §4.3's front side: read the opening id frame,
// claim the pending pipe, and splice.
func (h *ConnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Log.Error("failed to accept data channel websocket", "error", err)
		return
	}

	ctx := r.Context()
	msgType, data, readErr := conn.Read(ctx)
	pipe, id, err := claimPipe(h.Pending, msgType, data, readErr)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
		}
		switch {
		case errors.Is(err, tunnelerr.ErrRendezvousMiss):
			h.Log.Warn("rendezvous miss", "id", id.String(), "error", err)
			conn.Close(websocket.StatusNormalClosure, "unknown connection id")
		default:
			h.Log.Warn("malformed /connect opening frame", "error", err)
			conn.Close(websocket.StatusProtocolError, "expected a valid connection id")
		}
		return
	}

	h.Stats.SessionStarted()
	if h.Metrics != nil {
		h.Metrics.SessionsTotal.Inc()
		h.Metrics.ActiveSessions.Inc()
	}

	tunnel.RunWebSocketSide(conn, pipe, h.Stats, h.Log)

	h.Stats.SessionEnded()
	if h.Metrics != nil {
		h.Metrics.ActiveSessions.Dec()
	}
}

// errKind maps a tunnelerr sentinel to its metrics label.
func errKind(err error) string {
	switch {
	case errors.Is(err, tunnelerr.ErrProtocol):
		return "protocol"
	case errors.Is(err, tunnelerr.ErrRendezvousMiss):
		return "rendezvous_miss"
	case errors.Is(err, tunnelerr.ErrControllerAbsent):
		return "controller_absent"
	case errors.Is(err, tunnelerr.ErrControllerBound):
		return "controller_bound"
	case errors.Is(err, tunnelerr.ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
