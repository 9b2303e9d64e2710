package backend

import (
	"context"
	"net"

	"github.com/coder/websocket"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
)

// handleNewConnectionRequest implements spec §4.3's back side: dial
// /connect, announce id, dial the origin, and splice. Any failure up to and
// including the origin dial is logged and abandoned. If the id never
// reached the front, the front-side TCP connection is reclaimed by
// PendingRendezvous's TTL reaper; once the id is announced the front has
// already claimed the entry, so an origin-dial failure closes the
// WebSocket, which ends the front's session.
func (c *ControllerClient) handleNewConnection(ctx context.Context, id tunnel.ConnectionID) {
	dialCtx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	ws, _, err := websocket.Dial(dialCtx, c.ConnectURL, nil)
	cancel()
	if err != nil {
		c.Log.Warn("failed to dial data channel", "id", id.String(), "error", err)
		return
	}

	if err := ws.Write(ctx, websocket.MessageText, []byte(id.String())); err != nil {
		c.Log.Warn("failed to announce connection id", "id", id.String(), "error", err)
		ws.CloseNow()
		return
	}

	conn, err := net.DialTimeout("tcp", c.OriginAddr, c.DialTimeout)
	if err != nil {
		c.Log.Warn("failed to dial origin", "id", id.String(), "addr", c.OriginAddr, "error", err)
		// Close the already-opened WebSocket so the front can reap the
		// pairing promptly rather than waiting for its own timeout.
		ws.Close(websocket.StatusInternalError, "origin unreachable")
		return
	}

	c.Log.Debug("session established", "id", id.String())
	c.Stats.SessionStarted()
	defer c.Stats.SessionEnded()
	tunnel.SpliceDirect(ctx, ws, conn, c.Stats, c.Log)
}
