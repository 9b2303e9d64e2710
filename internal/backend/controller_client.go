// Package backend implements the back role: the process that dials the
// intermediary outbound and reaches the private origin over TCP. It holds
// the Controller Client (reconnecting /control reader) and the Data
// Channel Endpoint that answers each NewConnection command.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
	"github.com/hirbodbehnam/wstunnel/internal/tunnelerr"
)

// DefaultReconnectDelay is used by callers without a loaded config.
const DefaultReconnectDelay = 5 * time.Second

// ControllerClient implements spec §4.2's back side: it holds the single
// outbound /control WebSocket and reconnects forever on loss.
type ControllerClient struct {
	// ControlURL is <intermediary>/control.
	ControlURL string
	// ConnectURL is <intermediary>/connect, dialed fresh for each command.
	ConnectURL string
	// OriginAddr is the private TCP service each session is spliced to.
	OriginAddr string
	// ReconnectDelay is how long Run waits after a lost or failed /control
	// connection before retrying. Set from cfg.Back.ReconnectDelay.
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Stats          *tunnel.Stats
	Log            *slog.Logger
}

// Run connects to ControlURL, processes NewConnection commands until the
// socket dies, then sleeps ReconnectDelay and retries forever. Returns only
// when ctx is cancelled.
func (c *ControllerClient) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.Log.Warn("control channel lost", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.ReconnectDelay):
		}
	}
}

func (c *ControllerClient) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.ControlURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: dialing control channel: %v", tunnelerr.ErrTransport, err)
	}
	defer conn.CloseNow()

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading control channel ack: %v", tunnelerr.ErrTransport, err)
	}
	if msgType != websocket.MessageText || string(data) != "ack" {
		return fmt.Errorf("%w: control channel did not send ack", tunnelerr.ErrProtocol)
	}

	c.Log.Info("controller connected", "url", c.ControlURL)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("%w: reading control channel: %v", tunnelerr.ErrTransport, err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		cmd, err := tunnel.DecodeControllerCommand(string(data))
		if err != nil {
			c.Log.Warn("invalid controller command", "body", string(data), "error", err)
			continue
		}
		go c.handleNewConnection(ctx, cmd.NewConnection)
	}
}
