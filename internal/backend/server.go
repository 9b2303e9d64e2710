package backend

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hirbodbehnam/wstunnel/internal/config"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
)

// Run builds a ControllerClient from the back's CLI-supplied addresses and
// runs it until ctx is cancelled. intermediaryURL is the base URL the front
// exposes (e.g. https://example.com); /control and /connect are derived
// from it.
func Run(ctx context.Context, cfg *config.Config, intermediaryURL, originAddr string, log *slog.Logger) error {
	newClient(cfg, intermediaryURL, originAddr, log).Run(ctx)
	return nil
}

// newClient builds the ControllerClient Run drives, reading every tunable
// (reconnect delay, dial timeout) from cfg rather than hardcoding it.
func newClient(cfg *config.Config, intermediaryURL, originAddr string, log *slog.Logger) *ControllerClient {
	base := httpToWS(intermediaryURL)
	return &ControllerClient{
		ControlURL:     strings.TrimSuffix(base, "/") + "/control",
		ConnectURL:     strings.TrimSuffix(base, "/") + "/connect",
		OriginAddr:     originAddr,
		ReconnectDelay: cfg.Back.ReconnectDelay,
		DialTimeout:    cfg.Back.DialTimeout,
		Stats:          tunnel.NewStats(),
		Log:            log,
	}
}

// httpToWS converts http(s):// to ws(s)://, passing anything else through
// unchanged (callers may already supply a ws:// URL).
func httpToWS(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}
