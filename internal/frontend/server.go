package frontend

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hirbodbehnam/wstunnel/internal/config"
	"github.com/hirbodbehnam/wstunnel/internal/health"
	"github.com/hirbodbehnam/wstunnel/internal/metrics"
	"github.com/hirbodbehnam/wstunnel/internal/security"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server wires together the front's TCP acceptor and the /control and
// /connect HTTP/WS listener shells (spec §4.5) — the thin collaborators
// that only need to pass upgrades through to the handlers above.
type Server struct {
	cfg        *config.Config
	pending    *tunnel.PendingRendezvous
	controller *tunnel.ControllerHandle
	stats      *tunnel.Stats
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewServer builds the front's process-wide singletons and handlers.
func NewServer(cfg *config.Config, log *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		pending:    tunnel.NewPendingRendezvous(cfg.Front.DataQueueSize, cfg.Front.PendingTTL),
		controller: tunnel.NewControllerHandle(cfg.Front.CommandQueueSize),
		stats:      tunnel.NewStats(),
		log:        log,
	}
	if cfg.Monitoring.MetricsEnabled {
		s.metrics = metrics.New()
	}
	return s
}

// Run starts the TCP acceptor, the public control/connect HTTP server, and
// the optional loopback health/metrics server, blocking until ctx is
// cancelled or either the TCP acceptor or the control/connect server fails.
func (s *Server) Run(ctx context.Context, tcpListenAddr, wsListenAddr string) error {
	acceptor, err := NewAcceptor(tcpListenAddr, s.pending, s.controller, s.stats, s.log)
	if err != nil {
		return err
	}
	acceptor.Metrics = s.metrics
	if s.cfg.Front.AcceptRateLimit > 0 {
		perSecond := rate.Limit(float64(s.cfg.Front.AcceptRateLimit) / 60.0)
		acceptor.RateLimiter = security.NewRateLimiter(perSecond, s.cfg.Front.AcceptRateLimit)
	}

	mux := http.NewServeMux()
	controllerHandler := NewControllerHandler(s.controller, s.log)
	controllerHandler.Metrics = s.metrics
	mux.Handle("/control", controllerHandler)
	connectHandler := NewConnectHandler(s.pending, s.stats, s.log)
	connectHandler.Metrics = s.metrics
	mux.Handle("/connect", connectHandler)

	wsListener, err := net.Listen("tcp", wsListenAddr)
	if err != nil {
		return err
	}
	wsServer := &http.Server{Handler: mux}

	errCh := make(chan error, 2)
	go func() { errCh <- acceptor.Run(ctx) }()
	go func() { errCh <- wsServer.Serve(wsListener) }()
	go acceptor.ReapLoop(ctx, s.cfg.Front.PendingTTL/2)

	if s.cfg.Health.Enabled || s.cfg.Monitoring.MetricsEnabled {
		go s.runSideListener(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsServer.Shutdown(shutdownCtx)
	}()

	return <-errCh
}

func (s *Server) runSideListener(ctx context.Context) {
	mux := http.NewServeMux()
	if s.cfg.Health.Enabled {
		h := health.NewHandler(s.stats, s.controller, s.pending, "dev", true)
		h.SetMetrics(s.metrics)
		mux.Handle(s.cfg.Health.Endpoint, h)
	}
	if s.cfg.Monitoring.MetricsEnabled {
		mux.Handle(s.cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
	}

	addr := s.cfg.Health.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:8081"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("side listener failed", "error", err)
	}
}
