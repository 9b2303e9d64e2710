package frontend

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/hirbodbehnam/wstunnel/internal/metrics"
	"github.com/hirbodbehnam/wstunnel/internal/security"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
	"github.com/hirbodbehnam/wstunnel/internal/tunnelerr"
)

// Acceptor implements spec §4.1's Front TCP Acceptor: it owns the public
// TCP listener clients connect to.
type Acceptor struct {
	Listener    net.Listener
	Pending     *tunnel.PendingRendezvous
	Controller  *tunnel.ControllerHandle
	Stats       *tunnel.Stats
	RateLimiter *security.RateLimiter // optional
	Metrics     *metrics.Metrics      // optional
	Log         *slog.Logger

	// lastBytesToOrigin/lastBytesToClient track the cumulative Stats
	// totals last folded into Metrics.BytesTotal, so ReapLoop's periodic
	// sync adds only the delta. Stats is mutated continuously by every
	// live session's splice goroutines, so this single-writer periodic
	// read is the only safe way to mirror it into a monotonic counter
	// without racing a per-session snapshot against concurrent sessions.
	lastBytesToOrigin int64
	lastBytesToClient int64
}

// NewAcceptor binds addr and returns an Acceptor ready to Run.
func NewAcceptor(addr string, pending *tunnel.PendingRendezvous, controller *tunnel.ControllerHandle, stats *tunnel.Stats, log *slog.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{
		Listener:   ln,
		Pending:    pending,
		Controller: controller,
		Stats:      stats,
		Log:        log,
	}, nil
}

// Run accepts connections sequentially until ctx is cancelled or the
// listener errors. Bind failure is the caller's concern (see NewAcceptor);
// accept errors here are fatal to the loop, per spec §4.1.
func (a *Acceptor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.Listener.Close()
	}()

	for {
		conn, err := a.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go a.handle(conn)
	}
}

func (a *Acceptor) handle(conn net.Conn) {
	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	if a.RateLimiter != nil && !a.RateLimiter.Allow(remoteIP) {
		a.Log.Warn("tcp accept rate limited", "remote_ip", remoteIP)
		conn.Close()
		return
	}

	id := tunnel.NewConnectionID()
	pipe := a.Pending.Register(id)

	if !a.Controller.Dispatch(tunnel.ControllerCommand{NewConnection: id}) {
		a.Pending.Drop(id)
		err := tunnelerr.ErrControllerAbsent
		a.Log.Warn("controller absent at accept", "id", id.String(), "remote_ip", remoteIP, "error", err)
		if a.Metrics != nil {
			a.Metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
		}
		conn.Close()
		return
	}

	a.Log.Debug("dispatched new connection", "id", id.String(), "remote_ip", remoteIP)
	tunnel.RunSocketSide(conn, pipe, a.Stats, a.Log)
}

// ReapLoop periodically drops rendezvous entries that exceeded their TTL,
// closing the stranded TCP side, and mirrors Stats into Metrics. Intended
// to run as a single background goroutine for the lifetime of the front
// process — the only writer of Metrics.BytesTotal, so its deltas against
// Stats's cumulative counters never race a concurrent session.
func (a *Acceptor) ReapLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := a.Pending.ReapExpired()
			for _, id := range expired {
				a.Log.Warn("reaped stale pending rendezvous", "id", id.String())
				if a.Metrics != nil {
					a.Metrics.RendezvousReaped.Inc()
				}
			}
			a.syncMetrics()
		}
	}
}

// syncMetrics folds the process-wide Stats counters into Metrics. A no-op
// if no Metrics is configured.
func (a *Acceptor) syncMetrics() {
	if a.Metrics == nil {
		return
	}
	a.Metrics.PendingRendezvous.Set(float64(a.Pending.Len()))

	toOrigin := a.Stats.BytesToOrigin()
	if delta := toOrigin - a.lastBytesToOrigin; delta > 0 {
		a.Metrics.BytesTotal.WithLabelValues("to_origin").Add(float64(delta))
	}
	a.lastBytesToOrigin = toOrigin

	toClient := a.Stats.BytesToClient()
	if delta := toClient - a.lastBytesToClient; delta > 0 {
		a.Metrics.BytesTotal.WithLabelValues("to_client").Add(float64(delta))
	}
	a.lastBytesToClient = toClient
}
