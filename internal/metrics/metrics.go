package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics exposed by the front role. The back
// role has no steady HTTP listener and exposes no metrics; its session
// counters are kept in memory and are neither served nor logged.
type Metrics struct {
	SessionsTotal      prometheus.Counter
	ActiveSessions     prometheus.Gauge
	BytesTotal         *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	ControllerBound    prometheus.Gauge
	PendingRendezvous  prometheus.Gauge
	RendezvousReaped   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wstunnel_sessions_total",
			Help: "Total tunnel sessions started",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wstunnel_active_sessions",
			Help: "Current number of active tunnel sessions",
		}),
		BytesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wstunnel_bytes_total",
			Help: "Total bytes forwarded",
		}, []string{"direction"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wstunnel_errors_total",
			Help: "Total errors by kind",
		}, []string{"kind"}),
		ControllerBound: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wstunnel_controller_bound",
			Help: "Whether a /control WebSocket is currently bound (1=bound, 0=absent)",
		}),
		PendingRendezvous: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wstunnel_pending_rendezvous",
			Help: "Number of accepted TCP connections awaiting their /connect WebSocket",
		}),
		RendezvousReaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wstunnel_rendezvous_reaped_total",
			Help: "Total pending connections dropped for exceeding the rendezvous TTL",
		}),
	}
}
