package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/hirbodbehnam/wstunnel/internal/metrics"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status          string   `json:"status"`
	Role            string   `json:"role"`
	Uptime          string   `json:"uptime"`
	ActiveSessions  int64    `json:"active_sessions"`
	ControllerBound bool     `json:"controller_bound"`
	Pending         int      `json:"pending_rendezvous"`
	Version         string   `json:"version"`
	Timestamp       string   `json:"timestamp"`
	Details         *Details `json:"details,omitempty"`
}

// Details contains extended health information, included only when the
// handler was constructed with detailed=true.
type Details struct {
	TotalSessions int64   `json:"total_sessions"`
	BytesToOrigin int64   `json:"bytes_to_origin"`
	BytesToClient int64   `json:"bytes_to_client"`
	MemoryMB      float64 `json:"memory_mb"`
}

// Controller reports whether the front currently has a bound /control
// WebSocket. Satisfied by *tunnel.ControllerHandle.
type Controller interface {
	Bound() bool
}

// Handler serves the /health endpoint. Only meaningful on the front: the
// back has no steady listener to serve it on and reports no health state.
type Handler struct {
	startTime  time.Time
	stats      *tunnel.Stats
	controller Controller
	pending    *tunnel.PendingRendezvous
	role       string
	version    string
	detailed   bool
	metrics    *metrics.Metrics
}

// NewHandler creates a new health check handler for the front role.
func NewHandler(stats *tunnel.Stats, controller Controller, pending *tunnel.PendingRendezvous, version string, detailed bool) *Handler {
	return &Handler{
		startTime:  time.Now(),
		stats:      stats,
		controller: controller,
		pending:    pending,
		role:       "front",
		version:    version,
		detailed:   detailed,
	}
}

// SetMetrics sets the optional Prometheus metrics, kept in sync with the
// controller-bound gauge on every health poll.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// ServeHTTP handles health check requests. Runs on a loopback listener
// separate from the public /control and /connect listener, so local
// monitoring tools can poll it without reaching the tunnel's public surface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bound := h.controller.Bound()

	if h.metrics != nil {
		if bound {
			h.metrics.ControllerBound.Set(1)
		} else {
			h.metrics.ControllerBound.Set(0)
		}
	}

	status := "ok"
	httpCode := http.StatusOK
	if !bound {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:          status,
		Role:            h.role,
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		ActiveSessions:  h.stats.ActiveSessions(),
		ControllerBound: bound,
		Pending:         h.pending.Len(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalSessions: h.stats.TotalSessions(),
			BytesToOrigin: h.stats.BytesToOrigin(),
			BytesToClient: h.stats.BytesToClient(),
			MemoryMB:      float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
