package frontend

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/hirbodbehnam/wstunnel/internal/metrics"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHandleClosesConnectionWhenControllerAbsent guards spec §4.1's
// controller-absent path: with no /control bound, Dispatch fails and the
// accepted connection must be dropped and its rendezvous entry removed,
// not left to leak until the TTL reaper catches it.
func TestHandleClosesConnectionWhenControllerAbsent(t *testing.T) {
	pending := tunnel.NewPendingRendezvous(tunnel.DefaultDataQueueSize, tunnel.DefaultPendingTTL)
	controller := tunnel.NewControllerHandle(tunnel.DefaultCommandQueueSize)
	stats := tunnel.NewStats()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	m := metrics.New()

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	a := &Acceptor{
		Pending:    pending,
		Controller: controller,
		Stats:      stats,
		Metrics:    m,
		Log:        discardLogger(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.handle(serverSide)
	}()

	buf := make([]byte, 1)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientSide.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF from dropped connection, got %v", err)
	}

	<-done
	if pending.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (dropped entry should not linger)", pending.Len())
	}
}

// TestSyncMetricsFoldsStatsDeltaIntoBytesTotal guards against bytes moved
// by concurrent sessions being double-counted or dropped: a direct poke at
// Stats (simulating what splice.go does continuously) must show up in
// BytesTotal exactly once per sync, as a delta rather than an absolute set.
func TestSyncMetricsFoldsStatsDeltaIntoBytesTotal(t *testing.T) {
	stats := tunnel.NewStats()
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	m := metrics.New()
	a := &Acceptor{
		Pending: tunnel.NewPendingRendezvous(tunnel.DefaultDataQueueSize, tunnel.DefaultPendingTTL),
		Stats:   stats,
		Metrics: m,
		Log:     discardLogger(),
	}

	stats.AddBytesToOrigin(100)
	stats.AddBytesToClient(50)
	a.syncMetrics()

	stats.AddBytesToOrigin(30)
	a.syncMetrics()

	if got := testutil.ToFloat64(m.BytesTotal.WithLabelValues("to_origin")); got != 130 {
		t.Errorf("to_origin total = %v, want 130", got)
	}
	if got := testutil.ToFloat64(m.BytesTotal.WithLabelValues("to_client")); got != 50 {
		t.Errorf("to_client total = %v, want 50", got)
	}
}
