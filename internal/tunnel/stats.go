package tunnel

import "sync/atomic"

// Stats tracks process-wide session counters, generalized from the
// teacher's per-connection counting (active/total connections, total
// messages) to tunnel sessions and bytes.
type Stats struct {
	activeSessions atomic.Int64
	totalSessions  atomic.Int64
	bytesToOrigin  atomic.Int64
	bytesToClient  atomic.Int64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats { return &Stats{} }

// SessionStarted records a new session beginning.
func (s *Stats) SessionStarted() {
	s.activeSessions.Add(1)
	s.totalSessions.Add(1)
}

// SessionEnded records a session tearing down.
func (s *Stats) SessionEnded() {
	s.activeSessions.Add(-1)
}

// AddBytesToOrigin records n bytes forwarded from client to origin.
func (s *Stats) AddBytesToOrigin(n int) {
	s.bytesToOrigin.Add(int64(n))
}

// AddBytesToClient records n bytes forwarded from origin to client.
func (s *Stats) AddBytesToClient(n int) {
	s.bytesToClient.Add(int64(n))
}

// ActiveSessions returns the current number of live sessions.
func (s *Stats) ActiveSessions() int64 { return s.activeSessions.Load() }

// TotalSessions returns the number of sessions started since process start.
func (s *Stats) TotalSessions() int64 { return s.totalSessions.Load() }

// BytesToOrigin returns total bytes forwarded client->origin.
func (s *Stats) BytesToOrigin() int64 { return s.bytesToOrigin.Load() }

// BytesToClient returns total bytes forwarded origin->client.
func (s *Stats) BytesToClient() int64 { return s.bytesToClient.Load() }
