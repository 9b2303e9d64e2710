package tunnel

import (
	"context"
	"sync"
	"time"
)

// DefaultDataQueueSize bounds each direction of a ConnectionPipe. Producers
// block once the queue is full; this is the tunnel's only form of
// backpressure on the front side, where the TCP socket and the WebSocket
// are owned by independent goroutines. Callers with a loaded config should
// pass cfg.Front.DataQueueSize to NewPendingRendezvous instead.
const DefaultDataQueueSize = 32

// DefaultPendingTTL bounds how long an entry may sit unclaimed in
// PendingRendezvous before the acceptor's reaper drops it and closes the
// stranded TCP connection (spec §9 open question: a stalled controller
// must not leak pending connections forever). Callers with a loaded config
// should pass cfg.Front.PendingTTL to NewPendingRendezvous instead.
const DefaultPendingTTL = 30 * time.Second

// ConnectionPipe is the rendezvous payload: two unidirectional byte queues
// bound to a single TCP connection on the front. The TCP acceptor
// constructs it; the front's /connect handler becomes the sole
// consumer/producer on the WebSocket side once it claims the pipe.
type ConnectionPipe struct {
	// ToSocket carries bytes produced by the WebSocket reader, consumed by
	// the TCP writer.
	ToSocket chan []byte
	// FromSocket carries bytes produced by the TCP reader, consumed by the
	// WebSocket writer.
	FromSocket chan []byte

	// ctx/cancel are shared by all four splice flows touching this pipe
	// (two owned by the TCP-side task, two by the WebSocket-side task).
	// The first flow to finish cancels ctx, which unblocks and tears down
	// the other three — the "first to finish cancels the rest" rule from
	// spec §4.4, spanning both tasks even though they're spawned at
	// different times (TCP side at accept, WebSocket side at claim).
	ctx    context.Context
	cancel context.CancelFunc

	registeredAt time.Time
}

// newConnectionPipe allocates a pipe with both queues bound to queueSize.
func newConnectionPipe(queueSize int) *ConnectionPipe {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionPipe{
		ToSocket:     make(chan []byte, queueSize),
		FromSocket:   make(chan []byte, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		registeredAt: time.Now(),
	}
}

// Done returns the channel that closes when any splice flow on this pipe
// has finished.
func (p *ConnectionPipe) Done() <-chan struct{} { return p.ctx.Done() }

// Cancel aborts the session: call when the TCP connection or the
// WebSocket terminates so the other side unblocks.
func (p *ConnectionPipe) Cancel() { p.cancel() }

// PendingRendezvous is the process-wide mapping on the front from
// ConnectionID to a ConnectionPipe awaiting its companion /connect
// WebSocket. Guarded by a single non-async-equivalent mutex, always
// released before any channel operation that can block.
type PendingRendezvous struct {
	mu        sync.Mutex
	entries   map[ConnectionID]*ConnectionPipe
	queueSize int
	ttl       time.Duration
}

// NewPendingRendezvous creates an empty rendezvous table whose pipes are
// bound to queueSize and whose entries expire after ttl. Pass
// cfg.Front.DataQueueSize and cfg.Front.PendingTTL from a loaded config;
// DefaultDataQueueSize/DefaultPendingTTL are available for callers without
// one (tests, health checks).
func NewPendingRendezvous(queueSize int, ttl time.Duration) *PendingRendezvous {
	return &PendingRendezvous{
		entries:   make(map[ConnectionID]*ConnectionPipe),
		queueSize: queueSize,
		ttl:       ttl,
	}
}

// Register creates a fresh ConnectionPipe for id and inserts it. Called by
// the TCP acceptor the instant a connection is accepted.
func (p *PendingRendezvous) Register(id ConnectionID) *ConnectionPipe {
	pipe := newConnectionPipe(p.queueSize)
	p.mu.Lock()
	p.entries[id] = pipe
	p.mu.Unlock()
	return pipe
}

// Claim removes and returns the pipe for id, if present. Called by the
// front's /connect handler when the companion WebSocket arrives.
func (p *PendingRendezvous) Claim(id ConnectionID) (*ConnectionPipe, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pipe, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return pipe, ok
}

// Drop removes id without returning its pipe. Called when dispatch to the
// controller fails (no controller bound) so the entry does not linger.
func (p *PendingRendezvous) Drop(id ConnectionID) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// Len reports the number of live, unclaimed entries. Used by the health
// endpoint and tests; never depended on for correctness.
func (p *PendingRendezvous) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ReapExpired drops entries older than the table's configured ttl,
// cancelling each pipe so its TCP-side goroutine's Done() watcher closes
// the stranded connection, and returns the dropped ids for logging.
// Intended to be run periodically from a single background goroutine;
// never holds the lock across anything but a map scan.
func (p *PendingRendezvous) ReapExpired() []ConnectionID {
	cutoff := time.Now().Add(-p.ttl)
	p.mu.Lock()
	var expired []ConnectionID
	var pipes []*ConnectionPipe
	for id, pipe := range p.entries {
		if pipe.registeredAt.Before(cutoff) {
			expired = append(expired, id)
			pipes = append(pipes, pipe)
			delete(p.entries, id)
		}
	}
	p.mu.Unlock()

	for _, pipe := range pipes {
		pipe.Cancel()
	}
	return expired
}
