package tunnel

import "sync"

// DefaultCommandQueueSize bounds the number of ControllerCommands buffered
// for the active /control WebSocket writer before the TCP acceptor's
// dispatch blocks (backpressure, by design — see spec §4.1). Callers with
// a loaded config should pass cfg.Front.CommandQueueSize to
// NewControllerHandle instead.
const DefaultCommandQueueSize = 10

// ControllerCommand is the tagged set of messages the front may push down
// the control channel. NewConnection is the only variant today; additional
// variants are expected to be added by prefixing a discriminator to the
// wire encoding (see Encode) rather than by introducing new frame types.
type ControllerCommand struct {
	NewConnection ConnectionID
}

// Encode serializes a command as the text frame body sent on /control.
// A bare canonical UUID means "new connection"; future command kinds
// should add a "kind:payload" prefix so the wire format stays inspectable
// without protocol renegotiation.
func (c ControllerCommand) Encode() string {
	return c.NewConnection.String()
}

// DecodeControllerCommand parses a /control text frame body back into a
// command. Today this only recognizes a bare ConnectionID.
func DecodeControllerCommand(body string) (ControllerCommand, error) {
	id, err := ParseConnectionID(body)
	if err != nil {
		return ControllerCommand{}, err
	}
	return ControllerCommand{NewConnection: id}, nil
}

// binding pairs the command queue with a done signal closed when its
// controller session ends, so a Dispatch racing an Unbind never blocks
// forever on an abandoned channel.
type binding struct {
	queue chan ControllerCommand
	done  chan struct{}
}

// ControllerHandle is the process-wide, at-most-one sender endpoint of the
// bounded command queue feeding the active /control WebSocket writer.
type ControllerHandle struct {
	mu        sync.Mutex
	current   *binding
	queueSize int
}

// NewControllerHandle returns an unbound handle whose command queue is
// bound to queueSize. Pass cfg.Front.CommandQueueSize from a loaded
// config; DefaultCommandQueueSize is available for callers without one.
func NewControllerHandle(queueSize int) *ControllerHandle {
	return &ControllerHandle{queueSize: queueSize}
}

// Bind installs a fresh command queue if none is bound, returning the
// receive end for the /control writer loop to drain. The second return
// value is false if a controller is already bound (the caller must then
// respond 409 without installing anything).
func (h *ControllerHandle) Bind() (<-chan ControllerCommand, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		return nil, false
	}
	b := &binding{
		queue: make(chan ControllerCommand, h.queueSize),
		done:  make(chan struct{}),
	}
	h.current = b
	return b.queue, true
}

// Unbind clears the handle so a fresh controller may bind, and wakes up any
// Dispatch currently blocked on the abandoned queue. Safe to call even if
// nothing is bound.
func (h *ControllerHandle) Unbind() {
	h.mu.Lock()
	b := h.current
	h.current = nil
	h.mu.Unlock()
	if b != nil {
		close(b.done)
	}
}

// snapshot returns the current binding, or nil if unbound. Takes the lock
// and releases it before the caller ever sends, per the
// read-snapshot-then-release pattern.
func (h *ControllerHandle) snapshot() *binding {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Dispatch enqueues cmd onto the bound controller's command queue. Returns
// false if no controller is currently bound, or if the controller unbinds
// while the dispatch was waiting for queue capacity. If a controller is
// bound, Dispatch blocks on queue capacity (backpressure propagates to the
// TCP acceptor by design).
func (h *ControllerHandle) Dispatch(cmd ControllerCommand) bool {
	b := h.snapshot()
	if b == nil {
		return false
	}
	select {
	case b.queue <- cmd:
		return true
	case <-b.done:
		return false
	}
}

// Bound reports whether a controller is currently bound. Best-effort,
// racy by nature (the binding can change the instant after this returns) —
// used only for health reporting, never for correctness decisions.
func (h *ControllerHandle) Bound() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}
