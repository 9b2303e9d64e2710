package tunnel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/coder/websocket"
)

// readBufferSize is the fixed per-direction TCP read buffer. Each read
// result becomes one binary WebSocket message: on the front it is copied
// into an owned byte slice before being enqueued, and on the back the
// buffer slice is sent directly before the next read.
const readBufferSize = 32 * 1024

// RunSocketSide owns the TCP half of a front session: it runs flows F3
// (pipe.ToSocket -> TCP write) and F4 (TCP read -> pipe.FromSocket)
// concurrently. It is started immediately after accept and is allowed to
// begin reading before any WebSocket has claimed the pipe — produced bytes
// back up in FromSocket's bounded queue until then. Returns once the
// session has ended (by either half) and the TCP connection is closed.
func RunSocketSide(conn net.Conn, pipe *ConnectionPipe, stats *Stats, log *slog.Logger) {
	defer conn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer pipe.Cancel()
		toSocketLoop(pipe.ctx, conn, pipe.ToSocket, log)
	}()
	go func() {
		defer wg.Done()
		defer pipe.Cancel()
		socketToPipeLoop(pipe.ctx, conn, pipe.FromSocket, stats, log)
	}()

	// Unblocks the blocking conn.Read/Write above the instant the other
	// half of the session (the WebSocket side) finishes first.
	go func() {
		<-pipe.Done()
		conn.Close()
	}()

	wg.Wait()
}

// RunWebSocketSide owns the WebSocket half of a front session, claimed by
// the /connect handler: it runs WS-receive -> pipe.ToSocket and
// pipe.FromSocket -> WS-send concurrently, ending the session (and the
// other half) the moment either finishes.
func RunWebSocketSide(ws *websocket.Conn, pipe *ConnectionPipe, stats *Stats, log *slog.Logger) {
	defer ws.Close(websocket.StatusNormalClosure, "")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer pipe.Cancel()
		wsToPipeLoop(pipe.ctx, ws, pipe.ToSocket, stats, log)
	}()
	go func() {
		defer wg.Done()
		defer pipe.Cancel()
		pipeToWSLoop(pipe.ctx, ws, pipe.FromSocket, log)
	}()

	go func() {
		<-pipe.Done()
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	wg.Wait()
}

// SpliceDirect runs the back side's splice: the WebSocket and the TCP
// connection are co-located in one task, so the four logical flows reduce
// to two physically-running loops (F1: WS receive -> TCP write, F2: TCP
// read -> WS send) coupled by a local cancellation context instead of an
// intermediate ConnectionPipe.
func SpliceDirect(parent context.Context, ws *websocket.Conn, conn net.Conn, stats *Stats, log *slog.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		directWSToTCP(ctx, ws, conn, stats, log)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		directTCPToWS(ctx, conn, ws, stats, log)
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	wg.Wait()
}

// toSocketLoop implements F3: drain pipe.ToSocket and write each chunk to
// the TCP connection, until the channel closes, a write fails, or ctx is
// cancelled by the other flows. Bytes in this direction are already
// counted by wsToPipeLoop, which produced them.
func toSocketLoop(ctx context.Context, conn net.Conn, toSocket <-chan []byte, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-toSocket:
			if !ok {
				return
			}
			if _, err := conn.Write(data); err != nil {
				log.Debug("tcp write failed", "error", err)
				return
			}
		}
	}
}

// socketToPipeLoop implements F4: read from the TCP connection into a
// fixed buffer and enqueue an owned copy onto pipe.FromSocket. A
// zero-length read accompanied by EOF (or io.EOF itself) ends the flow.
func socketToPipeLoop(ctx context.Context, conn net.Conn, fromSocket chan<- []byte, stats *Stats, log *slog.Logger) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case fromSocket <- data:
				stats.AddBytesToOrigin(n)
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("tcp read failed", "error", err)
			}
			return
		}
	}
}

// wsToPipeLoop implements the front-side half of F1: read frames off the
// WebSocket and enqueue binary payloads onto pipe.ToSocket. Text frames
// and pings are ignored; a Close frame (surfaced as a Read error by
// coder/websocket) ends the flow. This is the origin->client direction,
// so bytes are counted here rather than where toSocketLoop writes them.
func wsToPipeLoop(ctx context.Context, ws *websocket.Conn, toSocket chan<- []byte, stats *Stats, log *slog.Logger) {
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			log.Debug("websocket read stopped", "error", err)
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		select {
		case toSocket <- data:
			stats.AddBytesToClient(len(data))
		case <-ctx.Done():
			return
		}
	}
}

// pipeToWSLoop implements the front-side half of F2: drain
// pipe.FromSocket and send each chunk as one binary frame. Bytes in this
// (client->origin) direction are already counted by socketToPipeLoop.
func pipeToWSLoop(ctx context.Context, ws *websocket.Conn, fromSocket <-chan []byte, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-fromSocket:
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageBinary, data); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// directWSToTCP implements back-side F1 directly: WebSocket binary frames
// (client->origin bytes relayed from the front) are written straight to
// the origin TCP connection, no intermediate queue.
func directWSToTCP(ctx context.Context, ws *websocket.Conn, conn net.Conn, stats *Stats, log *slog.Logger) {
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			log.Debug("websocket read stopped", "error", err)
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		if _, err := conn.Write(data); err != nil {
			log.Debug("tcp write failed", "error", err)
			return
		}
		stats.AddBytesToOrigin(len(data))
	}
}

// directTCPToWS implements back-side F2 directly: TCP reads are sent
// straight out as binary WebSocket frames.
func directTCPToWS(ctx context.Context, conn net.Conn, ws *websocket.Conn, stats *Stats, log *slog.Logger) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := ws.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
				log.Debug("websocket write failed", "error", werr)
				return
			}
			stats.AddBytesToClient(n)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("tcp read failed", "error", err)
			}
			return
		}
	}
}
