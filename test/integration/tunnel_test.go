//go:build integration

package integration

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/hirbodbehnam/wstunnel/internal/backend"
	"github.com/hirbodbehnam/wstunnel/internal/frontend"
	"github.com/hirbodbehnam/wstunnel/internal/tunnel"
)

// newOrigin starts a TCP echo server standing in for the private origin.
func newOrigin(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("origin listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					line, err := reader.ReadString('\n')
					if len(line) > 0 {
						if strings.TrimSpace(line) == "ping" {
							c.Write([]byte("pong\n"))
						} else {
							c.Write([]byte(line))
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// newFront wires the frontend handlers into an httptest.Server standing in
// for the intermediary's pass-through of /control and /connect, plus a real
// TCP acceptor for clients.
func newFront(t *testing.T) (controlConnectURL string, tcpAddr string, pending *tunnel.PendingRendezvous, controller *tunnel.ControllerHandle) {
	t.Helper()
	log := slog.Default()

	pending = tunnel.NewPendingRendezvous(tunnel.DefaultDataQueueSize, tunnel.DefaultPendingTTL)
	controller = tunnel.NewControllerHandle(tunnel.DefaultCommandQueueSize)
	stats := tunnel.NewStats()

	mux := http.NewServeMux()
	mux.Handle("/control", frontend.NewControllerHandler(controller, log))
	mux.Handle("/connect", frontend.NewConnectHandler(pending, stats, log))
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	acceptor, err := frontend.NewAcceptor("127.0.0.1:0", pending, controller, stats, log)
	if err != nil {
		t.Fatalf("acceptor: %v", err)
	}
	t.Cleanup(func() { acceptor.Listener.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go acceptor.Run(ctx)

	return httpSrv.URL, acceptor.Listener.Addr().String(), pending, controller
}

func newBack(t *testing.T, controlConnectURL, originAddr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := &backend.ControllerClient{
		ControlURL:     wsURL(controlConnectURL) + "/control",
		ConnectURL:     wsURL(controlConnectURL) + "/connect",
		OriginAddr:     originAddr,
		ReconnectDelay: backend.DefaultReconnectDelay,
		DialTimeout:    5 * time.Second,
		Stats:          tunnel.NewStats(),
		Log:            slog.Default(),
	}
	go client.Run(ctx)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestHappyPathSingleSession(t *testing.T) {
	originAddr := newOrigin(t)
	controlConnectURL, tcpAddr, pending, _ := newFront(t)
	newBack(t, controlConnectURL, originAddr)

	// Give the back time to bind /control before the client connects.
	time.Sleep(200 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", tcpAddr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial front tcp: %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.TrimSpace(line) != "pong" {
		t.Errorf("got %q, want pong", line)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if pending.Len() != 0 {
		t.Errorf("pending rendezvous should be empty after session, got %d", pending.Len())
	}
}

func TestConcurrentControllerRejection(t *testing.T) {
	controlConnectURL, _, _, controller := newFront(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA, _, err := websocket.Dial(ctx, wsURL(controlConnectURL)+"/control", nil)
	if err != nil {
		t.Fatalf("first controller dial: %v", err)
	}
	defer connA.CloseNow()

	time.Sleep(50 * time.Millisecond)
	if !controller.Bound() {
		t.Fatal("controller should be bound after first dial")
	}

	_, resp, err := websocket.Dial(ctx, wsURL(controlConnectURL)+"/control", nil)
	if err == nil {
		t.Fatal("expected second controller dial to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}

	if !controller.Bound() {
		t.Error("first controller should remain bound")
	}
}

func TestControllerAbsentAtAccept(t *testing.T) {
	_, tcpAddr, pending, _ := newFront(t)

	conn, err := net.DialTimeout("tcp", tcpAddr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	// No controller bound; front should drop the pending entry and close.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if err == nil {
		t.Fatal("expected connection to be closed")
	}

	time.Sleep(50 * time.Millisecond)
	if pending.Len() != 0 {
		t.Errorf("pending rendezvous should be empty, got %d", pending.Len())
	}
}

func TestUnknownIDOnConnect(t *testing.T) {
	controlConnectURL, _, _, _ := newFront(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(controlConnectURL)+"/connect", nil)
	if err != nil {
		t.Fatalf("dial /connect: %v", err)
	}
	defer conn.CloseNow()

	unknown := "00000000-0000-0000-0000-000000000000"
	if err := conn.Write(ctx, websocket.MessageText, []byte(unknown)); err != nil {
		t.Fatalf("write id: %v", err)
	}

	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("expected the front to close the socket on rendezvous miss")
	}
}
