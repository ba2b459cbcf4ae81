package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testGateway is an in-process websocket server standing in for the game
// gateway.
type testGateway struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	tokens  []string
	onFrame func(g *testGateway, conn *websocket.Conn, f Frame)
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	g := &testGateway{t: t}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.tokens = append(g.tokens, r.URL.Query().Get("token"))
		g.mu.Unlock()

		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			g.mu.Lock()
			onFrame := g.onFrame
			g.mu.Unlock()
			if onFrame != nil {
				onFrame(g, conn, f)
			}
		}
	}))
	t.Cleanup(g.server.Close)

	return g
}

func (g *testGateway) write(conn *websocket.Conn, f Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := conn.WriteJSON(f); err != nil {
		g.t.Logf("gateway write: %v", err)
	}
}

func (g *testGateway) connCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.conns)
}

func (g *testGateway) conn(i int) *websocket.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i >= len(g.conns) {
		return nil
	}
	return g.conns[i]
}

func (g *testGateway) lastToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.tokens) == 0 {
		return ""
	}
	return g.tokens[len(g.tokens)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestTransport(t *testing.T, g *testGateway) (*Transport, *Router, *AuthState, *Config) {
	t.Helper()

	cfg := &Config{
		serverURL:         g.server.URL,
		heartbeat:         time.Hour,
		reconnectAttempts: 3,
		reconnectDelay:    20 * time.Millisecond,
		requestTimeout:    time.Second,
	}
	auth := testAuth(t, 7)
	router := newRouter(cfg, auth)
	transport := newTransport(cfg, auth, router)
	t.Cleanup(transport.Close)

	return transport, router, auth, cfg
}

func TestConnectCarriesToken(t *testing.T) {
	g := newTestGateway(t)
	transport, router, auth, _ := newTestTransport(t, g)

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "handshake", func() bool { return g.connCount() == 1 })
	if g.lastToken() != auth.Token() {
		t.Fatal("handshake did not carry the bearer token")
	}
	if !router.Connected() {
		t.Fatal("router not bound after connect")
	}
}

func TestRequestResponseOverSocket(t *testing.T) {
	g := newTestGateway(t)
	g.onFrame = func(g *testGateway, conn *websocket.Conn, f Frame) {
		g.write(conn, Frame{
			RequestID: f.RequestID,
			Module:    f.Module,
			Cmd:       f.Cmd,
			Code:      CodeSuccess,
			Msg:       "success",
		})
	}
	transport, router, _, _ := newTestTransport(t, g)

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	res, err := router.SendRequest(Frame{Module: ModuleHall, Cmd: CmdOnlineList}, nil)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if res.Code != CodeSuccess || res.Cmd != CmdOnlineList {
		t.Fatalf("unexpected response: %+v", res)
	}

	stats := transport.Stats()
	if stats.FramesSent == 0 || stats.FramesReceived == 0 || stats.BytesSent == 0 {
		t.Fatalf("counters not updated: %+v", stats)
	}
}

func TestHeartbeatEchoMeasuresLatency(t *testing.T) {
	g := newTestGateway(t)
	g.onFrame = func(g *testGateway, conn *websocket.Conn, f Frame) {
		if f.Module == ModuleSystem && f.Cmd == CmdHeartbeat {
			g.write(conn, f)
		}
	}
	transport, router, _, cfg := newTestTransport(t, g)
	cfg.heartbeat = 30 * time.Millisecond

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "heartbeat echo", func() bool {
		at, _ := router.HeartbeatStats()
		return !at.IsZero()
	})
	if router.Pending() != 0 {
		t.Fatal("heartbeat echo must not touch the pending table")
	}
}

func TestPushNotificationRouted(t *testing.T) {
	g := newTestGateway(t)
	transport, router, _, _ := newTestTransport(t, g)

	received := make(chan Frame, 1)
	router.RegisterHandler(ModuleRoom, CmdRoomUpdate, func(f Frame) error {
		received <- f
		return nil
	})

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "handshake", func() bool { return g.connCount() == 1 })

	g.write(g.conn(0), Frame{Module: ModuleRoom, Cmd: CmdRoomUpdate, Code: CodeSuccess})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("push notification never reached the handler")
	}
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	g := newTestGateway(t)
	transport, router, _, _ := newTestTransport(t, g)

	reconnected := make(chan struct{}, 1)
	transport.onReconnected = func(ctx context.Context) {
		reconnected <- struct{}{}
	}

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "handshake", func() bool { return g.connCount() == 1 })

	done := make(chan error, 1)
	go func() {
		_, err := router.SendRequest(Frame{Module: ModuleHall, Cmd: CmdOnlineList}, &SendOptions{Timeout: 5 * time.Second})
		done <- err
	}()
	waitFor(t, "in-flight request", func() bool { return router.Pending() == 1 })

	// Kill the socket without a close handshake.
	g.conn(0).Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request never rejected")
	}

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never reconnected")
	}
	if g.connCount() != 2 {
		t.Fatalf("expected a second connection, got %d", g.connCount())
	}
	if !router.Connected() {
		t.Fatal("router not rebound after reconnect")
	}
}

func TestCloseNeverReconnects(t *testing.T) {
	g := newTestGateway(t)
	transport, router, _, cfg := newTestTransport(t, g)

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "handshake", func() bool { return g.connCount() == 1 })

	transport.Close()

	time.Sleep(3 * cfg.reconnectDelay)
	if g.connCount() != 1 {
		t.Fatal("deliberate close must not reconnect")
	}
	if router.Connected() {
		t.Fatal("router still bound after close")
	}
}

func TestSignOutStopsReconnect(t *testing.T) {
	g := newTestGateway(t)
	transport, _, auth, cfg := newTestTransport(t, g)

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "handshake", func() bool { return g.connCount() == 1 })

	auth.Clear()
	g.conn(0).Close()

	time.Sleep(3 * cfg.reconnectDelay)
	if g.connCount() != 1 {
		t.Fatal("signed-out client must not reconnect")
	}
}
