package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransportStats is a point-in-time snapshot of connection counters.
type TransportStats struct {
	Connected      bool      `json:"connected"`
	ConnectedAt    time.Time `json:"connectedAt,omitempty"`
	FramesSent     int64     `json:"framesSent"`
	FramesReceived int64     `json:"framesReceived"`
	BytesSent      int64     `json:"bytesSent"`
	BytesReceived  int64     `json:"bytesReceived"`
	Reconnects     int64     `json:"reconnects"`
}

// Transport owns the websocket: dialing, the read pump, serialized writes,
// the keep-alive ticker and the bounded reconnect loop. Everything above it
// talks frames through the router and never sees the socket.
type Transport struct {
	cfg    *Config
	auth   *AuthState
	router *Router

	// onReconnected fires after a dropped connection is re-established, on
	// the reconnect goroutine. The client hooks state resynchronization here.
	onReconnected func(ctx context.Context)

	mu             sync.Mutex
	conn           *websocket.Conn
	done           chan struct{}
	closing        bool
	connectedAt    time.Time
	framesSent     int64
	framesReceived int64
	bytesSent      int64
	bytesReceived  int64
	reconnects     int64
}

func newTransport(cfg *Config, auth *AuthState, router *Router) *Transport {
	t := &Transport{cfg: cfg, auth: auth, router: router}
	router.RegisterHandler(ModuleSystem, CmdHeartbeat, t.handleHeartbeatEcho)
	return t
}

// Connect dials the gateway with the current credential and starts the read
// pump and keep-alive ticker. An existing connection is closed first.
func (t *Transport) Connect(ctx context.Context) error {
	token := t.auth.Token()
	if token == "" {
		return ErrUnauthenticated
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.wsURL(token), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.serverURL, err)
	}

	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	if t.done != nil {
		close(t.done)
	}
	t.conn = conn
	t.done = make(chan struct{})
	t.closing = false
	t.connectedAt = time.Now()
	done := t.done
	t.mu.Unlock()

	t.router.bind(t.writeFrame)
	logf(t.cfg, "WS: connected to %s", t.cfg.serverURL)

	go t.readLoop(ctx, conn)
	go t.heartbeatLoop(ctx, done)
	return nil
}

// Close shuts the connection down for good; the read pump will not attempt
// to reconnect.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.conn = nil
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	t.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	t.router.OnConnectionLost()
}

// Stats returns the connection counters.
func (t *Transport) Stats() TransportStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TransportStats{
		Connected:      t.conn != nil,
		FramesSent:     t.framesSent,
		FramesReceived: t.framesReceived,
		BytesSent:      t.bytesSent,
		BytesReceived:  t.bytesReceived,
		Reconnects:     t.reconnects,
	}
	if stats.Connected {
		stats.ConnectedAt = t.connectedAt
	}
	return stats
}

// writeFrame serializes one frame onto the socket. Writes are serialized
// under the transport mutex; gorilla allows one concurrent writer only.
func (t *Transport) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s:%s: %w", f.Module, f.Cmd, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	t.framesSent++
	t.bytesSent += int64(len(data))
	return nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(ctx, conn, err)
			return
		}

		t.mu.Lock()
		t.framesReceived++
		t.bytesReceived += int64(len(data))
		t.mu.Unlock()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logf(t.cfg, "WS: discarding undecodable frame: %v", err)
			continue
		}
		t.router.DispatchInbound(f)
	}
}

// handleDisconnect tears down router state and, for an abnormal drop while
// still signed in, retries the dial a bounded number of times at a fixed
// delay. A deliberate Close or a sign-out never reconnects.
func (t *Transport) handleDisconnect(ctx context.Context, conn *websocket.Conn, cause error) {
	t.mu.Lock()
	current := t.conn == conn
	if current {
		t.conn = nil
		if t.done != nil {
			close(t.done)
			t.done = nil
		}
	}
	closing := t.closing
	t.mu.Unlock()

	// A superseded connection's read pump dies quietly; the replacement is
	// already live.
	if !current && !closing {
		return
	}

	t.router.OnConnectionLost()

	if closing || websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		logf(t.cfg, "WS: connection closed")
		return
	}
	if !t.auth.Authenticated() {
		logf(t.cfg, "WS: dropped while signed out, not reconnecting")
		return
	}
	logf(t.cfg, "WS: connection lost: %v", cause)

	for attempt := 1; attempt <= t.cfg.reconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.reconnectDelay):
		}
		if !t.auth.Authenticated() {
			return
		}

		logf(t.cfg, "WS: reconnect attempt %d/%d", attempt, t.cfg.reconnectAttempts)
		if err := t.Connect(ctx); err != nil {
			logf(t.cfg, "WS: reconnect failed: %v", err)
			continue
		}

		t.mu.Lock()
		t.reconnects++
		t.mu.Unlock()

		if t.onReconnected != nil {
			t.onReconnected(ctx)
		}
		return
	}
	logf(t.cfg, "WS: giving up after %d reconnect attempts", t.cfg.reconnectAttempts)
}

type heartbeatPing struct {
	Timestamp int64 `json:"timestamp"`
}

// heartbeatLoop sends a keep-alive at the configured interval. The ping is
// fire-and-forget; the gateway echoes it with the same requestId, which by
// then is unknown to the pending table, so the echo falls through to the
// registered heartbeat handler below.
func (t *Transport) heartbeatLoop(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		_, err := t.router.SendRequest(Frame{
			Module: ModuleSystem,
			Cmd:    CmdHeartbeat,
			Data:   marshalData(heartbeatPing{Timestamp: time.Now().UnixMilli()}),
		}, &SendOptions{Fire: true})
		if err != nil {
			logf(t.cfg, "WS: heartbeat send failed: %v", err)
		}
	}
}

func (t *Transport) handleHeartbeatEcho(f Frame) error {
	now := time.Now()
	var ping heartbeatPing
	if err := f.decode(&ping); err != nil {
		return fmt.Errorf("heartbeat echo: %w", err)
	}

	var latency time.Duration
	if ping.Timestamp > 0 {
		latency = now.Sub(time.UnixMilli(ping.Timestamp))
		if latency < 0 {
			latency = 0
		}
	}
	t.router.noteHeartbeat(now, latency)
	return nil
}
