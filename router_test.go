package main

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testToken(t *testing.T, userID int64) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   userID,
		"username": "tester",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return token
}

func testAuth(t *testing.T, userID int64) *AuthState {
	t.Helper()

	auth := newAuthState()
	if err := auth.SetToken(testToken(t, userID)); err != nil {
		t.Fatalf("set token: %v", err)
	}

	return auth
}

// capturingSend records outbound frames and lets tests answer them.
type capturingSend struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *capturingSend) send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *capturingSend) sent() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Frame(nil), s.frames...)
}

func newTestRouter(t *testing.T) (*Router, *capturingSend) {
	t.Helper()

	sender := &capturingSend{}
	router := newRouter(&Config{requestTimeout: time.Second}, testAuth(t, 7))
	router.bind(sender.send)

	return router, sender
}

func TestSendRequestNotConnected(t *testing.T) {
	router := newRouter(&Config{requestTimeout: time.Second}, testAuth(t, 7))

	if _, err := router.SendRequest(Frame{Module: ModuleHall, Cmd: CmdOnlineList}, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if router.Pending() != 0 {
		t.Fatalf("expected no pending exchanges, got %d", router.Pending())
	}
}

func TestSendRequestUnauthenticated(t *testing.T) {
	sender := &capturingSend{}
	router := newRouter(&Config{requestTimeout: time.Second}, newAuthState())
	router.bind(sender.send)

	if _, err := router.SendRequest(Frame{Module: ModuleHall, Cmd: CmdOnlineList}, nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if len(sender.sent()) != 0 {
		t.Fatal("nothing should have been transmitted")
	}
}

func TestSendRequestCorrelatesOutOfOrder(t *testing.T) {
	router, sender := newTestRouter(t)

	type result struct {
		frame Frame
		err   error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)

	go func() {
		f, err := router.SendRequest(Frame{Module: ModuleRoom, Cmd: CmdRoomJoin}, nil)
		first <- result{f, err}
	}()
	go func() {
		f, err := router.SendRequest(Frame{Module: ModuleRoom, Cmd: CmdRoomLeave}, nil)
		second <- result{f, err}
	}()

	var sent []Frame
	deadline := time.Now().Add(time.Second)
	for len(sent) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames transmitted", len(sent))
		}
		sent = sender.sent()
		time.Sleep(time.Millisecond)
	}

	// Answer in reverse order; each caller must still get its own response.
	for i := len(sent) - 1; i >= 0; i-- {
		router.DispatchInbound(Frame{
			RequestID: sent[i].RequestID,
			Module:    sent[i].Module,
			Cmd:       sent[i].Cmd,
			Code:      CodeSuccess,
			Msg:       "success",
		})
	}

	expect := map[chan result]string{first: CmdRoomJoin, second: CmdRoomLeave}
	for ch, cmd := range expect {
		select {
		case res := <-ch:
			if res.err != nil {
				t.Fatalf("exchange failed: %v", res.err)
			}
			if res.frame.Cmd != cmd {
				t.Fatalf("caller for %s received response for %s", cmd, res.frame.Cmd)
			}
		case <-time.After(time.Second):
			t.Fatal("exchange never settled")
		}
	}

	if router.Pending() != 0 {
		t.Fatalf("expected empty pending table, got %d", router.Pending())
	}
}

func TestSendRequestTimeout(t *testing.T) {
	router, _ := newTestRouter(t)

	start := time.Now()
	_, err := router.SendRequest(Frame{Module: ModuleHall, Cmd: CmdOnlineList}, &SendOptions{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	if router.Pending() != 0 {
		t.Fatalf("expired exchange still pending")
	}
}

func TestFireAndForgetSkipsPendingTable(t *testing.T) {
	router, sender := newTestRouter(t)

	f, err := router.SendRequest(Frame{Module: ModuleRoom, Cmd: CmdSignalOffer}, &SendOptions{Fire: true})
	if err != nil {
		t.Fatalf("fire-and-forget failed: %v", err)
	}
	if f.RequestID == "" {
		t.Fatal("fire-and-forget frame should still carry a request id")
	}
	if router.Pending() != 0 {
		t.Fatalf("fire-and-forget created a pending exchange")
	}
	if len(sender.sent()) != 1 {
		t.Fatalf("expected 1 transmitted frame, got %d", len(sender.sent()))
	}
}

func TestDispatchPrefersPendingOverHandler(t *testing.T) {
	router, sender := newTestRouter(t)

	handled := make(chan Frame, 1)
	router.RegisterHandler(ModuleRoom, CmdRoomJoin, func(f Frame) error {
		handled <- f
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := router.SendRequest(Frame{Module: ModuleRoom, Cmd: CmdRoomJoin}, nil)
		done <- err
	}()

	var sent []Frame
	deadline := time.Now().Add(time.Second)
	for len(sent) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never transmitted")
		}
		sent = sender.sent()
		time.Sleep(time.Millisecond)
	}

	router.DispatchInbound(Frame{
		RequestID: sent[0].RequestID,
		Module:    ModuleRoom,
		Cmd:       CmdRoomJoin,
		Code:      CodeSuccess,
	})

	if err := <-done; err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	select {
	case <-handled:
		t.Fatal("response frame also reached the notification handler")
	case <-time.After(50 * time.Millisecond):
	}

	// The same command without a pending id routes to the handler.
	router.DispatchInbound(Frame{Module: ModuleRoom, Cmd: CmdRoomJoin, Code: CodeSuccess})
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("notification never reached the handler")
	}
}

func TestDispatchDropsUnroutableFrames(t *testing.T) {
	router, _ := newTestRouter(t)

	// Unknown module, unknown command, unknown request id: all dropped
	// without panicking and without touching state.
	router.DispatchInbound(Frame{Module: "BOGUS", Cmd: CmdOnlineList})
	router.DispatchInbound(Frame{Module: ModuleHall, Cmd: "NO_SUCH_CMD"})
	router.DispatchInbound(Frame{RequestID: "req_unknown", Module: ModuleHall, Cmd: CmdOnlineList})

	if router.Pending() != 0 || router.LastError() != "" {
		t.Fatal("dropped frames must not leave state behind")
	}
}

func TestRegisterHandlerLastWriterWins(t *testing.T) {
	router, _ := newTestRouter(t)

	calls := make(chan string, 2)
	router.RegisterHandler(ModuleHall, CmdOnlineList, func(Frame) error {
		calls <- "first"
		return nil
	})
	router.RegisterHandler(ModuleHall, CmdOnlineList, func(Frame) error {
		calls <- "second"
		return nil
	})

	router.DispatchInbound(Frame{Module: ModuleHall, Cmd: CmdOnlineList})

	select {
	case who := <-calls:
		if who != "second" {
			t.Fatalf("expected replacement handler, got %q", who)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestHandlerErrorRecordedNotFatal(t *testing.T) {
	router, _ := newTestRouter(t)

	router.RegisterHandler(ModuleHall, CmdOnlineList, func(Frame) error {
		return errors.New("decode exploded")
	})

	router.DispatchInbound(Frame{Module: ModuleHall, Cmd: CmdOnlineList})
	if router.LastError() == "" {
		t.Fatal("handler failure should be recorded")
	}

	// The loop keeps dispatching afterwards.
	ok := make(chan struct{}, 1)
	router.RegisterHandler(ModuleRoom, CmdRoomUpdate, func(Frame) error {
		ok <- struct{}{}
		return nil
	})
	router.DispatchInbound(Frame{Module: ModuleRoom, Cmd: CmdRoomUpdate})
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("dispatch stopped after a handler error")
	}
}

func TestConnectionLostRejectsAllPending(t *testing.T) {
	router, sender := newTestRouter(t)

	const inflight = 3
	done := make(chan error, inflight)
	for i := 0; i < inflight; i++ {
		go func() {
			_, err := router.SendRequest(Frame{Module: ModuleHall, Cmd: CmdOnlineList}, nil)
			done <- err
		}()
	}

	deadline := time.Now().Add(time.Second)
	for len(sender.sent()) < inflight {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames transmitted", len(sender.sent()))
		}
		time.Sleep(time.Millisecond)
	}

	handled := make(chan struct{}, 1)
	router.RegisterHandler(ModuleHall, CmdOnlineList, func(Frame) error {
		handled <- struct{}{}
		return nil
	})

	sent := sender.sent()
	router.OnConnectionLost()

	for i := 0; i < inflight; i++ {
		select {
		case err := <-done:
			if !errors.Is(err, ErrConnectionLost) {
				t.Fatalf("expected ErrConnectionLost, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("pending exchange never rejected")
		}
	}
	if router.Connected() {
		t.Fatal("router should be detached")
	}

	// A straggler response for a rejected exchange now routes like any other
	// frame: its id is unknown, so the registered handler receives it.
	router.DispatchInbound(Frame{RequestID: sent[0].RequestID, Module: ModuleHall, Cmd: CmdOnlineList})
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("straggler frame was not handler-routed")
	}
}
